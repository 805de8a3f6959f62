package moment

import (
	"math"
	"sort"
	"time"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// Moment is the canvas state right after Tx was rendered. Tiles holds only
// the chunks that changed since the previous moment (or, after compaction,
// since the previous retained one).
type Moment struct {
	Tx     txn.Identity
	Time   int
	Width  int
	Height int
	Tiles  map[Chunk]TileID
}

func (m *Moment) Covers(c Chunk, shift int) bool {
	cols, rows := Grid(m.Width, m.Height, shift)
	return c.Col() < cols && c.Row() < rows
}

type Options struct {
	ChunkShift int
	// canvas size before the first transaction
	Width  int
	Height int
	// tiles restored per deadline check in RollbackSlice
	RedrawBatch int
}

func (o *Options) SetDefaults() {
	if o.ChunkShift == 0 {
		o.ChunkShift = 6
	}
	if o.Width == 0 {
		o.Width = 1024
	}
	if o.Height == 0 {
		o.Height = 768
	}
	if o.RedrawBatch == 0 {
		o.RedrawBatch = 16
	}
}

type redraw struct {
	chunk Chunk
	tile  TileID
}

type Store struct {
	opts    Options
	pool    *Pool
	tracker *ChangeTracker
	canvas  *canvas.Canvas
	log     *txlog.Log
	logger  utils.Logger

	moments []*Moment
	queue   []redraw
}

// NewStore attaches a store to a canvas and its log; the canvas reports
// its changes to the store's tracker from now on.
func NewStore(c *canvas.Canvas, l *txlog.Log, logger utils.Logger, opts Options) *Store {
	opts.SetDefaults()
	s := &Store{
		opts:    opts,
		pool:    NewPool(opts.ChunkShift),
		tracker: NewChangeTracker(opts.ChunkShift),
		canvas:  c,
		log:     l,
		logger:  logger,
	}
	c.SetTracker(s.tracker)
	return s
}

func (s *Store) Options() Options {
	return s.opts
}

func (s *Store) Pool() *Pool {
	return s.pool
}

func (s *Store) Tracker() *ChangeTracker {
	return s.tracker
}

func (s *Store) CanvasSize() (w, h int) {
	return s.canvas.Size()
}

func (s *Store) Moments() []*Moment {
	return s.moments
}

func (s *Store) NewChunk() TileID {
	return s.pool.NewChunk()
}

func (s *Store) RecycleChunk(id TileID) {
	s.pool.RecycleChunk(id)
}

// Redrawing reports tiles still waiting to be restored.
func (s *Store) Redrawing() bool {
	return len(s.queue) > 0
}

func (s *Store) release(m *Moment) {
	for _, id := range m.Tiles {
		s.pool.RecycleChunk(id)
	}
	m.Tiles = nil
}

// Snapshot records a moment at the current render cursor. It refuses while
// a rollback is being redrawn or nothing was rendered yet.
func (s *Store) Snapshot() bool {
	if s.Redrawing() {
		return false
	}
	last, ok := s.log.LastRendered()
	if !ok {
		return false
	}
	if n := len(s.moments); n > 0 && s.moments[n-1].Tx == last.ID() && s.tracker.Len() == 0 {
		return false
	}
	w, h := s.canvas.Size()
	m := &Moment{
		Tx:     last.ID(),
		Time:   s.log.Rendered(),
		Width:  w,
		Height: h,
		Tiles:  make(map[Chunk]TileID, s.tracker.Len()),
	}
	for _, c := range s.tracker.Chunks() {
		if !m.Covers(c, s.opts.ChunkShift) {
			continue
		}
		id := s.pool.NewChunk()
		s.canvas.ReadTile(c.Col(), c.Row(), s.opts.ChunkShift, s.pool.Tile(id))
		m.Tiles[c] = id
	}
	s.tracker.Clear()
	s.moments = append(s.moments, m)
	s.compact()
	return true
}

// keep decides whether a moment of the given age survives when the last
// retained moment is gap steps behind now.
func keep(gap, age int) bool {
	return float64(gap) > float64(age)*math.Log10(float64(age)+1)/2
}

// compact thins older moments logarithmically. A dropped moment hands its
// tiles to its successor unless the successor has a newer tile for the
// same chunk. The newest moment always stays.
func (s *Store) compact() {
	if len(s.moments) < 2 {
		return
	}
	now := s.log.Rendered()
	lastKept := 0
	kept := s.moments[:0]
	for i, m := range s.moments {
		if i == len(s.moments)-1 {
			kept = append(kept, m)
			break
		}
		if keep(now-lastKept, now-m.Time) {
			kept = append(kept, m)
			lastKept = m.Time
			continue
		}
		merge(s.pool, m, s.moments[i+1])
	}
	clear(s.moments[len(kept):])
	s.moments = kept
}

func merge(pool *Pool, from, into *Moment) {
	for c, id := range from.Tiles {
		if _, ok := into.Tiles[c]; ok || !into.Covers(c, pool.Shift()) {
			pool.RecycleChunk(id)
			continue
		}
		into.Tiles[c] = id
	}
	from.Tiles = nil
}

// RollbackTo restores the canvas to a state at or before log position pos,
// i.e. before the record now at pos was rendered. The tiles are queued;
// RollbackSlice paints them.
func (s *Store) RollbackTo(pos int) {
	if pos <= 0 || s.log.Len() == 0 {
		s.Rollback(nil)
		return
	}
	if pos > s.log.Len() {
		pos = s.log.Len()
	}
	target := s.log.At(pos - 1).ID()
	s.Rollback(&target)
}

// Rollback discards moments newer than target and queues the restoration
// of every chunk changed after the newest retained moment. With no target,
// or nothing retained, the canvas goes back to blank at the initial size.
func (s *Store) Rollback(target *txn.Identity) {
	cut := 0
	if target != nil {
		cut = sort.Search(len(s.moments), func(i int) bool {
			return s.moments[i].Tx.Compare(*target) > 0
		})
	}
	// a retained moment must still be anchored in the log
	pos := 0
	for cut > 0 {
		p, found := s.log.Search(s.moments[cut-1].Tx)
		if found {
			pos = p + 1
			break
		}
		cut--
	}

	touched := make(map[Chunk]struct{}, s.tracker.Len()+len(s.queue))
	for _, m := range s.moments[cut:] {
		for c := range m.Tiles {
			touched[c] = struct{}{}
		}
		s.release(m)
	}
	clear(s.moments[cut:])
	s.moments = s.moments[:cut]
	for _, r := range s.queue {
		touched[r.chunk] = struct{}{}
	}
	s.queue = s.queue[:0]

	if cut == 0 {
		s.canvas.Reset(s.opts.Width, s.opts.Height)
		s.tracker.Clear()
		s.log.SetRendered(0)
		s.logger.Debug("moment: rollback to blank", "width", s.opts.Width, "height", s.opts.Height)
		return
	}

	retained := s.moments[cut-1]
	// resizing back marks the edge chunks on the tracker
	s.canvas.Resize(retained.Width, retained.Height)
	for c := range s.tracker.dirty {
		touched[c] = struct{}{}
	}
	s.tracker.Clear()

	chunks := make([]Chunk, 0, len(touched))
	for c := range touched {
		if retained.Covers(c, s.opts.ChunkShift) {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })
	for _, c := range chunks {
		s.queue = append(s.queue, redraw{chunk: c, tile: s.lookup(c)})
	}
	s.log.SetRendered(pos)
	s.logger.Debug("moment: rollback", "tx", retained.Tx.String(), "rendered", pos, "tiles", len(s.queue))
}

// lookup finds the newest retained tile for c, or the blank tile.
func (s *Store) lookup(c Chunk) TileID {
	for i := len(s.moments) - 1; i >= 0; i-- {
		if id, ok := s.moments[i].Tiles[c]; ok {
			return id
		}
	}
	return s.pool.Blank()
}

// RollbackSlice restores queued tiles in batches until the queue is empty
// or the deadline passes. It reports whether the redraw is complete.
func (s *Store) RollbackSlice(deadline time.Time) bool {
	for len(s.queue) > 0 {
		n := min(s.opts.RedrawBatch, len(s.queue))
		for _, r := range s.queue[:n] {
			s.canvas.WriteTile(r.chunk.Col(), r.chunk.Row(), s.opts.ChunkShift, s.pool.Tile(r.tile))
		}
		s.queue = s.queue[n:]
		if !time.Now().Before(deadline) {
			break
		}
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return len(s.queue) == 0
}

// Install replaces the moment list, typically with moments decoded from a
// sync reply. The moments' tiles must come from this store's pool.
func (s *Store) Install(moments []*Moment) {
	for _, m := range s.moments {
		s.release(m)
	}
	s.moments = append(s.moments[:0], moments...)
	s.queue = nil
}

// Reset drops all moments and pending redraws; the canvas is left alone.
func (s *Store) Reset() {
	s.Install(nil)
	s.tracker.Clear()
}
