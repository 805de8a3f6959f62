// Package client runs one replica of a room canvas: it merges incoming
// records, rolls back and repaints on desync, snapshots, and batches the
// local edits for the relay once the join handshake is done.
package client

import (
	"context"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/moment"
	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/paint"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/syncproto"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

type Options struct {
	Logger  utils.Logger
	Painter paint.Painter
	Moments moment.Options
	// wall time between snapshots
	SnapshotInterval time.Duration
	// paint budget per Tick
	FrameBudget time.Duration
	// identity generator seed, zero means time based
	Seed int64
}

func (o *Options) SetDefaults() {
	if o.Painter == nil {
		o.Painter = paint.Reference{}
	}
	if o.SnapshotInterval == 0 {
		o.SnapshotInterval = time.Second
	}
	if o.FrameBudget == 0 {
		o.FrameBudget = 8 * time.Millisecond
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	o.Moments.SetDefaults()
}

// Session is safe for use from a transport goroutine and a render loop at
// once; every method takes the session lock.
type Session struct {
	mu   sync.Mutex
	opts Options
	log  utils.Logger

	canvas *canvas.Canvas
	txlog  *txlog.Log
	store  *moment.Store
	driver *paint.Driver
	joiner *syncproto.Joiner
	gen    *txn.Generator

	lastSnap time.Time
	control  [][]byte
	presence [][]byte
	cursor   []byte
	// latest own color and name frames, repeated on every new connection
	color []byte
	name  []byte
	members  map[byte]protocol.Member
	cursors  map[byte]txn.Point
}

func NewSession(opts Options) *Session {
	opts.SetDefaults()
	s := &Session{
		opts:    opts,
		log:     opts.Logger,
		canvas:  canvas.New(opts.Moments.Width, opts.Moments.Height),
		joiner:  syncproto.NewJoiner(opts.Logger),
		gen:     txn.NewGenerator(opts.Seed),
		members: make(map[byte]protocol.Member),
		cursors: make(map[byte]txn.Point),
	}
	s.txlog = txlog.New(opts.Logger)
	s.store = moment.NewStore(s.canvas, s.txlog, opts.Logger, opts.Moments)
	s.driver = paint.NewDriver(opts.Painter, s.canvas, s.txlog)
	return s
}

func (s *Session) State() syncproto.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joiner.State()
}

// User is the relay-assigned id, valid once the welcome arrived.
func (s *Session) User() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joiner.User()
}

// rejoin prepares the session for a fresh connection: the next frame is
// read as a welcome and the handshake runs again. The log, the canvas and
// the unsent local edits survive; the roster is rebuilt by the relay.
func (s *Session) rejoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joiner.State() != syncproto.AwaitWelcome {
		Reconnects.Inc()
		s.log.Info("client: rejoining", "user", s.joiner.User(), "log", s.txlog.Len())
	}
	s.joiner.Reset()
	s.control, s.cursor = nil, nil
	s.presence = s.presence[:0]
	for _, frame := range [][]byte{s.color, s.name} {
		if frame != nil {
			s.presence = append(s.presence, frame)
		}
	}
	clear(s.members)
	clear(s.cursors)
}

// Receive handles one frame from the relay.
func (s *Session) Receive(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	MessagesIn.Inc()
	if s.joiner.State() == syncproto.AwaitWelcome {
		out, err := s.joiner.Welcome(msg)
		if err != nil {
			return err
		}
		s.control = append(s.control, out...)
		return nil
	}
	m, err := protocol.Parse(msg)
	if err != nil {
		return err
	}
	switch m.Kind {
	case protocol.KindUpdate:
		if s.joiner.State() == syncproto.Collecting {
			s.joiner.Update(m.Body)
		} else {
			s.txlog.Receive(m.Body)
		}
	case protocol.KindSyncReply:
		return s.reply(m)
	case protocol.KindPresence:
		return s.presenceIn(m)
	default:
		return errors.Wrapf(mural_errors.ErrBadMessage, "unexpected %s message", m.Op.String())
	}
	return nil
}

func (s *Session) reply(m protocol.Message) error {
	if err := s.joiner.Reply(m); err != nil {
		return err
	}
	if !s.joiner.Complete() {
		return nil
	}
	s.driver.Abandon()
	if err := s.joiner.Apply(s.txlog, s.store); err != nil {
		s.log.Warn("client: sync state rejected, asking again", "user", s.joiner.User(), "err", err)
		SyncRetries.Inc()
		s.control = append(s.control, s.joiner.Retry()...)
		return err
	}
	s.lastSnap = time.Now()
	return nil
}

func (s *Session) presenceIn(m protocol.Message) error {
	switch protocol.PresenceSub(m.Sub) {
	case protocol.PresenceJoin:
		s.members[m.User] = protocol.Member{User: m.User}
	case protocol.PresenceLeave:
		delete(s.members, m.User)
		delete(s.cursors, m.User)
	case protocol.PresenceRoster:
		members, err := protocol.ParseRoster(m.Body)
		if err != nil {
			return err
		}
		for _, member := range members {
			s.members[member.User] = member
		}
	case protocol.PresenceColor:
		c, err := protocol.ParseColor(m.Body)
		if err != nil {
			return err
		}
		member := s.members[m.User]
		member.User, member.Color = m.User, c
		s.members[m.User] = member
	case protocol.PresenceUsername:
		member := s.members[m.User]
		member.User, member.Name = m.User, string(m.Body)
		s.members[m.User] = member
	case protocol.PresenceCursor:
		at, err := protocol.ParseCursor(m.Body)
		if err != nil {
			return err
		}
		s.cursors[m.User] = at
	}
	return nil
}

// Tick runs one frame: merge, then redraw after a rollback, then paint,
// then maybe snapshot. Nothing happens before the sync state is applied.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.joiner.State(); st == syncproto.AwaitWelcome || st == syncproto.Collecting {
		return
	}
	deadline := now.Add(s.opts.FrameBudget)

	if d := s.txlog.PushTransactions(); d != txlog.NoDesync {
		Desyncs.Inc()
		s.log.Debug("client: desync", "pos", d, "len", s.txlog.Len())
		s.driver.Abandon()
		s.store.RollbackTo(d)
	}
	if s.store.Redrawing() && !s.store.RollbackSlice(deadline) {
		return
	}
	drained := s.driver.Run(deadline)
	if time.Now().After(deadline) {
		FrameOverruns.Inc()
	}
	if drained && s.joiner.State() == syncproto.Replaying {
		s.joiner.Settle()
		s.log.Info("client: live", "user", s.joiner.User(), "log", s.txlog.Len())
	}
	if !s.driver.Busy() && now.Sub(s.lastSnap) >= s.opts.SnapshotInterval {
		if s.store.Snapshot() {
			Snapshots.Inc()
		}
		s.lastSnap = now
	}
}

// Run ticks every frame until ctx is done.
func (s *Session) Run(ctx context.Context, frame time.Duration) error {
	t := time.NewTicker(frame)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.Tick(now)
		}
	}
}

// NewOp starts a gesture; Next continues it.
func (s *Session) NewOp() txn.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.NewOp()
}

func (s *Session) Next(op txn.OpID) txn.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.Next(op)
}

// Edit commits local records. They render on the next Tick and go out
// with the first Flush after the handshake.
func (s *Session) Edit(recs ...txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if err := txn.Check(rec); err != nil {
			return errors.Wrapf(err, "edit %x", []byte(rec))
		}
	}
	for _, rec := range recs {
		s.txlog.Commit(rec)
	}
	Edits.Add(float64(len(recs)))
	return nil
}

func (s *Session) Undo(op txn.OpID) error {
	return s.Edit(txn.NewUndo(s.NewOp(), op))
}

func (s *Session) Redo(op txn.OpID) error {
	return s.Edit(txn.NewRedo(s.NewOp(), op))
}

func (s *Session) SetColor(c color.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = protocol.Presence(protocol.PresenceColor, 0, []byte{c.R, c.G, c.B, c.A})
	s.presence = append(s.presence, s.color)
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = protocol.Presence(protocol.PresenceUsername, 0, []byte(name))
	s.presence = append(s.presence, s.name)
}

// MoveCursor keeps only the latest position until the next flush.
func (s *Session) MoveCursor(at txn.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = protocol.Cursor(0, at)
}

// Flush takes the messages due to the relay. Handshake messages go out
// right away; presence and local edits wait until the session is live,
// as the relay drops them from a syncing user.
func (s *Session) Flush() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.control
	s.control = nil
	if s.joiner.State() == syncproto.Live {
		out = append(out, s.presence...)
		s.presence = nil
		if s.cursor != nil {
			out = append(out, s.cursor)
			s.cursor = nil
		}
		if recs := s.txlog.TakeOutbox(); len(recs) > 0 {
			out = append(out, protocol.Update(recs))
		}
	}
	MessagesOut.Add(float64(len(out)))
	return out
}

func (s *Session) Members() []protocol.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]protocol.Member, 0, len(s.members))
	for i := 0; i < 256; i++ {
		if m, ok := s.members[byte(i)]; ok {
			ret = append(ret, m)
		}
	}
	return ret
}

func (s *Session) Cursor(user byte) (txn.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.cursors[user]
	return at, ok
}

// Status is a snapshot of the replica's counters.
type Status struct {
	State    syncproto.State
	User     byte
	Log      int
	Rendered int
	Moments  int
	Tiles    int
	Width    int
	Height   int
	Digest   uint64
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := s.canvas.Size()
	return Status{
		State:    s.joiner.State(),
		User:     s.joiner.User(),
		Log:      s.txlog.Len(),
		Rendered: s.txlog.Rendered(),
		Moments:  len(s.store.Moments()),
		Tiles:    s.store.Pool().Live(),
		Width:    w,
		Height:   h,
		Digest:   s.canvas.Digest(),
	}
}

// Settled tells whether every merged record is painted.
func (s *Session) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joiner.State() == syncproto.Live && s.txlog.Pending() == 0 && s.txlog.Finished() && !s.driver.Busy() && !s.store.Redrawing()
}

func (s *Session) EncodePNG(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas.EncodePNG(w)
}

// Preview is the image the authority sent along with the sync state.
func (s *Session) Preview() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joiner.PNG()
}
