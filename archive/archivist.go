package archive

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/moment"
	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/paint"
	"github.com/drpcorg/mural/relay"
	"github.com/drpcorg/mural/syncproto"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// Replier is the room end of an archivist.
type Replier interface {
	Name() string
	Reply(msg []byte) error
}

type Options struct {
	Logger  utils.Logger
	Painter paint.Painter
	Moments moment.Options
	// raw tail length that triggers folding into history
	FoldThreshold int
	// records painted between snapshots
	SnapshotRecords int
}

func (o *Options) SetDefaults() {
	if o.Painter == nil {
		o.Painter = paint.Reference{}
	}
	if o.FoldThreshold == 0 {
		o.FoldThreshold = 4096
	}
	if o.SnapshotRecords == 0 {
		o.SnapshotRecords = 64
	}
	o.Moments.SetDefaults()
}

type job struct {
	records   []byte
	requester int
	preview   chan previewResult
	status    chan Status
}

type previewResult struct {
	img []byte
	err error
}

// Archivist is a headless replica acting as a room's authority: it paints
// every update, keeps moments, archives the room in the Store and answers
// state requests. Update and Request never block; the work happens on the
// archivist's own goroutine.
type Archivist struct {
	room     Replier
	name     string
	store    *Store
	previews *Previews
	opts     Options
	log      utils.Logger
	ctx      context.Context

	lock    sync.Mutex
	pending []job
	wake    chan struct{}
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup

	// owned by the archivist goroutine
	canvas    *canvas.Canvas
	txlog     *txlog.Log
	moments   *moment.Store
	driver    *paint.Driver
	tail      int
	sinceSnap int
}

func NewArchivist(room Replier, store *Store, previews *Previews, opts Options) *Archivist {
	opts.SetDefaults()
	a := &Archivist{
		room:     room,
		name:     room.Name(),
		store:    store,
		previews: previews,
		opts:     opts,
		log:      opts.Logger,
		ctx:      utils.WithDefaultArgs(context.Background(), "room", room.Name()),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		canvas:   canvas.New(opts.Moments.Width, opts.Moments.Height),
	}
	a.txlog = txlog.New(opts.Logger)
	a.moments = moment.NewStore(a.canvas, a.txlog, opts.Logger, opts.Moments)
	a.driver = paint.NewDriver(opts.Painter, a.canvas, a.txlog)
	if err := a.restore(); err != nil {
		a.log.ErrorCtx(a.ctx, "archive: restore failed, starting blank", "err", err)
		a.txlog.Reset()
		a.moments.Reset()
		a.moments.Rollback(nil)
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// restore picks up whatever the store has for the room.
func (a *Archivist) restore() error {
	history, err := a.store.History(a.name)
	if err != nil {
		return err
	}
	recs, err := codec.Decompress(history)
	if err != nil {
		return errors.Wrap(err, "history")
	}
	tail, err := a.store.Tail(a.name)
	if err != nil {
		return err
	}
	blobs, err := a.store.Moments(a.name)
	if err != nil {
		return err
	}
	if len(recs) == 0 && len(tail) == 0 {
		return nil
	}
	a.txlog.Queue(recs...)
	a.tail = a.txlog.Receive(tail)
	a.txlog.PushTransactions()
	var moments []*moment.Moment
	for i, blob := range blobs {
		m, _, err := a.moments.Decode(blob)
		if err != nil {
			a.moments.Install(moments)
			return errors.Wrapf(err, "moment %d", i)
		}
		moments = append(moments, m)
	}
	a.moments.Install(moments)
	if n := len(moments); n > 0 {
		newest := moments[n-1].Tx
		a.moments.Tracker().MarkAll(a.moments.CanvasSize())
		a.moments.Rollback(&newest)
	} else {
		a.moments.Rollback(nil)
	}
	a.settle()
	a.log.InfoCtx(a.ctx, "archive: restored", "log", a.txlog.Len(), "moments", len(moments), "tail", a.tail)
	return nil
}

func (a *Archivist) enqueue(j job) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	a.lock.Lock()
	a.pending = append(a.pending, j)
	a.lock.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *Archivist) Update(records []byte) {
	a.enqueue(job{records: records, requester: -1})
}

func (a *Archivist) Request(requester byte) {
	a.enqueue(job{requester: int(requester)})
}

// Preview renders the current canvas once every queued update is painted.
func (a *Archivist) Preview(ctx context.Context) ([]byte, error) {
	ret := make(chan previewResult, 1)
	if !a.enqueue(job{requester: -1, preview: ret}) {
		return nil, mural_errors.ErrClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, mural_errors.ErrClosed
	case r := <-ret:
		return r.img, r.err
	}
}

func (a *Archivist) Close() error {
	a.closing.Do(func() { close(a.done) })
	a.wg.Wait()
	return nil
}

func (a *Archivist) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case <-a.wake:
		}
		a.lock.Lock()
		jobs := a.pending
		a.pending = nil
		a.lock.Unlock()
		a.run(jobs)
	}
}

func (a *Archivist) run(jobs []job) {
	for _, j := range jobs {
		if j.records != nil {
			a.update(j.records)
		}
	}
	a.settle()
	if a.sinceSnap >= a.opts.SnapshotRecords {
		a.snapshot()
	}
	if a.tail >= a.opts.FoldThreshold {
		a.fold()
	}
	for _, j := range jobs {
		switch {
		case j.preview != nil:
			img, err := a.previews.Render(a.name, a.canvas)
			j.preview <- previewResult{img: img, err: err}
		case j.status != nil:
			j.status <- Status{
				Log:     a.txlog.Len(),
				Moments: len(a.moments.Moments()),
				Tail:    a.tail,
				Digest:  a.canvas.Digest(),
			}
		case j.requester >= 0:
			a.answer(byte(j.requester))
		}
	}
}

func (a *Archivist) update(records []byte) {
	recs, rest := txn.Split(records)
	if len(rest) > 0 {
		a.log.DebugCtx(a.ctx, "archive: dropped unframed tail", "len", len(rest))
	}
	if len(recs) == 0 {
		return
	}
	a.txlog.Queue(recs...)
	if err := a.store.AppendTail(a.name, txn.Concat(recs)); err != nil {
		a.log.ErrorCtx(a.ctx, "archive: tail append failed", "err", err)
	}
	a.tail += len(recs)
	a.sinceSnap += len(recs)
}

// settle merges, rolls back if needed and paints everything.
func (a *Archivist) settle() {
	if d := a.txlog.PushTransactions(); d != txlog.NoDesync {
		Desyncs.Inc()
		a.driver.Abandon()
		a.moments.RollbackTo(d)
	}
	far := time.Now().Add(time.Hour)
	for !a.moments.RollbackSlice(far) {
	}
	a.driver.Drain()
}

func (a *Archivist) snapshot() {
	if !a.moments.Snapshot() {
		return
	}
	Snapshots.Inc()
	a.sinceSnap = 0
	if err := a.store.PutMoments(a.name, a.encodeMoments()); err != nil {
		a.log.ErrorCtx(a.ctx, "archive: moments not saved", "err", err)
	}
}

func (a *Archivist) encodeMoments() [][]byte {
	list := a.moments.Moments()
	out := make([][]byte, 0, len(list))
	for _, m := range list {
		out = append(out, a.moments.Encode(m))
	}
	return out
}

func (a *Archivist) fold() {
	n, err := a.store.Fold(a.name)
	if err != nil {
		a.log.ErrorCtx(a.ctx, "archive: fold failed", "err", err)
		return
	}
	a.tail = 0
	Folds.Inc()
	FoldedRecords.Add(float64(n))
	a.log.DebugCtx(a.ctx, "archive: folded tail", "records", n)
}

func (a *Archivist) answer(requester byte) {
	raw, err := a.store.Tail(a.name)
	if err == nil {
		var history []byte
		if history, err = a.store.History(a.name); err == nil {
			snap := syncproto.Snapshot{Moments: a.encodeMoments(), Raw: raw, Compressed: history}
			snap.PNG, err = a.previews.Render(a.name, a.canvas)
			if err == nil {
				for _, msg := range syncproto.Reply(requester, snap) {
					if err = a.room.Reply(msg); err != nil {
						break
					}
				}
			}
		}
	}
	if err != nil {
		SyncRequests.WithLabelValues("failed").Inc()
		a.log.WarnCtx(a.ctx, "archive: sync request failed", "user", requester, "err", err)
		return
	}
	SyncRequests.WithLabelValues("ok").Inc()
	a.log.DebugCtx(a.ctx, "archive: sync answered", "user", requester, "moments", len(a.moments.Moments()), "tail", a.tail)
}

// Status describes the replica once every queued update is painted.
type Status struct {
	Log     int
	Moments int
	Tail    int
	Digest  uint64
}

func (a *Archivist) Status(ctx context.Context) (Status, error) {
	ret := make(chan Status, 1)
	if !a.enqueue(job{requester: -1, status: ret}) {
		return Status{}, mural_errors.ErrClosed
	}
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-a.done:
		return Status{}, mural_errors.ErrClosed
	case st := <-ret:
		return st, nil
	}
}

var _ relay.Authority = (*Archivist)(nil)
var _ relay.Previewer = (*Archivist)(nil)
