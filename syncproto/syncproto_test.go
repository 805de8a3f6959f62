package syncproto

import (
	"image/color"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/moment"
	"github.com/drpcorg/mural/paint"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

var logger = utils.NewDefaultLogger(slog.LevelWarn)

type replica struct {
	canvas *canvas.Canvas
	log    *txlog.Log
	store  *moment.Store
	driver *paint.Driver
}

func newReplica() *replica {
	r := &replica{canvas: canvas.New(32, 32), log: txlog.New(logger)}
	r.store = moment.NewStore(r.canvas, r.log, logger, moment.Options{ChunkShift: 3, Width: 32, Height: 32})
	r.driver = paint.NewDriver(paint.Reference{}, r.canvas, r.log)
	return r
}

func (r *replica) settle() {
	for !r.store.RollbackSlice(time.Now().Add(time.Hour)) {
	}
	r.driver.Drain()
}

func (r *replica) push(recs ...txn.Transaction) {
	r.log.Queue(recs...)
	if d := r.log.PushTransactions(); d != txlog.NoDesync {
		r.driver.Abandon()
		r.store.RollbackTo(d)
	}
	r.settle()
}

func stroke(g *txn.Generator, n int, c color.RGBA) []txn.Transaction {
	op := g.NewOp().Op()
	var recs []txn.Transaction
	p := []txn.Point{{X: 1, Y: 1}, {X: 4, Y: 3}}
	for i := 0; i < n; i++ {
		next := txn.Point{X: int16(2 + i*3%28), Y: int16(5 + i*5%24)}
		recs = append(recs, txn.NewPencil(g.Next(op), c, 3, p[0], p[1], next))
		p = []txn.Point{p[1], next}
	}
	return recs
}

func TestJoiner_Handshake(t *testing.T) {
	g := txn.NewGenerator(1)
	auth := newReplica()
	var history []txn.Transaction
	for i := 0; i < 4; i++ {
		recs := stroke(g, 6, color.RGBA{R: byte(60 * i), G: 90, B: 200, A: 255})
		history = append(history, recs...)
		auth.push(recs...)
		require.True(t, auth.store.Snapshot())
	}
	tail := []txn.Transaction{txn.NewFill(g.NewOp(), color.RGBA{G: 255, A: 255}, 10, txn.Point{X: 30, Y: 30})}
	auth.push(tail...)

	snap := Snapshot{Raw: txn.Concat(tail), Compressed: codec.Compress(history)}
	for _, m := range auth.store.Moments() {
		snap.Moments = append(snap.Moments, auth.store.Encode(m))
	}

	joiner := newReplica()
	j := NewJoiner(logger)
	all := append(append([]txn.Transaction{}, history...), tail...)
	out, err := j.Welcome(protocol.Welcome(3, txn.Concat(all[:5])))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{protocol.SyncAck(), protocol.SyncRequest()}, out)
	assert.Equal(t, Collecting, j.State())
	assert.Equal(t, byte(3), j.User())

	// a live edit arrives and a local one is committed mid-handshake
	live := txn.NewLine(g.NewOp(), color.RGBA{B: 255, A: 255}, 2, txn.Point{X: 0, Y: 31}, txn.Point{X: 31, Y: 0})
	j.Update(txn.Concat([]txn.Transaction{live}))
	local := txn.NewFill(g.NewOp(), color.RGBA{R: 255, A: 255}, 0, txn.Point{X: 0, Y: 0})
	joiner.log.Commit(local)

	msgs := Reply(3, snap)
	rand.New(rand.NewSource(5)).Shuffle(len(msgs), func(a, b int) { msgs[a], msgs[b] = msgs[b], msgs[a] })
	// replies for someone else are skipped
	msgs = append([][]byte{protocol.SyncReply(protocol.SubTransactions, 4, []byte{1, 2, 3})}, msgs...)
	for i, msg := range msgs {
		assert.False(t, j.Complete(), "complete after %d of %d", i, len(msgs))
		m, err := protocol.Parse(msg)
		require.NoError(t, err)
		require.NoError(t, j.Reply(m))
	}
	require.True(t, j.Complete())

	require.NoError(t, j.Apply(joiner.log, joiner.store))
	assert.Equal(t, Replaying, j.State())
	assert.Len(t, joiner.store.Moments(), len(snap.Moments))
	assert.Greater(t, joiner.log.Rendered(), 0)
	joiner.settle()
	assert.True(t, j.Settle())
	assert.Equal(t, Live, j.State())

	auth.push(live, local)
	assert.Equal(t, auth.log.Len(), joiner.log.Len())
	assert.Equal(t, auth.canvas.Digest(), joiner.canvas.Digest())
	assert.NotEmpty(t, joiner.log.TakeOutbox())
}

func TestJoiner_Degenerate(t *testing.T) {
	g := txn.NewGenerator(2)
	recs := stroke(g, 10, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	buffer := txn.Concat(recs)

	j := NewJoiner(logger)
	_, err := j.Welcome(protocol.Welcome(0, buffer))
	require.NoError(t, err)
	_, err = j.Welcome(protocol.Welcome(0, buffer))
	assert.Error(t, err)

	for _, msg := range Degenerate(0, buffer) {
		m, err := protocol.Parse(msg)
		require.NoError(t, err)
		require.NoError(t, j.Reply(m))
	}
	require.True(t, j.Complete())

	r := newReplica()
	require.NoError(t, j.Apply(r.log, r.store))
	assert.Equal(t, 0, r.log.Rendered())
	assert.Equal(t, len(recs), r.log.Len())
	r.settle()

	ref := newReplica()
	ref.push(recs...)
	assert.Equal(t, ref.canvas.Digest(), r.canvas.Digest())
}

func TestJoiner_Incomplete(t *testing.T) {
	j := NewJoiner(logger)
	_, err := j.Welcome(protocol.Welcome(1, nil))
	require.NoError(t, err)
	msgs := Reply(1, Snapshot{Moments: [][]byte{{1}, {2}}, Compressed: codec.Compress(nil)})
	for _, msg := range msgs[:len(msgs)-1] {
		m, _ := protocol.Parse(msg)
		require.NoError(t, j.Reply(m))
	}
	assert.False(t, j.Complete())
	r := newReplica()
	assert.Error(t, j.Apply(r.log, r.store))

	// broken moments are reported, not installed
	m, _ := protocol.Parse(msgs[len(msgs)-1])
	require.NoError(t, j.Reply(m))
	require.True(t, j.Complete())
	assert.Error(t, j.Apply(r.log, r.store))
	assert.Equal(t, Collecting, j.State())
	assert.Equal(t, 0, r.store.Pool().Live())

	// asking again starts the collection over
	assert.Equal(t, [][]byte{protocol.SyncRequest()}, j.Retry())
	assert.False(t, j.Complete())
	for _, msg := range Degenerate(1, nil) {
		m, _ := protocol.Parse(msg)
		require.NoError(t, j.Reply(m))
	}
	require.NoError(t, j.Apply(r.log, r.store))
	assert.Equal(t, Replaying, j.State())
}

func TestJoiner_Reset(t *testing.T) {
	g := txn.NewGenerator(3)
	recs := stroke(g, 8, color.RGBA{R: 200, B: 40, A: 255})
	r := newReplica()
	j := NewJoiner(logger)
	_, err := j.Welcome(protocol.Welcome(0, txn.Concat(recs[:4])))
	require.NoError(t, err)
	for _, msg := range Degenerate(0, txn.Concat(recs[:4])) {
		m, _ := protocol.Parse(msg)
		require.NoError(t, j.Reply(m))
	}
	require.NoError(t, j.Apply(r.log, r.store))
	r.settle()
	require.True(t, j.Settle())

	// a new connection: the old id is gone, replies to it are ignored
	j.Reset()
	assert.Equal(t, AwaitWelcome, j.State())
	out, err := j.Welcome(protocol.Welcome(3, txn.Concat(recs)))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{protocol.SyncAck(), protocol.SyncRequest()}, out)
	assert.Equal(t, byte(3), j.User())
	for _, msg := range Degenerate(0, nil) {
		m, _ := protocol.Parse(msg)
		require.NoError(t, j.Reply(m))
	}
	assert.False(t, j.Complete())
	for _, msg := range Degenerate(3, txn.Concat(recs[4:])) {
		m, _ := protocol.Parse(msg)
		require.NoError(t, j.Reply(m))
	}
	require.NoError(t, j.Apply(r.log, r.store))
	r.settle()
	assert.True(t, j.Settle())
	assert.Equal(t, len(recs), r.log.Len())

	ref := newReplica()
	ref.push(recs...)
	assert.Equal(t, ref.canvas.Digest(), r.canvas.Digest())
}
