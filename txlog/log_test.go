package txlog

import (
	"image/color"
	"log/slog"
	"math/rand"
	"sort"
	"testing"

	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
	"github.com/stretchr/testify/assert"
)

func testLog() *Log {
	return New(utils.NewDefaultLogger(slog.LevelError))
}

func dot(ts uint64, op txn.OpID) txn.Transaction {
	return txn.NewFill(txn.NewIdentity(ts, op), color.RGBA{A: 255}, 0, txn.Point{X: 1, Y: 1})
}

func renderAll(l *Log) (out []txn.Transaction) {
	for {
		rec, ok := l.NextTransaction()
		if !ok {
			return
		}
		out = append(out, rec)
	}
}

func TestLog_OutOfOrderInsert(t *testing.T) {
	l := testLog()
	l.Queue(dot(0x0100000000, 1), dot(0x0200000000, 2), dot(0x0300000000, 3))
	assert.Equal(t, NoDesync, l.PushTransactions())
	assert.Len(t, renderAll(l), 3)
	assert.Equal(t, 3, l.Rendered())
	assert.True(t, l.Finished())

	late := dot(0x0150000000, 4)
	l.Queue(late)
	assert.Equal(t, 1, l.PushTransactions())
	assert.Equal(t, 1, l.Rendered())
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, late.ID(), l.At(1).ID())
	assert.False(t, l.Finished())

	replay := renderAll(l)
	assert.Len(t, replay, 3)
	assert.Equal(t, late.ID(), replay[0].ID())
}

func TestLog_AppendIsNotDesync(t *testing.T) {
	l := testLog()
	l.Queue(dot(1, 1))
	l.PushTransactions()
	renderAll(l)
	l.Queue(dot(2, 2))
	assert.Equal(t, NoDesync, l.PushTransactions())
	assert.Equal(t, 1, l.Rendered())
}

func TestLog_Duplicates(t *testing.T) {
	l := testLog()
	a := dot(5, 1)
	l.Queue(a, a)
	l.PushTransactions()
	renderAll(l)
	l.Queue(a)
	assert.Equal(t, NoDesync, l.PushTransactions())
	assert.Equal(t, 1, l.Len())
}

func TestLog_RedoWithoutUndo(t *testing.T) {
	l := testLog()
	l.Queue(dot(1, 7), dot(2, 7), dot(3, 8))
	l.PushTransactions()
	renderAll(l)
	l.Queue(txn.NewRedo(txn.NewIdentity(4, 100), 7))
	assert.Equal(t, NoDesync, l.PushTransactions())
	assert.False(t, l.Undone(7))
}

func TestLog_UndoRedo(t *testing.T) {
	l := testLog()
	l.Queue(dot(1, 6), dot(2, 7), dot(3, 7), dot(4, 8))
	l.PushTransactions()
	renderAll(l)

	undo := txn.NewUndo(txn.NewIdentity(5, 100), 7)
	l.Queue(undo)
	assert.Equal(t, 1, l.PushTransactions())
	assert.True(t, l.Undone(7))
	replay := renderAll(l)
	assert.Len(t, replay, 1) // only op 8 is left after position 1
	assert.Equal(t, txn.OpID(8), replay[0].Op())

	// undo after undo changes nothing
	l.Queue(txn.NewUndo(txn.NewIdentity(6, 101), 7))
	assert.Equal(t, NoDesync, l.PushTransactions())

	// a stale redo sorting before the stored marker is ignored
	l.Queue(txn.NewRedo(txn.NewIdentity(4, 102), 7))
	assert.Equal(t, NoDesync, l.PushTransactions())
	assert.True(t, l.Undone(7))

	l.Queue(txn.NewRedo(txn.NewIdentity(9, 103), 7))
	assert.Equal(t, 1, l.PushTransactions())
	assert.False(t, l.Undone(7))
	assert.Len(t, renderAll(l), 3)
}

func TestLog_UndoBeforeOperation(t *testing.T) {
	l := testLog()
	l.Queue(txn.NewUndo(txn.NewIdentity(10, 100), 7))
	assert.Equal(t, NoDesync, l.PushTransactions())
	l.Queue(dot(1, 7), dot(2, 8))
	l.PushTransactions()
	out := renderAll(l)
	assert.Len(t, out, 1)
	assert.Equal(t, txn.OpID(8), out[0].Op())
}

func TestLog_InitialTracksEarliest(t *testing.T) {
	l := testLog()
	l.Queue(dot(5, 7), dot(3, 7), dot(9, 7))
	l.PushTransactions()
	first, ok := l.Initial(7)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), first.Timestamp())
}

func TestLog_Malformed(t *testing.T) {
	l := testLog()
	good := dot(1, 1)
	n := l.Receive(append(good, 0xde, 0xad))
	assert.Equal(t, 1, n)
	l.Queue(good[:4])
	l.PushTransactions()
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 2, l.Dropped())
}

func TestLog_Outbox(t *testing.T) {
	l := testLog()
	a, b := dot(1, 1), dot(2, 1)
	l.Commit(a)
	l.Commit(b)
	assert.Equal(t, 2, l.Pending())
	out := l.TakeOutbox()
	assert.Equal(t, txn.Concat([]txn.Transaction{a, b}), out)
	assert.Nil(t, l.TakeOutbox())
	l.PushTransactions()
	assert.Equal(t, 2, l.Len())
}

func TestLog_OrderIndependence(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	var recs []txn.Transaction
	for i := 0; i < 200; i++ {
		op := txn.OpID(rnd.Intn(20))
		recs = append(recs, dot(uint64(rnd.Intn(1000)), op))
		if i%17 == 0 {
			recs = append(recs, txn.NewUndo(txn.NewIdentity(uint64(rnd.Intn(1000)), 500+op), op))
		}
	}
	ref := testLog()
	ref.Queue(recs...)
	ref.PushTransactions()

	for round := 0; round < 10; round++ {
		perm := append([]txn.Transaction(nil), recs...)
		rnd.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		l := testLog()
		for len(perm) > 0 {
			n := 1 + rnd.Intn(len(perm))
			l.Queue(perm[:n]...)
			l.PushTransactions()
			perm = perm[n:]
		}
		assert.Equal(t, ref.Transactions(), l.Transactions())
		for op := txn.OpID(0); op < 20; op++ {
			assert.Equal(t, ref.Undone(op), l.Undone(op))
		}
	}
}

func TestLog_BatchDesyncOrderIndependence(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	stamps := rnd.Perm(4000)
	next := func() uint64 {
		ts := uint64(stamps[0]) + 1
		stamps = stamps[1:]
		return ts
	}
	var base []txn.Transaction
	for i := 0; i < 120; i++ {
		base = append(base, dot(next(), txn.OpID(rnd.Intn(30))))
	}
	var batch []txn.Transaction
	for i := 0; i < 40; i++ {
		batch = append(batch, dot(next(), txn.OpID(rnd.Intn(30))))
	}
	for op := txn.OpID(0); op < 30; op++ {
		switch rnd.Intn(4) {
		case 0: // undo
			batch = append(batch, txn.NewUndo(txn.NewIdentity(next(), 500+op), op))
		case 1: // undo then redo, cancels out
			a, b := next(), next()
			if b < a {
				a, b = b, a
			}
			batch = append(batch,
				txn.NewUndo(txn.NewIdentity(a, 500+op), op),
				txn.NewRedo(txn.NewIdentity(b, 600+op), op))
		case 2: // redo alone is a no-op
			batch = append(batch, txn.NewRedo(txn.NewIdentity(next(), 600+op), op))
		}
	}

	rendered := func() *Log {
		l := testLog()
		l.Queue(base...)
		l.PushTransactions()
		renderAll(l)
		return l
	}
	sorted := append([]txn.Transaction(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID().Less(sorted[j].ID()) })
	ref := rendered()
	ref.Queue(sorted...)
	want := ref.PushTransactions()
	assert.NotEqual(t, NoDesync, want)

	for round := 0; round < 20; round++ {
		perm := append([]txn.Transaction(nil), batch...)
		rnd.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		l := rendered()
		l.Queue(perm...)
		assert.Equal(t, want, l.PushTransactions(), "round %d", round)
		assert.Equal(t, ref.Rendered(), l.Rendered())
		assert.Equal(t, ref.Transactions(), l.Transactions())
		for op := txn.OpID(0); op < 30; op++ {
			assert.Equal(t, ref.Undone(op), l.Undone(op))
		}
	}
}

func TestLog_CancelledUndoIsNotDesync(t *testing.T) {
	undo := txn.NewUndo(txn.NewIdentity(10, 100), 7)
	redo := txn.NewRedo(txn.NewIdentity(11, 101), 7)
	for _, order := range [][]txn.Transaction{{undo, redo}, {redo, undo}} {
		l := testLog()
		l.Queue(dot(1, 7), dot(2, 8))
		l.PushTransactions()
		renderAll(l)
		l.Queue(order...)
		assert.Equal(t, NoDesync, l.PushTransactions())
		assert.False(t, l.Undone(7))
	}
}
