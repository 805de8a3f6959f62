// Package txlog keeps the canonical order of transactions for one rendering
// context: the sorted log, the render cursor, undo/redo state and the queues
// of records waiting to be merged or sent.
package txlog

import (
	"sort"

	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// NoDesync is returned by PushTransactions when rendered state survived the merge.
const NoDesync = -1

type Log struct {
	txs      []txn.Transaction
	rendered int

	incoming []txn.Transaction
	outbox   []txn.Transaction

	// last undo/redo marker seen per target operation
	markers map[txn.OpID]txn.Transaction
	// earliest record per operation
	initial map[txn.OpID]txn.Transaction

	dropped int
	log     utils.Logger
}

func New(log utils.Logger) *Log {
	return &Log{
		markers: make(map[txn.OpID]txn.Transaction),
		initial: make(map[txn.OpID]txn.Transaction),
		log:     log,
	}
}

// Reset forgets everything except the logger.
func (l *Log) Reset() {
	*l = *New(l.log)
}

func (l *Log) Len() int {
	return len(l.txs)
}

func (l *Log) At(i int) txn.Transaction {
	return l.txs[i]
}

// Transactions returns the log itself; callers must not modify it.
func (l *Log) Transactions() []txn.Transaction {
	return l.txs
}

func (l *Log) Rendered() int {
	return l.rendered
}

func (l *Log) SetRendered(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(l.txs) {
		n = len(l.txs)
	}
	l.rendered = n
}

func (l *Log) Finished() bool {
	return l.rendered >= len(l.txs)
}

// Dropped counts malformed records discarded so far.
func (l *Log) Dropped() int {
	return l.dropped
}

// Pending is the number of received records not merged yet.
func (l *Log) Pending() int {
	return len(l.incoming)
}

// Search finds the position of id, or where it would be inserted.
func (l *Log) Search(id txn.Identity) (pos int, found bool) {
	pos = sort.Search(len(l.txs), func(i int) bool {
		return l.txs[i].ID().Compare(id) >= 0
	})
	found = pos < len(l.txs) && l.txs[pos].ID() == id
	return
}

// Receive queues a wire batch of concatenated records for merging.
// A tail that cannot be framed is dropped.
func (l *Log) Receive(data []byte) int {
	recs, rest := txn.Split(data)
	if len(rest) > 0 {
		l.dropped++
		l.log.Debug("txlog: dropped unframed tail", "len", len(rest))
	}
	l.Queue(recs...)
	return len(recs)
}

// Queue adds records to the merge queue. Records are copied, the caller
// may reuse its buffers.
func (l *Log) Queue(recs ...txn.Transaction) {
	for _, rec := range recs {
		l.incoming = append(l.incoming, append(txn.Transaction(nil), rec...))
	}
}

// Commit accepts a locally produced record: it is merged optimistically
// on the next push and kept in the outbox until taken for sending.
func (l *Log) Commit(rec txn.Transaction) {
	l.Queue(rec)
	l.outbox = append(l.outbox, l.incoming[len(l.incoming)-1])
}

// TakeOutbox drains the records waiting to be sent as one wire batch.
func (l *Log) TakeOutbox() []byte {
	if len(l.outbox) == 0 {
		return nil
	}
	ret := txn.Concat(l.outbox)
	l.outbox = l.outbox[:0]
	return ret
}

// PushTransactions merges the incoming queue. It returns the lowest log
// position whose rendered state became invalid, or NoDesync. When a desync
// is reported the render cursor is pulled back to that position; the caller
// is expected to roll raster state back at least that far.
//
// Markers count by their net effect on the batch: an operation whose undone
// state is the same after the merge as before it desyncs nothing, whatever
// order its markers came in.
func (l *Log) PushTransactions() (desync int) {
	desync = NoDesync
	// the smallest record that landed inside the rendered prefix
	var early txn.Transaction
	var undone map[txn.OpID]bool
	for _, rec := range l.incoming {
		if txn.Check(rec) != nil {
			l.dropped++
			continue
		}
		before := l.rendered
		pos, fresh := l.insert(rec)
		if !fresh {
			continue
		}
		if rec.Tool().IsMarker() {
			target := rec.Target()
			if undone == nil {
				undone = make(map[txn.OpID]bool)
			}
			if _, seen := undone[target]; !seen {
				undone[target] = l.Undone(target)
			}
			l.mark(rec)
			continue
		}
		if pos < before && (early == nil || rec.ID().Less(early.ID())) {
			early = rec
		}
		op := rec.Op()
		if cur, ok := l.initial[op]; !ok || rec.ID().Less(cur.ID()) {
			l.initial[op] = rec
		}
	}
	// positions are taken once every record is in place
	if early != nil {
		desync, _ = l.Search(early.ID())
	}
	for target, was := range undone {
		if l.Undone(target) == was {
			continue
		}
		if p := l.effect(target); p != NoDesync && (desync == NoDesync || p < desync) {
			desync = p
		}
	}
	l.incoming = l.incoming[:0]
	if desync != NoDesync {
		l.log.Debug("txlog: desync", "pos", desync, "rendered", l.rendered, "len", len(l.txs))
		l.rendered = desync
	}
	return desync
}

// insert puts rec in place; the cursor moves along if rec lands before it.
func (l *Log) insert(rec txn.Transaction) (pos int, fresh bool) {
	pos, found := l.Search(rec.ID())
	if found {
		return pos, false
	}
	l.txs = append(l.txs, nil)
	copy(l.txs[pos+1:], l.txs[pos:])
	l.txs[pos] = rec
	if pos < l.rendered {
		l.rendered++
	}
	return pos, true
}

// mark keeps rec as the latest marker of its target unless a newer one is
// stored already.
func (l *Log) mark(rec txn.Transaction) {
	target := rec.Target()
	if prev, has := l.markers[target]; has && !prev.ID().Less(rec.ID()) {
		return // stale
	}
	l.markers[target] = rec
}

// effect is the position an operation's paint starts at, if that is
// inside the rendered prefix.
func (l *Log) effect(target txn.OpID) int {
	first, ok := l.initial[target]
	if !ok {
		return NoDesync
	}
	pos, _ := l.Search(first.ID())
	if pos >= l.rendered {
		return NoDesync
	}
	return pos
}

// Undone reports whether the latest marker for op is an undo.
func (l *Log) Undone(op txn.OpID) bool {
	m, ok := l.markers[op]
	return ok && m.Tool() == txn.Undo
}

// NextTransaction advances the cursor to the next record to paint,
// skipping markers and records of undone operations.
func (l *Log) NextTransaction() (txn.Transaction, bool) {
	for l.rendered < len(l.txs) {
		rec := l.txs[l.rendered]
		l.rendered++
		if rec.Tool().IsMarker() || l.Undone(rec.Op()) {
			continue
		}
		return rec, true
	}
	return nil, false
}

// LastRendered is the record at rendered-1, the anchor of a snapshot.
func (l *Log) LastRendered() (txn.Transaction, bool) {
	if l.rendered == 0 {
		return nil, false
	}
	return l.txs[l.rendered-1], true
}

// Initial returns the earliest known record of op.
func (l *Log) Initial(op txn.OpID) (txn.Transaction, bool) {
	rec, ok := l.initial[op]
	return rec, ok
}
