// Package archive is the server-side memory of a room: a pebble keyspace
// with each room's serialized moments, its extendable compressed history
// and the raw tail not folded into history yet, plus the Archivist that
// keeps them current as the room's authority.
package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"

	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// Key prefixes; the room name follows, then a zero byte.
const (
	KeyHistory = 'H'
	KeyTail    = 'T'
	KeyMoment  = 'M'
)

var WriteOptions = pebble.WriteOptions{Sync: false}

func roomKey(prefix byte, room string) []byte {
	key := make([]byte, 0, len(room)+6)
	key = append(key, prefix)
	key = append(key, room...)
	return append(key, 0)
}

func momentKey(room string, seq int) []byte {
	return binary.BigEndian.AppendUint32(roomKey(KeyMoment, room), uint32(seq))
}

// historyMerge folds compressed blobs oldest to newest. A blob extended by
// the records of a newer one is itself a blob, so partial merges compose.
type historyMerge struct {
	vals  [][]byte
	older bool
}

func (h *historyMerge) MergeNewer(value []byte) error {
	h.vals = append(h.vals, slices.Clone(value))
	return nil
}

func (h *historyMerge) MergeOlder(value []byte) error {
	h.vals = append(h.vals, slices.Clone(value))
	h.older = true
	return nil
}

func (h *historyMerge) Finish(includesBase bool) ([]byte, io.Closer, error) {
	if h.older {
		slices.Reverse(h.vals)
	}
	if len(h.vals) == 0 {
		return nil, nil, nil
	}
	blob := h.vals[0]
	for _, next := range h.vals[1:] {
		recs, err := codec.Decompress(next)
		if err != nil {
			return nil, nil, errors.Wrap(err, "history operand")
		}
		blob = codec.Extend(blob, recs)
	}
	return blob, nil, nil
}

// tailMerge concatenates raw record batches.
type tailMerge struct {
	vals  [][]byte
	older bool
}

func (t *tailMerge) MergeNewer(value []byte) error {
	t.vals = append(t.vals, slices.Clone(value))
	return nil
}

func (t *tailMerge) MergeOlder(value []byte) error {
	t.vals = append(t.vals, slices.Clone(value))
	t.older = true
	return nil
}

func (t *tailMerge) Finish(includesBase bool) ([]byte, io.Closer, error) {
	if t.older {
		slices.Reverse(t.vals)
	}
	return bytes.Join(t.vals, nil), nil, nil
}

func merger(key, value []byte) (pebble.ValueMerger, error) {
	if len(key) > 0 && key[0] == KeyHistory {
		return &historyMerge{vals: [][]byte{slices.Clone(value)}}, nil
	}
	return &tailMerge{vals: [][]byte{slices.Clone(value)}}, nil
}

type StoreOptions struct {
	Logger utils.Logger
	// on-disk location; empty keeps everything in memory
	Dir string
}

type Store struct {
	db  *pebble.DB
	log utils.Logger
}

func OpenStore(opts StoreOptions) (*Store, error) {
	popts := &pebble.Options{
		Merger: &pebble.Merger{
			Name:  "mural.archive",
			Merge: merger,
		},
	}
	dir := opts.Dir
	if dir == "" {
		popts.FS = vfs.NewMem()
		dir = "archive"
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, errors.Wrapf(err, "open archive %q", dir)
	}
	return &Store{db: db, log: opts.Logger}, nil
}

func (s *Store) DB() *pebble.DB {
	return s.db
}

func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return slices.Clone(val), nil
}

// AppendTail adds raw records to the room's uncompressed tail.
func (s *Store) AppendTail(room string, records []byte) error {
	return s.db.Merge(roomKey(KeyTail, room), records, &WriteOptions)
}

func (s *Store) Tail(room string) ([]byte, error) {
	return s.get(roomKey(KeyTail, room))
}

// History returns the room's compressed history, an empty blob if none.
func (s *Store) History(room string) ([]byte, error) {
	blob, err := s.get(roomKey(KeyHistory, room))
	if err != nil || blob != nil {
		return blob, err
	}
	return codec.Compress(nil), nil
}

// Fold moves the tail into the compressed history in one batch and
// returns the number of records moved.
func (s *Store) Fold(room string) (int, error) {
	tail, err := s.Tail(room)
	if err != nil || len(tail) == 0 {
		return 0, err
	}
	recs, rest := txn.Split(tail)
	if len(rest) > 0 {
		s.log.Warn("archive: unframed tail", "room", room, "len", len(rest))
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Merge(roomKey(KeyHistory, room), codec.Compress(recs), nil); err != nil {
		return 0, err
	}
	if err := b.Delete(roomKey(KeyTail, room), nil); err != nil {
		return 0, err
	}
	return len(recs), b.Commit(&WriteOptions)
}

// PutMoments replaces the room's moments.
func (s *Store) PutMoments(room string, moments [][]byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	lo := roomKey(KeyMoment, room)
	hi := append(lo[:len(lo)-1:len(lo)-1], 1)
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	for i, m := range moments {
		if err := b.Set(momentKey(room, i), m, nil); err != nil {
			return err
		}
	}
	return b.Commit(&WriteOptions)
}

func (s *Store) Moments(room string) (moments [][]byte, err error) {
	lo := roomKey(KeyMoment, room)
	hi := append(lo[:len(lo)-1:len(lo)-1], 1)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		moments = append(moments, slices.Clone(it.Value()))
	}
	return moments, it.Error()
}

// Drop forgets everything about a room.
func (s *Store) Drop(room string) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, prefix := range []byte{KeyHistory, KeyTail, KeyMoment} {
		lo := roomKey(prefix, room)
		hi := append(lo[:len(lo)-1:len(lo)-1], 1)
		if err := b.DeleteRange(lo, hi, nil); err != nil {
			return err
		}
	}
	return b.Commit(&WriteOptions)
}

func (s *Store) Close() error {
	return s.db.Close()
}
