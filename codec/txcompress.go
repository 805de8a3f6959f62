package codec

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/txn"
	"github.com/pkg/errors"
)

// TrailerLen is the absolute timestamp closing every compressed blob.
const TrailerLen = 8

/*
Compressed transaction stream:

	blob   = run* trailer
	run    = zz(Δts) op(5) tool(1) payload [uvarint(n) point*n]   (points for spline tools only)
	point  = zz(Δts) zz(Δx) zz(Δy)
	trailer = uint64 BE, the last timestamp written

Δts is taken from the previously written timestamp, whichever run or point
it belonged to. A run of a spline tool covers records of one operation that
share their static fields and chain their points: record k+1 starts with the
last two points of record k, so only its third point is written.
*/

// Compress packs records into a fresh blob.
func Compress(recs []txn.Transaction) []byte {
	return Extend(nil, recs)
}

// Extend appends records to an existing blob without decoding it. A blob
// shorter than the trailer is treated as empty.
func Extend(blob []byte, recs []txn.Transaction) []byte {
	var prev uint64
	out := make([]byte, 0, len(blob)+len(recs)*4+TrailerLen)
	if len(blob) >= TrailerLen {
		body := len(blob) - TrailerLen
		prev = binary.BigEndian.Uint64(blob[body:])
		out = append(out, blob[:body]...)
	}
	for _, bucket := range buckets(recs) {
		for len(bucket) > 0 {
			n := runLen(bucket)
			out, prev = appendRun(out, prev, bucket[:n])
			bucket = bucket[n:]
		}
	}
	return binary.BigEndian.AppendUint64(out, prev)
}

// buckets drops malformed records and duplicates, groups by operation,
// sorts each group and orders groups by their earliest identity.
func buckets(recs []txn.Transaction) [][]txn.Transaction {
	seen := make(map[txn.Identity]struct{}, len(recs))
	byop := make(map[txn.OpID][]txn.Transaction)
	for _, rec := range recs {
		if txn.Check(rec) != nil {
			continue
		}
		id := rec.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		byop[rec.Op()] = append(byop[rec.Op()], rec)
	}
	ret := make([][]txn.Transaction, 0, len(byop))
	for _, bucket := range byop {
		slices.SortFunc(bucket, func(a, b txn.Transaction) int {
			return a.ID().Compare(b.ID())
		})
		ret = append(ret, bucket)
	}
	slices.SortFunc(ret, func(a, b []txn.Transaction) int {
		return a[0].ID().Compare(b[0].ID())
	})
	return ret
}

// continues reports whether next chains onto cur in a spline run.
func continues(cur, next txn.Transaction) bool {
	layout := cur.Layout()
	if !layout.Spline || next.Tool() != cur.Tool() {
		return false
	}
	static := txn.PayloadOffset + layout.StaticLen()
	if !bytes.Equal(cur[txn.PayloadOffset:static], next[txn.PayloadOffset:static]) {
		return false
	}
	// next p0,p1 == cur p1,p2
	return bytes.Equal(next[static:static+2*txn.PointLen], cur[static+txn.PointLen:])
}

func runLen(bucket []txn.Transaction) int {
	n := 1
	for n < len(bucket) && continues(bucket[n-1], bucket[n]) {
		n++
	}
	return n
}

func appendRun(out []byte, prev uint64, run []txn.Transaction) ([]byte, uint64) {
	first := run[0]
	ts := first.Timestamp()
	out = AppendZigZag(out, int64(ts)-int64(prev))
	prev = ts
	out = append(out, first[txn.TimestampLen:]...)
	if !first.Layout().Spline {
		return out, prev
	}
	out = binary.AppendUvarint(out, uint64(len(run)-1))
	last := first.Points()[2]
	for _, rec := range run[1:] {
		ts = rec.Timestamp()
		out = AppendZigZag(out, int64(ts)-int64(prev))
		prev = ts
		pt := rec.Points()[2]
		out = AppendZigZag(out, int64(pt.X)-int64(last.X))
		out = AppendZigZag(out, int64(pt.Y)-int64(last.Y))
		last = pt
	}
	return out, prev
}

// Decompress restores every record of a blob, run by run.
func Decompress(blob []byte) (recs []txn.Transaction, err error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < TrailerLen {
		return nil, errors.Wrapf(mural_errors.ErrIncomplete, "blob of %d bytes", len(blob))
	}
	trailer := binary.BigEndian.Uint64(blob[len(blob)-TrailerLen:])
	rest := blob[:len(blob)-TrailerLen]
	var prev uint64
	for len(rest) > 0 {
		recs, rest, prev, err = takeRun(recs, rest, prev)
		if err != nil {
			return nil, err
		}
	}
	if prev != trailer && len(recs) > 0 {
		return nil, errors.Wrapf(mural_errors.ErrMalformedRecord, "trailer %x, last timestamp %x", trailer, prev)
	}
	return recs, nil
}

func nextTimestamp(data []byte, prev uint64) (ts uint64, rest []byte, err error) {
	var delta int64
	delta, rest, err = TakeZigZag(data)
	if err != nil {
		return
	}
	ts = uint64(int64(prev) + delta)
	if ts > txn.TimestampMax {
		err = errors.Wrapf(mural_errors.ErrMalformedRecord, "timestamp %x out of range", ts)
	}
	return
}

func takeRun(recs []txn.Transaction, data []byte, prev uint64) ([]txn.Transaction, []byte, uint64, error) {
	ts, data, err := nextTimestamp(data, prev)
	if err != nil {
		return recs, data, prev, err
	}
	prev = ts
	if len(data) < txn.OpLen+1 {
		return recs, data, prev, errors.Wrap(mural_errors.ErrIncomplete, "run header")
	}
	tool := data[txn.OpLen]
	n := txn.Len(tool)
	if n == 0 {
		return recs, data, prev, errors.Wrapf(mural_errors.ErrUnknownTool, "tool %d", tool)
	}
	body := n - txn.TimestampLen
	if len(data) < body {
		return recs, data, prev, errors.Wrapf(mural_errors.ErrIncomplete, "record of %d bytes", n)
	}
	head := txn.NewIdentity(ts, 0)
	first := make(txn.Transaction, 0, n)
	first = append(first, head[:txn.TimestampLen]...)
	first = append(first, data[:body]...)
	data = data[body:]
	recs = append(recs, first)
	if !first.Layout().Spline {
		return recs, data, prev, nil
	}
	var count uint64
	if count, data, err = TakeUvarint(data); err != nil {
		return recs, data, prev, err
	}
	static := txn.PayloadOffset + first.Layout().StaticLen()
	cur := first
	last := cur.Points()[2]
	for i := uint64(0); i < count; i++ {
		var dx, dy int64
		if ts, data, err = nextTimestamp(data, prev); err != nil {
			return recs, data, prev, err
		}
		prev = ts
		if dx, data, err = TakeZigZag(data); err != nil {
			return recs, data, prev, err
		}
		if dy, data, err = TakeZigZag(data); err != nil {
			return recs, data, prev, err
		}
		pt := txn.Point{X: int16(int64(last.X) + dx), Y: int16(int64(last.Y) + dy)}
		next := make(txn.Transaction, 0, n)
		id := txn.NewIdentity(ts, cur.Op())
		next = append(next, id[:]...)
		next = append(next, cur[txn.ToolOffset:static]...)
		next = append(next, cur[static+txn.PointLen:]...)
		next = append(next, pt.Bytes()...)
		recs = append(recs, next)
		cur, last = next, pt
	}
	return recs, data, prev, nil
}
