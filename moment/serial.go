package moment

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/txn"
)

// canvas sides are 16 bit
const maxSide = 0xffff

// Encode serializes a moment as
//
//	M{ I<identity> T<time> D<width,height> C{ K<chunk> P<pixels> }* }
//
// with tile pixels compressed by the pixel codec.
func (s *Store) Encode(m *Moment) []byte {
	return AppendMoment(nil, s.pool, m)
}

func AppendMoment(into []byte, pool *Pool, m *Moment) []byte {
	bm, buf := protocol.OpenHeader(into, 'M')
	buf = protocol.Append(buf, 'I', m.Tx[:])
	buf = protocol.Append(buf, 'T', codec.ZipUint64(uint64(m.Time)))
	buf = protocol.Append(buf, 'D', codec.ZipPair(uint64(m.Width), uint64(m.Height)))
	chunks := make([]Chunk, 0, len(m.Tiles))
	for c := range m.Tiles {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })
	enc := codec.NewEncoder()
	for _, c := range chunks {
		var cm int
		cm, buf = protocol.OpenHeader(buf, 'C')
		buf = protocol.Append(buf, 'K', codec.ZipUint64(uint64(c)))
		enc.Reset()
		pix := enc.Flush(enc.Append(nil, pool.Tile(m.Tiles[c])))
		buf = protocol.Append(buf, 'P', pix)
		protocol.CloseHeader(buf, cm)
	}
	protocol.CloseHeader(buf, bm)
	return buf
}

// Decode parses one moment off the front of data, allocating its tiles
// from the store's pool.
func (s *Store) Decode(data []byte) (m *Moment, rest []byte, err error) {
	return TakeMoment(data, s.pool)
}

func TakeMoment(data []byte, pool *Pool) (m *Moment, rest []byte, err error) {
	body, rest, err := protocol.TakeWary('M', data)
	if err != nil {
		return nil, data, errors.Wrapf(mural_errors.ErrBadMoment, "moment record: %v", err)
	}
	idb, body, err := protocol.TakeWary('I', body)
	if err != nil || len(idb) != txn.IdentityLen {
		return nil, data, errors.Wrap(mural_errors.ErrBadMoment, "moment identity")
	}
	tb, body, err := protocol.TakeWary('T', body)
	if err != nil {
		return nil, data, errors.Wrap(mural_errors.ErrBadMoment, "moment time")
	}
	db, body, err := protocol.TakeWary('D', body)
	if err != nil {
		return nil, data, errors.Wrap(mural_errors.ErrBadMoment, "moment dimensions")
	}
	w, h, err := codec.UnzipPair(db)
	if err != nil || w > maxSide || h > maxSide {
		return nil, data, errors.Wrap(mural_errors.ErrBadMoment, "moment dimensions")
	}
	ts, err := codec.UnzipUint64(tb)
	if err != nil {
		return nil, data, errors.Wrap(mural_errors.ErrBadMoment, "moment time")
	}
	m = &Moment{
		Tx:     txn.IdentityFromBytes(idb),
		Time:   int(ts),
		Width:  int(w),
		Height: int(h),
		Tiles:  make(map[Chunk]TileID),
	}
	fail := func(err error) (*Moment, []byte, error) {
		for _, id := range m.Tiles {
			pool.RecycleChunk(id)
		}
		return nil, data, err
	}
	for len(body) > 0 {
		var cb, kb, pb []byte
		var key uint64
		if cb, body, err = protocol.TakeWary('C', body); err != nil {
			return fail(errors.Wrapf(mural_errors.ErrBadMoment, "chunk record: %v", err))
		}
		if kb, cb, err = protocol.TakeWary('K', cb); err != nil {
			return fail(errors.Wrap(mural_errors.ErrBadMoment, "chunk key"))
		}
		if pb, _, err = protocol.TakeWary('P', cb); err != nil {
			return fail(errors.Wrap(mural_errors.ErrBadMoment, "chunk pixels"))
		}
		if key, err = codec.UnzipUint64(kb); err != nil {
			return fail(errors.Wrap(mural_errors.ErrBadMoment, "chunk key"))
		}
		c := Chunk(key)
		id := pool.NewChunk()
		if err = codec.DecodeInto(pool.Tile(id), pb); err != nil {
			pool.RecycleChunk(id)
			return fail(errors.Wrapf(mural_errors.ErrBadMoment, "chunk %d,%d: %v", c.Col(), c.Row(), err))
		}
		if old, ok := m.Tiles[c]; ok {
			pool.RecycleChunk(old)
		}
		m.Tiles[c] = id
	}
	return m, rest, nil
}
