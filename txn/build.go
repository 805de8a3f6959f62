package txn

import (
	"encoding/binary"
	"image/color"
	"math/rand"
	"sync"
	"time"
)

func header(id Identity, tool Tool) []byte {
	ret := make([]byte, PayloadOffset, Layouts[tool].Len)
	copy(ret, id[:])
	ret[ToolOffset] = byte(tool)
	return ret
}

func appendColor(into []byte, c color.RGBA) []byte {
	return append(into, c.R, c.G, c.B, c.A)
}

func appendPoints(into []byte, pts ...Point) []byte {
	for _, p := range pts {
		into = append(into, p.Bytes()...)
	}
	return into
}

func NewPencil(id Identity, c color.RGBA, size byte, p0, p1, p2 Point) Transaction {
	ret := appendColor(header(id, Pencil), c)
	ret = append(ret, size)
	return appendPoints(ret, p0, p1, p2)
}

func NewEraser(id Identity, size byte, p0, p1, p2 Point) Transaction {
	ret := append(header(id, Eraser), size)
	return appendPoints(ret, p0, p1, p2)
}

func NewFill(id Identity, c color.RGBA, tolerance byte, at Point) Transaction {
	ret := appendColor(header(id, Fill), c)
	ret = append(ret, tolerance)
	return appendPoints(ret, at)
}

func NewLine(id Identity, c color.RGBA, size byte, from, to Point) Transaction {
	ret := appendColor(header(id, Line), c)
	ret = append(ret, size)
	return appendPoints(ret, from, to)
}

func NewResize(id Identity, w, h uint16) Transaction {
	ret := header(id, Resize)
	ret = binary.BigEndian.AppendUint16(ret, w)
	return binary.BigEndian.AppendUint16(ret, h)
}

func NewUndo(id Identity, target OpID) Transaction {
	return append(header(id, Undo), target.Bytes()...)
}

func NewRedo(id Identity, target OpID) Transaction {
	return append(header(id, Redo), target.Bytes()...)
}

// Generator hands out identities for one client. Timestamps never repeat
// within a generator even if the wall clock stalls or steps back.
type Generator struct {
	lock sync.Mutex
	last uint64
	rnd  *rand.Rand
	now  func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

func (g *Generator) tick() uint64 {
	ts := uint64(g.now().UnixMilli()) & TimestampMax
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	return ts
}

// NewOp starts a gesture and returns the identity of its first record.
// The low nibble of the timestamp is folded into the random half.
func (g *Generator) NewOp() Identity {
	g.lock.Lock()
	defer g.lock.Unlock()
	ts := g.tick()
	var op [OpLen]byte
	g.rnd.Read(op[:])
	op[0] ^= byte(ts&0xf) << 4
	return NewIdentity(ts, OpFromBytes(op[:]))
}

// Next continues a gesture.
func (g *Generator) Next(op OpID) Identity {
	g.lock.Lock()
	defer g.lock.Unlock()
	return NewIdentity(g.tick(), op)
}
