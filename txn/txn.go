package txn

import (
	"encoding/binary"
	"fmt"
	"image/color"

	"github.com/drpcorg/mural/mural_errors"
)

// Transaction is an immutable fixed-layout edit record.
type Transaction []byte

type Point struct {
	X, Y int16
}

func (p Point) Bytes() []byte {
	var ret [PointLen]byte
	binary.BigEndian.PutUint16(ret[0:2], uint16(p.X))
	binary.BigEndian.PutUint16(ret[2:4], uint16(p.Y))
	return ret[:]
}

func PointFromBytes(by []byte) Point {
	return Point{
		X: int16(binary.BigEndian.Uint16(by[0:2])),
		Y: int16(binary.BigEndian.Uint16(by[2:4])),
	}
}

// Check validates the length against the tool table.
func Check(rec []byte) error {
	if len(rec) < MinLen {
		return mural_errors.ErrMalformedRecord
	}
	if !Tool(rec[ToolOffset]).Valid() {
		return mural_errors.ErrUnknownTool
	}
	if Len(rec[ToolOffset]) != len(rec) {
		return mural_errors.ErrMalformedRecord
	}
	return nil
}

func (t Transaction) ID() Identity {
	return IdentityFromBytes(t[0:IdentityLen])
}

func (t Transaction) Timestamp() uint64 {
	return uint40(t[0:TimestampLen])
}

func (t Transaction) Op() OpID {
	return OpID(uint40(t[TimestampLen:IdentityLen]))
}

func (t Transaction) Tool() Tool {
	return Tool(t[ToolOffset])
}

func (t Transaction) Layout() *Layout {
	return &Layouts[t.Tool()]
}

func (t Transaction) Payload() []byte {
	return t[PayloadOffset:]
}

func (t Transaction) field(name string, n int) []byte {
	off := t.Layout().Offset(name)
	if off < 0 {
		return nil
	}
	return t[off : off+n]
}

func (t Transaction) Color() color.RGBA {
	c := t.field("color", ColorLen)
	if c == nil {
		return color.RGBA{}
	}
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
}

func (t Transaction) Size() int {
	s := t.field("size", SizeLen)
	if s == nil {
		s = t.field("tolerance", SizeLen)
	}
	if s == nil {
		return 0
	}
	return int(s[0])
}

// Points lists the point fields in layout order.
func (t Transaction) Points() (pts []Point) {
	off := PayloadOffset
	for _, f := range t.Layout().Fields {
		if f.Kind == KindPoint {
			pts = append(pts, PointFromBytes(t[off:off+PointLen]))
		}
		off += f.Len
	}
	return
}

func (t Transaction) Dims() (w, h int) {
	wb, hb := t.field("width", DimLen), t.field("height", DimLen)
	if wb == nil || hb == nil {
		return 0, 0
	}
	return int(binary.BigEndian.Uint16(wb)), int(binary.BigEndian.Uint16(hb))
}

// Target is the operation an undo/redo record refers to.
func (t Transaction) Target() OpID {
	b := t.field("target", OpLen)
	if b == nil {
		return 0
	}
	return OpFromBytes(b)
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s:%s", t.ID().String(), t.Tool().String())
}

// Split cuts a concatenation of records using the length table. Parsing
// stops at the first record that is too short or carries an unknown tool,
// since nothing after it can be framed; the bad tail is returned as rest.
func Split(data []byte) (recs []Transaction, rest []byte) {
	for len(data) > 0 {
		if len(data) < MinLen {
			return recs, data
		}
		n := Len(data[ToolOffset])
		if n == 0 || n > len(data) {
			return recs, data
		}
		recs = append(recs, Transaction(data[:n:n]))
		data = data[n:]
	}
	return recs, nil
}

// Concat joins records back into a wire buffer.
func Concat(recs []Transaction) []byte {
	total := 0
	for _, r := range recs {
		total += len(r)
	}
	ret := make([]byte, 0, total)
	for _, r := range recs {
		ret = append(ret, r...)
	}
	return ret
}
