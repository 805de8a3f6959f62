package moment

import (
	"sort"
)

// Chunk names a tile position as row<<16 | col.
type Chunk uint32

func ChunkAt(col, row int) Chunk {
	return Chunk(uint32(row)<<16 | uint32(col)&0xffff)
}

func (c Chunk) Col() int {
	return int(c & 0xffff)
}

func (c Chunk) Row() int {
	return int(c >> 16)
}

// Grid is the number of tile columns and rows covering w×h pixels.
func Grid(w, h, shift int) (cols, rows int) {
	side := 1 << shift
	return (w + side - 1) >> shift, (h + side - 1) >> shift
}

// ChangeTracker collects the chunks touched since the last snapshot.
type ChangeTracker struct {
	shift int
	dirty map[Chunk]struct{}
}

func NewChangeTracker(shift int) *ChangeTracker {
	return &ChangeTracker{shift: shift, dirty: make(map[Chunk]struct{})}
}

func (t *ChangeTracker) mark(c0, r0, c1, r1 int) {
	if c0 < 0 {
		c0 = 0
	}
	if r0 < 0 {
		r0 = 0
	}
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			t.dirty[ChunkAt(c, r)] = struct{}{}
		}
	}
}

// Touch marks the chunks covering the pixel rectangle [x0,x1)×[y0,y1).
func (t *ChangeTracker) Touch(x0, y0, x1, y1 int) {
	if x1 <= x0 || y1 <= y0 || x1 <= 0 || y1 <= 0 {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	t.mark(x0>>t.shift, y0>>t.shift, (x1-1)>>t.shift, (y1-1)>>t.shift)
}

// Resize marks every chunk whose pixels appear or disappear when the
// canvas goes from ow×oh to nw×nh, including partial edge chunks that
// exist at both sizes.
func (t *ChangeTracker) Resize(ow, oh, nw, nh int) {
	maxW, maxH := max(ow, nw), max(oh, nh)
	if maxW == 0 || maxH == 0 {
		return
	}
	lastCol, lastRow := (maxW-1)>>t.shift, (maxH-1)>>t.shift
	if ow != nw {
		t.mark(min(ow, nw)>>t.shift, 0, lastCol, lastRow)
	}
	if oh != nh {
		t.mark(0, min(oh, nh)>>t.shift, lastCol, lastRow)
	}
}

// MarkAll marks every chunk of a w×h canvas.
func (t *ChangeTracker) MarkAll(w, h int) {
	t.Touch(0, 0, w, h)
}

func (t *ChangeTracker) Add(c Chunk) {
	t.dirty[c] = struct{}{}
}

func (t *ChangeTracker) Has(c Chunk) bool {
	_, ok := t.dirty[c]
	return ok
}

func (t *ChangeTracker) Len() int {
	return len(t.dirty)
}

func (t *ChangeTracker) Clear() {
	clear(t.dirty)
}

// Chunks lists the dirty chunks row-major.
func (t *ChangeTracker) Chunks() []Chunk {
	ret := make([]Chunk, 0, len(t.dirty))
	for c := range t.dirty {
		ret = append(ret, c)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}
