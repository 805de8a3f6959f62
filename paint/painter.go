package paint

import (
	"image/color"
	"math"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/txn"
)

const (
	// brush stamps per step
	stampsPerStep = 32
	// flood fill spans per step
	spansPerStep = 64
)

// Reference is the stock painter: round brushes for pencil, eraser and
// line, a scanline flood fill with per-channel tolerance, and resize.
type Reference struct{}

type done struct{}

func (done) Step() bool { return true }

func (Reference) Begin(c *canvas.Canvas, rec txn.Transaction) Task {
	switch rec.Tool() {
	case txn.Pencil:
		return newStroke(c, splinePath(rec.Points()), rec.Size(), rec.Color())
	case txn.Eraser:
		return newStroke(c, splinePath(rec.Points()), rec.Size(), canvas.Blank)
	case txn.Line:
		pts := rec.Points()
		return newStroke(c, linePath(pts[0], pts[1]), rec.Size(), rec.Color())
	case txn.Fill:
		return newFill(c, rec.Points()[0], rec.Size(), rec.Color())
	case txn.Resize:
		w, h := rec.Dims()
		c.Resize(w, h)
	}
	return done{}
}

type point struct{ x, y int }

// splinePath samples the quadratic curve between the midpoints of p0p1
// and p1p2 with p1 as control, so consecutive records join smoothly.
func splinePath(pts []txn.Point) []point {
	p0, p1, p2 := pts[0], pts[1], pts[2]
	ax, ay := (float64(p0.X)+float64(p1.X))/2, (float64(p0.Y)+float64(p1.Y))/2
	bx, by := (float64(p1.X)+float64(p2.X))/2, (float64(p1.Y)+float64(p2.Y))/2
	cx, cy := float64(p1.X), float64(p1.Y)
	n := int(math.Hypot(cx-ax, cy-ay)+math.Hypot(bx-cx, by-cy)) + 1
	path := make([]point, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		u := 1 - t
		x := u*u*ax + 2*u*t*cx + t*t*bx
		y := u*u*ay + 2*u*t*cy + t*t*by
		path = appendPoint(path, point{int(math.Round(x)), int(math.Round(y))})
	}
	return path
}

// linePath walks from a to b with Bresenham steps.
func linePath(a, b txn.Point) []point {
	x0, y0, x1, y1 := int(a.X), int(a.Y), int(b.X), int(b.Y)
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	e := dx + dy
	path := []point{{x0, y0}}
	for x0 != x1 || y0 != y1 {
		if e2 := 2 * e; e2 >= dy {
			e += dy
			x0 += sx
		} else {
			e += dx
			y0 += sy
		}
		path = append(path, point{x0, y0})
	}
	return path
}

func appendPoint(path []point, p point) []point {
	if n := len(path); n > 0 && path[n-1] == p {
		return path
	}
	return append(path, p)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// stroke stamps a round brush along a path.
type stroke struct {
	c     *canvas.Canvas
	path  []point
	spans []int
	col   color.RGBA
	next  int
}

func newStroke(c *canvas.Canvas, path []point, size int, col color.RGBA) *stroke {
	return &stroke{c: c, path: path, spans: brush(size), col: col}
}

// brush gives the half width of each row of a disc of the given diameter,
// rows top to bottom.
func brush(size int) []int {
	if size <= 1 {
		return []int{0}
	}
	r := float64(size) / 2
	ri := size / 2
	spans := make([]int, 0, 2*ri+1)
	for dy := -ri; dy <= ri; dy++ {
		spans = append(spans, int(math.Sqrt(math.Max(0, r*r-float64(dy*dy)))))
	}
	return spans
}

func (s *stroke) Step() bool {
	ri := len(s.spans) / 2
	for n := 0; n < stampsPerStep && s.next < len(s.path); n++ {
		p := s.path[s.next]
		for i, hw := range s.spans {
			y := p.y + i - ri
			s.c.FillRect(p.x-hw, y, p.x+hw+1, y+1, s.col)
		}
		s.next++
	}
	return s.next >= len(s.path)
}

// fill is a scanline flood fill. Pixels within tolerance of the seed color
// on every channel are replaced; a visited set keeps it finite when the
// new color is itself within tolerance.
type fill struct {
	c         *canvas.Canvas
	w, h      int
	seed      color.RGBA
	col       color.RGBA
	tolerance int
	visited   []bool
	stack     []point
}

func newFill(c *canvas.Canvas, at txn.Point, tolerance int, col color.RGBA) Task {
	x, y := int(at.X), int(at.Y)
	if !c.In(x, y) {
		return done{}
	}
	w, h := c.Size()
	return &fill{
		c:         c,
		w:         w,
		h:         h,
		seed:      c.At(x, y),
		col:       col,
		tolerance: tolerance,
		visited:   make([]bool, w*h),
		stack:     []point{{x, y}},
	}
}

func (f *fill) match(x, y int) bool {
	if x < 0 || y < 0 || x >= f.w || y >= f.h || f.visited[y*f.w+x] {
		return false
	}
	p := f.c.At(x, y)
	return within(p.R, f.seed.R, f.tolerance) && within(p.G, f.seed.G, f.tolerance) &&
		within(p.B, f.seed.B, f.tolerance) && within(p.A, f.seed.A, f.tolerance)
}

func within(a, b uint8, tolerance int) bool {
	return abs(int(a)-int(b)) <= tolerance
}

func (f *fill) Step() bool {
	for n := 0; n < spansPerStep && len(f.stack) > 0; n++ {
		p := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		if !f.match(p.x, p.y) {
			continue
		}
		x0, x1 := p.x, p.x
		for f.match(x0-1, p.y) {
			x0--
		}
		for f.match(x1+1, p.y) {
			x1++
		}
		for x := x0; x <= x1; x++ {
			f.visited[p.y*f.w+x] = true
		}
		f.c.FillRect(x0, p.y, x1+1, p.y+1, f.col)
		for _, y := range [2]int{p.y - 1, p.y + 1} {
			inside := false
			for x := x0; x <= x1; x++ {
				m := f.match(x, y)
				if m && !inside {
					f.stack = append(f.stack, point{x, y})
				}
				inside = m
			}
		}
	}
	return len(f.stack) == 0
}
