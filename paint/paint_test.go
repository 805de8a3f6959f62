package paint

import (
	"image/color"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

var (
	logger = utils.NewDefaultLogger(slog.LevelWarn)
	red    = color.RGBA{R: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
)

type countdown struct{ left *int }

func (c countdown) Step() bool {
	*c.left--
	return *c.left <= 0
}

type slowPainter struct {
	steps int
	begun []txn.Transaction
}

func (p *slowPainter) Begin(_ *canvas.Canvas, rec txn.Transaction) Task {
	p.begun = append(p.begun, rec)
	left := p.steps
	return countdown{&left}
}

func id(ts uint64) txn.Identity {
	return txn.NewIdentity(ts, txn.OpID(ts))
}

func TestDriver_Slicing(t *testing.T) {
	l := txlog.New(logger)
	l.Queue(txn.NewResize(id(1), 5, 5), txn.NewResize(id(2), 6, 6))
	l.PushTransactions()
	p := &slowPainter{steps: 3}
	d := NewDriver(p, canvas.New(4, 4), l)

	past := time.Now().Add(-time.Second)
	assert.False(t, d.Run(past))
	assert.True(t, d.Busy())
	assert.Equal(t, 1, l.Rendered())
	assert.False(t, d.Run(past))
	assert.False(t, d.Run(past))
	assert.False(t, d.Busy())
	assert.Equal(t, 1, d.Painted())

	assert.False(t, d.Run(past))
	d.Abandon()
	assert.False(t, d.Busy())

	l.SetRendered(1)
	assert.True(t, d.Run(time.Now().Add(time.Hour)))
	assert.Equal(t, 2, d.Painted())
	assert.Len(t, p.begun, 3)
}

func render(c *canvas.Canvas, recs ...txn.Transaction) {
	l := txlog.New(logger)
	l.Queue(recs...)
	l.PushTransactions()
	NewDriver(Reference{}, c, l).Drain()
}

func TestReference_Line(t *testing.T) {
	c := canvas.New(10, 10)
	render(c, txn.NewLine(id(1), red, 1, txn.Point{X: 1, Y: 2}, txn.Point{X: 8, Y: 2}))
	for x := 1; x <= 8; x++ {
		assert.Equal(t, red, c.At(x, 2))
	}
	assert.Equal(t, canvas.Blank, c.At(0, 2))
	assert.Equal(t, canvas.Blank, c.At(9, 2))
	assert.Equal(t, canvas.Blank, c.At(4, 3))

	c = canvas.New(10, 10)
	render(c, txn.NewLine(id(1), red, 5, txn.Point{X: 5, Y: 5}, txn.Point{X: 5, Y: 5}))
	assert.Equal(t, red, c.At(5, 3))
	assert.Equal(t, red, c.At(7, 5))
	assert.Equal(t, canvas.Blank, c.At(7, 7))
}

func TestReference_Pencil(t *testing.T) {
	c := canvas.New(20, 20)
	p0, p1, p2 := txn.Point{X: 2, Y: 10}, txn.Point{X: 10, Y: 10}, txn.Point{X: 18, Y: 10}
	render(c, txn.NewPencil(id(1), blue, 1, p0, p1, p2))
	// the curve runs between the midpoints (6,10) and (14,10)
	for x := 6; x <= 14; x++ {
		assert.Equal(t, blue, c.At(x, 10))
	}
	assert.Equal(t, canvas.Blank, c.At(3, 10))

	render(c, txn.NewEraser(id(2), 1, p0, p1, p2))
	assert.Equal(t, canvas.Blank, c.At(10, 10))
}

func TestReference_Fill(t *testing.T) {
	c := canvas.New(12, 12)
	// a closed box from (2,2) to (8,8)
	render(c,
		txn.NewLine(id(1), red, 1, txn.Point{X: 2, Y: 2}, txn.Point{X: 8, Y: 2}),
		txn.NewLine(id(2), red, 1, txn.Point{X: 8, Y: 2}, txn.Point{X: 8, Y: 8}),
		txn.NewLine(id(3), red, 1, txn.Point{X: 8, Y: 8}, txn.Point{X: 2, Y: 8}),
		txn.NewLine(id(4), red, 1, txn.Point{X: 2, Y: 8}, txn.Point{X: 2, Y: 2}),
		txn.NewFill(id(5), blue, 0, txn.Point{X: 5, Y: 5}),
	)
	assert.Equal(t, blue, c.At(3, 3))
	assert.Equal(t, blue, c.At(7, 7))
	assert.Equal(t, red, c.At(2, 5))
	assert.Equal(t, canvas.Blank, c.At(1, 1))
	assert.Equal(t, canvas.Blank, c.At(10, 10))

	// tolerance reaches across near colors, fill color within tolerance terminates
	c = canvas.New(8, 1)
	c.Set(3, 0, color.RGBA{R: 250, G: 250, B: 250, A: 255})
	c.Set(6, 0, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	render(c, txn.NewFill(id(1), color.RGBA{R: 253, G: 253, B: 253, A: 255}, 5, txn.Point{X: 0, Y: 0}))
	assert.Equal(t, color.RGBA{R: 253, G: 253, B: 253, A: 255}, c.At(3, 0))
	assert.Equal(t, color.RGBA{R: 253, G: 253, B: 253, A: 255}, c.At(5, 0))
	assert.Equal(t, color.RGBA{A: 255}, c.At(6, 0))
	assert.Equal(t, canvas.Blank, c.At(7, 0))

	// outside the canvas nothing happens
	c = canvas.New(4, 4)
	render(c, txn.NewFill(id(1), red, 0, txn.Point{X: 10, Y: 10}))
	assert.Equal(t, canvas.New(4, 4).Digest(), c.Digest())
}

func TestReference_FillSliced(t *testing.T) {
	c := canvas.New(200, 200)
	l := txlog.New(logger)
	l.Queue(txn.NewFill(id(1), red, 0, txn.Point{X: 0, Y: 0}))
	l.PushTransactions()
	d := NewDriver(Reference{}, c, l)
	steps := 1
	for !d.Run(time.Now().Add(-time.Second)) {
		steps++
	}
	assert.Greater(t, steps, 2)
	assert.Equal(t, red, c.At(199, 199))
}

func TestReference_Resize(t *testing.T) {
	c := canvas.New(4, 4)
	render(c, txn.NewResize(id(1), 9, 3))
	w, h := c.Size()
	assert.Equal(t, 9, w)
	assert.Equal(t, 3, h)
}
