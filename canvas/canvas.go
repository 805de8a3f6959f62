// Package canvas is the in-memory RGBA surface the render loop paints on
// and the snapshot store blits tiles into and out of.
package canvas

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/cespare/xxhash"
)

// Blank is the color of an untouched canvas.
var Blank = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Tracker is told about every pixel region that changes.
type Tracker interface {
	Touch(x0, y0, x1, y1 int)
	Resize(ow, oh, nw, nh int)
}

type Canvas struct {
	img     *image.RGBA
	tracker Tracker
}

func New(w, h int) *Canvas {
	c := &Canvas{img: image.NewRGBA(image.Rect(0, 0, w, h))}
	draw.Draw(c.img, c.img.Rect, image.NewUniform(Blank), image.Point{}, draw.Src)
	return c
}

func (c *Canvas) SetTracker(t Tracker) {
	c.tracker = t
}

func (c *Canvas) Size() (w, h int) {
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

func (c *Canvas) In(x, y int) bool {
	return image.Pt(x, y).In(c.img.Rect)
}

func (c *Canvas) At(x, y int) color.RGBA {
	if !c.In(x, y) {
		return color.RGBA{}
	}
	return c.img.RGBAAt(x, y)
}

func (c *Canvas) touch(r image.Rectangle) {
	if c.tracker != nil && !r.Empty() {
		c.tracker.Touch(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	}
}

func (c *Canvas) Set(x, y int, col color.RGBA) {
	if !c.In(x, y) {
		return
	}
	c.img.SetRGBA(x, y, col)
	c.touch(image.Rect(x, y, x+1, y+1))
}

// FillRect paints [x0,x1)×[y0,y1) clipped to the canvas.
func (c *Canvas) FillRect(x0, y0, x1, y1 int, col color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
	c.touch(r)
}

// Resize keeps the top-left content; newly exposed pixels are blank.
func (c *Canvas) Resize(w, h int) {
	ow, oh := c.Size()
	if ow == w && oh == h {
		return
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(Blank), image.Point{}, draw.Src)
	draw.Draw(img, img.Rect, c.img, image.Point{}, draw.Src)
	c.img = img
	if c.tracker != nil {
		c.tracker.Resize(ow, oh, w, h)
	}
}

// Reset blanks the canvas at the given size without notifying the tracker.
func (c *Canvas) Reset(w, h int) {
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(c.img, c.img.Rect, image.NewUniform(Blank), image.Point{}, draw.Src)
}

func tileRect(col, row, shift int) image.Rectangle {
	side := 1 << shift
	return image.Rect(col<<shift, row<<shift, col<<shift+side, row<<shift+side)
}

// ReadTile copies the tile at (col,row) into dst, a side×side RGBA buffer.
// Pixels outside the canvas read as blank.
func (c *Canvas) ReadTile(col, row, shift int, dst []byte) {
	side := 1 << shift
	tile := &image.RGBA{Pix: dst, Stride: side * 4, Rect: tileRect(col, row, shift)}
	draw.Draw(tile, tile.Rect, image.NewUniform(Blank), image.Point{}, draw.Src)
	draw.Draw(tile, tile.Rect, c.img, tile.Rect.Min, draw.Src)
}

// WriteTile blits a side×side RGBA buffer at (col,row), clipped to the
// canvas. Tile writes restore known state, so the tracker is not told.
func (c *Canvas) WriteTile(col, row, shift int, src []byte) {
	side := 1 << shift
	tile := &image.RGBA{Pix: src, Stride: side * 4, Rect: tileRect(col, row, shift)}
	r := tile.Rect.Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, tile, r.Min, draw.Src)
}

// Digest hashes dimensions and pixels; equal canvases give equal digests.
func (c *Canvas) Digest() uint64 {
	w, h := c.Size()
	d := xxhash.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(w))
	binary.BigEndian.PutUint32(dims[4:8], uint32(h))
	_, _ = d.Write(dims[:])
	_, _ = d.Write(c.img.Pix)
	return d.Sum64()
}

// Image exposes the backing image; callers must not keep it across edits.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	return png.Encode(w, c.img)
}
