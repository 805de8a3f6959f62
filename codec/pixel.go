package codec

import (
	"github.com/drpcorg/mural/mural_errors"
	"github.com/pkg/errors"
)

// Pixel stream tags. The two-bit tags live in the top bits of the first
// byte; RGB and RGBA take the two values a run of 63 and 64 would use,
// hence the run cap of 62.
const (
	TagIndex = 0x00
	TagDiff  = 0x40
	TagLuma  = 0x80
	TagRun   = 0xc0
	TagRGB   = 0xfe
	TagRGBA  = 0xff

	tagMask = 0xc0

	MaxRun    = 62
	CacheSize = 64
)

type pixel [4]byte

var pixel0 = pixel{0, 0, 0, 255}

func (p pixel) hash() int {
	return (int(p[0])*3 + int(p[1])*5 + int(p[2])*7 + int(p[3])*11) % CacheSize
}

// Encoder compresses an RGBA stream in raster order. It keeps state across
// Append calls so a stream can be fed in pieces; Flush closes a pending run.
type Encoder struct {
	prev  pixel
	index [CacheSize]pixel
	run   int
}

func NewEncoder() *Encoder {
	e := &Encoder{}
	e.Reset()
	return e
}

func (e *Encoder) Reset() {
	e.prev = pixel0
	e.index = [CacheSize]pixel{}
	e.run = 0
}

func (e *Encoder) flushRun(dst []byte) []byte {
	if e.run > 0 {
		dst = append(dst, TagRun|byte(e.run-1))
		e.run = 0
	}
	return dst
}

// Append encodes len(pixels)/4 pixels; a trailing partial pixel is ignored.
func (e *Encoder) Append(dst, pixels []byte) []byte {
	for i := 0; i+4 <= len(pixels); i += 4 {
		px := pixel{pixels[i], pixels[i+1], pixels[i+2], pixels[i+3]}
		if px == e.prev {
			e.run++
			if e.run == MaxRun {
				dst = e.flushRun(dst)
			}
			e.index[px.hash()] = px
			continue
		}
		dst = e.flushRun(dst)
		h := px.hash()
		switch {
		case px[3] != e.prev[3]:
			dst = append(dst, TagRGBA, px[0], px[1], px[2], px[3])
		case e.index[h] == px:
			dst = append(dst, TagIndex|byte(h))
		default:
			dr := int8(px[0] - e.prev[0])
			dg := int8(px[1] - e.prev[1])
			db := int8(px[2] - e.prev[2])
			drg := dr - dg
			dbg := db - dg
			if dr >= -2 && dr <= 1 && dg >= -2 && dg <= 1 && db >= -2 && db <= 1 {
				dst = append(dst, TagDiff|byte(dr+2)<<4|byte(dg+2)<<2|byte(db+2))
			} else if dg >= -32 && dg <= 31 && drg >= -8 && drg <= 7 && dbg >= -8 && dbg <= 7 {
				dst = append(dst, TagLuma|byte(dg+32), byte(drg+8)<<4|byte(dbg+8))
			} else {
				dst = append(dst, TagRGB, px[0], px[1], px[2])
			}
		}
		e.index[h] = px
		e.prev = px
	}
	return dst
}

func (e *Encoder) Flush(dst []byte) []byte {
	return e.flushRun(dst)
}

// Encode compresses a whole RGBA buffer.
func Encode(pixels []byte) []byte {
	e := NewEncoder()
	dst := make([]byte, 0, len(pixels)/4)
	dst = e.Append(dst, pixels)
	return e.Flush(dst)
}

// Decoder mirrors Encoder, including its cache updates.
type Decoder struct {
	prev  pixel
	index [CacheSize]pixel
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Reset()
	return d
}

func (d *Decoder) Reset() {
	d.prev = pixel0
	d.index = [CacheSize]pixel{}
}

func (d *Decoder) emit(dst []byte, px pixel) []byte {
	d.index[px.hash()] = px
	d.prev = px
	return append(dst, px[0], px[1], px[2], px[3])
}

// Append decodes the whole of src, appending pixels to dst.
func (d *Decoder) Append(dst, src []byte) ([]byte, error) {
	return d.decode(dst, src, -1)
}

// decode stops with ErrOverflow before dst would grow past limit bytes;
// a negative limit means no bound.
func (d *Decoder) decode(dst, src []byte, limit int) ([]byte, error) {
	room := func(n int) bool {
		return limit < 0 || len(dst)+n*4 <= limit
	}
	for i := 0; i < len(src); {
		b := src[i]
		px := d.prev
		switch {
		case b == TagRGB:
			if i+4 > len(src) {
				return dst, errors.Wrapf(mural_errors.ErrIncomplete, "rgb tag at %d", i)
			}
			px[0], px[1], px[2] = src[i+1], src[i+2], src[i+3]
			i += 4
		case b == TagRGBA:
			if i+5 > len(src) {
				return dst, errors.Wrapf(mural_errors.ErrIncomplete, "rgba tag at %d", i)
			}
			px = pixel{src[i+1], src[i+2], src[i+3], src[i+4]}
			i += 5
		case b&tagMask == TagIndex:
			px = d.index[b&^tagMask]
			i++
		case b&tagMask == TagDiff:
			px[0] += (b>>4)&3 - 2
			px[1] += (b>>2)&3 - 2
			px[2] += b&3 - 2
			i++
		case b&tagMask == TagLuma:
			if i+2 > len(src) {
				return dst, errors.Wrapf(mural_errors.ErrIncomplete, "luma tag at %d", i)
			}
			dg := b&^tagMask - 32
			rb := src[i+1]
			px[0] += dg + rb>>4 - 8
			px[1] += dg
			px[2] += dg + rb&0xf - 8
			i += 2
		default: // run
			n := int(b&^tagMask) + 1
			if !room(n) {
				return dst, errors.Wrapf(mural_errors.ErrOverflow, "run of %d at %d", n, i)
			}
			for j := 0; j < n; j++ {
				dst = d.emit(dst, px)
			}
			i++
			continue
		}
		if !room(1) {
			return dst, errors.Wrapf(mural_errors.ErrOverflow, "pixel at %d", i)
		}
		dst = d.emit(dst, px)
	}
	return dst, nil
}

// Decode inflates a whole stream produced by Encode.
func Decode(src []byte) ([]byte, error) {
	return NewDecoder().Append(make([]byte, 0, len(src)*4), src)
}

// DecodeInto inflates into a buffer of known size, e.g. a tile. Nothing
// is written past len(dst).
func DecodeInto(dst, src []byte) error {
	out, err := NewDecoder().decode(dst[:0], src, len(dst))
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return errors.Wrapf(mural_errors.ErrIncomplete, "decoded %d of %d bytes", len(out), len(dst))
	}
	return nil
}
