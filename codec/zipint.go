package codec

import (
	"encoding/binary"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/pkg/errors"
)

func ZigZagInt64(i int64) uint64 {
	return uint64(i*2) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

// AppendZigZag appends a signed value as a zigzag uvarint.
func AppendZigZag(into []byte, i int64) []byte {
	return binary.AppendUvarint(into, ZigZagInt64(i))
}

// TakeUvarint reads a uvarint off the head of data.
func TakeUvarint(data []byte) (v uint64, rest []byte, err error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, data, errors.Wrapf(mural_errors.ErrIncomplete, "bad varint of %d bytes", len(data))
	}
	return v, data[n:], nil
}

func TakeZigZag(data []byte) (i int64, rest []byte, err error) {
	var u uint64
	u, rest, err = TakeUvarint(data)
	return ZagZigUint64(u), rest, err
}

// ZipUint64 is v in little-endian order without the high zero bytes;
// zero is the empty string.
func ZipUint64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	n := 8
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return buf[:n]
}

func UnzipUint64(zip []byte) (v uint64, err error) {
	if len(zip) > 8 {
		return 0, errors.Wrapf(mural_errors.ErrBadZip, "zipped uint64 of %d bytes", len(zip))
	}
	var buf [8]byte
	copy(buf[:], zip)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ZipPair packs two values, canvas dimensions mostly: a byte holding the
// zipped length of a, then both zipped values.
func ZipPair(a, b uint64) []byte {
	za, zb := ZipUint64(a), ZipUint64(b)
	out := make([]byte, 0, 1+len(za)+len(zb))
	out = append(out, byte(len(za)))
	out = append(out, za...)
	return append(out, zb...)
}

func UnzipPair(buf []byte) (a, b uint64, err error) {
	if len(buf) == 0 {
		return 0, 0, errors.Wrap(mural_errors.ErrBadZip, "empty zipped pair")
	}
	n := int(buf[0])
	if n > len(buf)-1 {
		return 0, 0, errors.Wrapf(mural_errors.ErrBadZip, "zipped pair split %d of %d", n, len(buf)-1)
	}
	if a, err = UnzipUint64(buf[1 : 1+n]); err != nil {
		return
	}
	b, err = UnzipUint64(buf[1+n:])
	return
}
