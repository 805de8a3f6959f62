package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/mural/mural_errors"
)

func TestZigZagInt64(t *testing.T) {
	test := map[int64]uint64{
		0:   0,
		-14: 27,
		-10: 19,
		7:   14,
		20:  40,
	}
	for i, u := range test {
		u2 := ZigZagInt64(i)
		assert.Equal(t, u, u2)
		i2 := ZagZigUint64(u2)
		assert.Equal(t, i, i2)
	}
}

func TestZipPair(t *testing.T) {
	nums := []uint64{0, 0xca, 0xbeff, 0x12345678, 1 << 63}
	for _, one := range nums {
		for _, two := range nums {
			zip := ZipPair(one, two)
			a, b, err := UnzipPair(zip)
			assert.NoError(t, err)
			assert.Equal(t, one, a)
			assert.Equal(t, two, b)
		}
	}
	assert.Equal(t, []byte{2, 0x00, 0x04, 0x00, 0x03}, ZipPair(1024, 768))
	assert.Equal(t, []byte{0}, ZipPair(0, 0))

	for _, bad := range [][]byte{nil, {3, 1, 2}, {0, 1, 2, 3, 4, 5, 6, 7, 8, 9}} {
		_, _, err := UnzipPair(bad)
		assert.ErrorIs(t, err, mural_errors.ErrBadZip, "%x", bad)
	}
}

func TestZipUint64(t *testing.T) {
	assert.Empty(t, ZipUint64(0))
	assert.Equal(t, []byte{0x34, 0x12}, ZipUint64(0x1234))
	v, err := UnzipUint64(ZipUint64(0xdeadbeef00))
	assert.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef00), v)
	_, err = UnzipUint64(make([]byte, 9))
	assert.Error(t, err)
}

func TestTakeZigZag(t *testing.T) {
	buf := AppendZigZag(nil, -300)
	buf = AppendZigZag(buf, 5)
	v, rest, err := TakeZigZag(buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(-300), v)
	v, rest, err = TakeZigZag(rest)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), v)
	_, _, err = TakeZigZag(rest)
	assert.Error(t, err)
}
