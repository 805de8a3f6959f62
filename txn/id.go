package txn

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

/*
Identity is the 10-byte sort key of a transaction.

	0.......8.......16......24......32......40......48......56......64......72......80
	+-------+-------+-------+-------+-------+-------+-------+-------+-------+-------+
	|............timestamp.(40.bits,.ms)......|.......operation.random.(40.bits).....|

Identities are compared lexicographically, so the timestamp dominates and the
random half breaks ties. The order is not causal; it only has to be the same
on every replica.
*/
type Identity [IdentityLen]byte

const (
	IdentityLen  = 10
	TimestampLen = 5
	OpLen        = 5
	TimestampMax = uint64(1)<<40 - 1
)

// OpID groups the records of one gesture; it is the random half of the identity.
type OpID uint64

var Identity0 Identity

func NewIdentity(ts uint64, op OpID) (id Identity) {
	putUint40(id[0:TimestampLen], ts)
	putUint40(id[TimestampLen:IdentityLen], uint64(op))
	return
}

func IdentityFromBytes(by []byte) (id Identity) {
	copy(id[:], by)
	return
}

func (id Identity) Timestamp() uint64 {
	return uint40(id[0:TimestampLen])
}

func (id Identity) Op() OpID {
	return OpID(uint40(id[TimestampLen:IdentityLen]))
}

func (id Identity) Compare(other Identity) int {
	return bytes.Compare(id[:], other[:])
}

func (id Identity) Less(other Identity) bool {
	return id.Compare(other) < 0
}

// String renders the identity as ts-op in hex, e.g. "18f3a2b4c01-9e2f0a1b3c".
func (id Identity) String() string {
	return hex.EncodeToString(id[0:TimestampLen]) + "-" + hex.EncodeToString(id[TimestampLen:])
}

// ParseIdentity is the inverse of String; a malformed input yields false.
func ParseIdentity(s string) (id Identity, ok bool) {
	ts, op, found := strings.Cut(s, "-")
	if !found || len(ts) != TimestampLen*2 || len(op) != OpLen*2 {
		return
	}
	if _, err := hex.Decode(id[0:TimestampLen], []byte(ts)); err != nil {
		return Identity0, false
	}
	if _, err := hex.Decode(id[TimestampLen:], []byte(op)); err != nil {
		return Identity0, false
	}
	return id, true
}

func (op OpID) Bytes() []byte {
	var ret [OpLen]byte
	putUint40(ret[:], uint64(op))
	return ret[:]
}

func OpFromBytes(by []byte) OpID {
	return OpID(uint40(by[:OpLen]))
}

func uint40(by []byte) uint64 {
	var b [8]byte
	copy(b[3:], by[:5])
	return binary.BigEndian.Uint64(b[:])
}

func putUint40(into []byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	copy(into[:5], b[3:])
}
