package protocol

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/txn"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		kind Kind
		sub  byte
		user byte
		body []byte
	}{
		{"ack", SyncAck(), KindSyncAck, 0, 0, nil},
		{"request", SyncRequest(), KindSyncRequest, 0, 0, nil},
		{"forward", SyncForward(7), KindSyncForward, 0, 7, nil},
		{"moment count", MomentCount(9, 300), KindSyncReply, 0, 9, []byte{0xac, 0x02}},
		{"empty transactions", SyncReply(SubTransactions, 3, nil), KindSyncReply, 2, 3, []byte{}},
		{"png", SyncReply(SubPNG, 3, []byte{1, 2}), KindSyncReply, 4, 3, []byte{1, 2}},
		{"update", Update([]byte{5, 6}), KindUpdate, 0, 0, []byte{5, 6}},
		{"presence", Presence(PresencePing, 4, []byte("hi")), KindPresence, 4, 4, []byte("hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, m.Kind)
			assert.Equal(t, tt.sub, m.Sub)
			assert.Equal(t, tt.user, m.User)
			if tt.body != nil {
				assert.Equal(t, tt.body, m.Body)
			}
		})
	}
}

func TestParse_Bad(t *testing.T) {
	for _, msg := range [][]byte{
		nil,
		{0, 3},
		{0, 9, 1, 1},
		{2, 1},
		{7},
	} {
		_, err := Parse(msg)
		assert.ErrorIs(t, err, mural_errors.ErrBadMessage, "%v", msg)
	}
}

func TestWelcome(t *testing.T) {
	user, buf, err := ParseWelcome(Welcome(2, []byte{1, 2, 3}))
	assert.NoError(t, err)
	assert.Equal(t, byte(2), user)
	assert.Equal(t, []byte{1, 2, 3}, buf)
	_, _, err = ParseWelcome(nil)
	assert.Error(t, err)
}

func TestMomentCount(t *testing.T) {
	m, err := Parse(MomentCount(1, 12345))
	require.NoError(t, err)
	n, err := ParseMomentCount(m.Body)
	assert.NoError(t, err)
	assert.Equal(t, 12345, n)
	_, err = ParseMomentCount(nil)
	assert.Error(t, err)
}

func TestRoster(t *testing.T) {
	members := []Member{
		{User: 0, Color: color.RGBA{R: 1, G: 2, B: 3, A: 255}, Name: "vermilion heron"},
		{User: 17, Name: ""},
	}
	m, err := Parse(Roster(17, members))
	require.NoError(t, err)
	assert.Equal(t, byte(PresenceRoster), m.Sub)
	got, err := ParseRoster(m.Body)
	assert.NoError(t, err)
	assert.Equal(t, members, got)

	_, err = ParseRoster(m.Body[:len(m.Body)-1])
	assert.Error(t, err)
}

func TestCursor(t *testing.T) {
	m, err := Parse(Cursor(5, txn.Point{X: -3, Y: 400}))
	require.NoError(t, err)
	p, err := ParseCursor(m.Body)
	assert.NoError(t, err)
	assert.Equal(t, txn.Point{X: -3, Y: 400}, p)
	_, err = ParseColor([]byte{1})
	assert.Error(t, err)
}
