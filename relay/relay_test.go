package relay

import (
	"image/color"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/syncproto"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

var logger = utils.NewDefaultLogger(slog.LevelWarn)

type box struct {
	msgs    chan []byte
	dropped atomic.Bool
}

func newBox(size int) *box {
	return &box{msgs: make(chan []byte, size)}
}

func (b *box) Send(msg []byte) bool {
	select {
	case b.msgs <- msg:
		return true
	default:
		return false
	}
}

func (b *box) Drop() {
	b.dropped.Store(true)
}

func (b *box) take() (out [][]byte) {
	for {
		select {
		case msg := <-b.msgs:
			out = append(out, msg)
		default:
			return
		}
	}
}

type fakeAuthority struct {
	updates  [][]byte
	requests []byte
	closed   bool
}

func (a *fakeAuthority) Update(records []byte) { a.updates = append(a.updates, records) }
func (a *fakeAuthority) Request(requester byte) { a.requests = append(a.requests, requester) }
func (a *fakeAuthority) Close() error {
	a.closed = true
	return nil
}

func newRoom(t *testing.T, opts RoomOptions) *Room {
	opts.Logger = logger
	r := NewRoom("test", opts)
	t.Cleanup(func() { r.Close() })
	return r
}

// settle waits for the room goroutine to process everything posted so far.
func settle(t *testing.T, r *Room) Stats {
	s, err := r.Stats()
	require.NoError(t, err)
	return s
}

func records(ts ...uint64) []byte {
	var recs []txn.Transaction
	for _, t := range ts {
		recs = append(recs, txn.NewFill(txn.NewIdentity(t, txn.OpID(t)), color.RGBA{R: byte(t), A: 255}, 0, txn.Point{X: 1, Y: 1}))
	}
	return txn.Concat(recs)
}

func join(t *testing.T, r *Room, b *box) byte {
	id, err := r.Join(b)
	require.NoError(t, err)
	return id
}

func TestRoom_Join(t *testing.T) {
	r := newRoom(t, RoomOptions{})
	a := newBox(16)
	assert.Equal(t, byte(0), join(t, r, a))
	assert.Equal(t, [][]byte{protocol.Welcome(0, nil), protocol.Roster(0, nil)}, a.take())
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(0, a, protocol.Update(records(1))))
	assert.Equal(t, Stats{Active: 1, Buffer: len(records(1))}, settle(t, r))

	b := newBox(16)
	assert.Equal(t, byte(1), join(t, r, b))
	got := b.take()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.Welcome(1, records(1)), got[0])
	m, err := protocol.Parse(got[1])
	require.NoError(t, err)
	members, err := protocol.ParseRoster(m.Body)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Member{{User: 0}}, members)
	assert.Equal(t, [][]byte{protocol.Presence(protocol.PresenceJoin, 1, nil)}, a.take())

	require.NoError(t, r.Leave(1, b))
	settle(t, r)
	assert.Equal(t, [][]byte{protocol.Presence(protocol.PresenceLeave, 1, nil)}, a.take())
	// a stale leave for someone else's id does nothing
	require.NoError(t, r.Leave(0, b))
	assert.Equal(t, 1, settle(t, r).Active)
}

func TestRoom_Backlog(t *testing.T) {
	r := newRoom(t, RoomOptions{})
	a, b := newBox(16), newBox(16)
	join(t, r, a)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	join(t, r, b)
	b.take()

	up := protocol.Update(records(5, 6))
	require.NoError(t, r.Message(0, a, up))
	settle(t, r)
	assert.Empty(t, b.take())
	// syncing users cannot publish yet
	require.NoError(t, r.Message(1, b, protocol.Update(records(7))))
	assert.Equal(t, Stats{Active: 1, Syncing: 1, Buffer: len(records(5, 6))}, settle(t, r))

	require.NoError(t, r.Message(1, b, protocol.SyncAck()))
	settle(t, r)
	assert.Equal(t, [][]byte{up}, b.take())
	a.take()

	require.NoError(t, r.Message(1, b, protocol.Update(records(7))))
	settle(t, r)
	assert.Equal(t, [][]byte{protocol.Update(records(7))}, a.take())
	assert.Empty(t, b.take())
}

func TestRoom_Degenerate(t *testing.T) {
	r := newRoom(t, RoomOptions{})
	a := newBox(16)
	join(t, r, a)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(0, a, protocol.Update(records(1, 2))))
	require.NoError(t, r.Message(0, a, protocol.SyncRequest()))
	settle(t, r)
	got := a.take()
	require.Len(t, got, 5)
	assert.Equal(t, syncproto.Degenerate(0, records(1, 2)), got[2:])
}

func TestRoom_Authority(t *testing.T) {
	auth := &fakeAuthority{}
	r := newRoom(t, RoomOptions{Authority: func(*Room) Authority { return auth }})
	assert.Equal(t, auth, r.Authority())
	a, b := newBox(16), newBox(16)
	join(t, r, a)
	join(t, r, b)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(0, a, protocol.Update(records(3))))
	require.NoError(t, r.Message(1, b, protocol.SyncRequest()))
	// forwards are never accepted from users
	require.NoError(t, r.Message(0, a, protocol.SyncForward(1)))
	settle(t, r)
	assert.Equal(t, [][]byte{records(3)}, auth.updates)
	assert.Equal(t, []byte{1}, auth.requests)

	b.take()
	reply := protocol.MomentCount(1, 0)
	require.NoError(t, r.Reply(reply))
	require.NoError(t, r.Reply(protocol.MomentCount(9, 0)))
	require.NoError(t, r.Reply(protocol.Update(records(4))))
	settle(t, r)
	assert.Equal(t, [][]byte{reply}, b.take())

	require.NoError(t, r.Close())
	assert.True(t, auth.closed)
	assert.True(t, a.dropped.Load())
	_, err := r.Join(newBox(1))
	assert.ErrorIs(t, err, mural_errors.ErrClosed)
}

func TestRoom_Presence(t *testing.T) {
	r := newRoom(t, RoomOptions{})
	a, b := newBox(16), newBox(16)
	join(t, r, a)
	join(t, r, b)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(1, b, protocol.SyncAck()))
	settle(t, r)
	a.take()
	b.take()

	require.NoError(t, r.Message(0, a, protocol.Presence(protocol.PresencePing, 7, []byte{1, 2})))
	red := []byte{255, 0, 0, 255}
	require.NoError(t, r.Message(0, a, protocol.Presence(protocol.PresenceColor, 9, red)))
	require.NoError(t, r.Message(0, a, protocol.Presence(protocol.PresenceUsername, 9, []byte("ada"))))
	require.NoError(t, r.Message(0, a, protocol.Cursor(9, txn.Point{X: 3, Y: 4})))
	require.NoError(t, r.Message(0, a, protocol.Presence(protocol.PresenceJoin, 9, nil)))
	require.NoError(t, r.Message(0, a, protocol.Presence(protocol.PresenceColor, 9, []byte{1})))
	settle(t, r)

	assert.Equal(t, [][]byte{protocol.Presence(protocol.PresencePing, 0, []byte{1, 2})}, a.take())
	assert.Equal(t, [][]byte{
		protocol.Presence(protocol.PresenceColor, 0, red),
		protocol.Presence(protocol.PresenceUsername, 0, []byte("ada")),
		protocol.Cursor(0, txn.Point{X: 3, Y: 4}),
	}, b.take())

	c := newBox(16)
	join(t, r, c)
	got := c.take()
	require.Len(t, got, 2)
	m, err := protocol.Parse(got[1])
	require.NoError(t, err)
	members, err := protocol.ParseRoster(m.Body)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Member{
		{User: 0, Color: color.RGBA{R: 255, A: 255}, Name: "ada"},
		{User: 1},
	}, members)
}

func TestRoom_Unframed(t *testing.T) {
	r := newRoom(t, RoomOptions{})
	a, b := newBox(16), newBox(16)
	join(t, r, a)
	join(t, r, b)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(1, b, protocol.SyncAck()))
	settle(t, r)
	b.take()

	bad := append(records(1), 1, 2, 3)
	require.NoError(t, r.Message(0, a, protocol.Update(bad)))
	require.NoError(t, r.Message(0, a, protocol.Update(nil)))
	require.NoError(t, r.Message(0, a, []byte{9, 9}))
	assert.Equal(t, 0, settle(t, r).Buffer)
	assert.Empty(t, b.take())
}

func TestRoom_CyclicIDs(t *testing.T) {
	r := newRoom(t, RoomOptions{MaxUsers: 2})
	a, b, c := newBox(4), newBox(4), newBox(4)
	assert.Equal(t, byte(0), join(t, r, a))
	assert.Equal(t, byte(1), join(t, r, b))
	_, err := r.Join(c)
	assert.ErrorIs(t, err, mural_errors.ErrRoomFull)

	require.NoError(t, r.Leave(0, a))
	assert.Equal(t, byte(2), join(t, r, c))
}

func TestRoom_SlowUser(t *testing.T) {
	r := newRoom(t, RoomOptions{QueueSize: 2})
	a, slow, lagging := newBox(64), newBox(3), newBox(64)
	join(t, r, a)
	join(t, r, slow)
	require.NoError(t, r.Message(0, a, protocol.SyncAck()))
	require.NoError(t, r.Message(1, slow, protocol.SyncAck()))
	join(t, r, lagging)
	settle(t, r)

	for ts := uint64(1); ts <= 5; ts++ {
		require.NoError(t, r.Message(0, a, protocol.Update(records(ts))))
	}
	s := settle(t, r)
	assert.True(t, slow.dropped.Load())
	assert.True(t, lagging.dropped.Load())
	assert.False(t, a.dropped.Load())
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 0, s.Syncing)
}

func TestLobby(t *testing.T) {
	n := 0
	names := func() string {
		n++
		return []string{"one", "one", "two"}[n-1]
	}
	l := NewLobby(&LoggerOpt{Logger: logger}, &NamesOpt{Names: names}, &RoomLimitsOpt{MaxUsers: 3})
	r1, err := l.Create()
	require.NoError(t, err)
	r2, err := l.Create()
	require.NoError(t, err)
	assert.Equal(t, "one", r1.Name())
	assert.Equal(t, "two", r2.Name())
	assert.Equal(t, 2, l.Len())

	got, ok := l.Room("two")
	assert.True(t, ok)
	assert.Same(t, r2, got)
	_, created := l.Open("two")
	assert.False(t, created)

	require.NoError(t, l.Remove("one"))
	assert.ErrorIs(t, l.Remove("one"), mural_errors.ErrRoomUnknown)
	require.NoError(t, l.Close())
	assert.Equal(t, 0, l.Len())
	_, err = l.Create()
	assert.ErrorIs(t, err, mural_errors.ErrClosed)
}

func TestRoomName(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.Regexp(t, `^[a-z]+-[a-z]+-\d\d$`, RoomName())
	}
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	return msg
}

func write(t *testing.T, conn *websocket.Conn, msg []byte) {
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, msg))
}

func TestServer(t *testing.T) {
	lobby := NewLobby(&LoggerOpt{Logger: logger})
	s := NewServer(lobby, ServerOptions{Logger: logger})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	room := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(room, "/"))

	resp, err = client.Get(ts.URL + room)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + room + "/preview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + room + "/ws"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	assert.Equal(t, protocol.Welcome(0, nil), read(t, first))
	read(t, first)
	write(t, first, protocol.SyncAck())
	write(t, first, protocol.SyncRequest())
	for _, want := range syncproto.Degenerate(0, nil) {
		assert.Equal(t, want, read(t, first))
	}

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, protocol.Welcome(1, nil), read(t, second))
	read(t, second)
	write(t, second, protocol.SyncAck())
	assert.Equal(t, protocol.Presence(protocol.PresenceJoin, 1, nil), read(t, first))

	up := protocol.Update(records(10, 11))
	write(t, first, up)
	assert.Equal(t, up, read(t, second))

	require.NoError(t, second.Close())
	assert.Equal(t, protocol.Presence(protocol.PresenceLeave, 1, nil), read(t, first))
}
