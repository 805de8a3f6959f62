// Package relay hosts rooms. A room hands every joiner its canonical
// buffer, forwards sync traffic between joiners and the room authority,
// fans UPDATE batches out to the other users and keeps presence. The relay
// never interprets records beyond framing them.
package relay

import (
	"context"
	"sync"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/syncproto"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// Outbox is how a room reaches one user. Send must not block; false means
// the user cannot keep up. Drop cuts the user off, the room has already
// forgotten it by then.
type Outbox interface {
	Send(msg []byte) bool
	Drop()
}

// Authority keeps a room's canonical history. Its methods run on the room
// goroutine and must not block; answers come back through Room.Reply.
type Authority interface {
	Update(records []byte)
	Request(requester byte)
	Close() error
}

// Previewer is an authority that renders the canvas as PNG.
type Previewer interface {
	Preview(ctx context.Context) ([]byte, error)
}

type RoomOptions struct {
	Logger utils.Logger
	// events waiting for the room goroutine
	InboxSize int
	// messages a syncing user may fall behind by
	QueueSize int
	MaxUsers  int
	// attaches the authority when the room is created
	Authority func(r *Room) Authority
}

func (o *RoomOptions) SetDefaults() {
	if o.InboxSize == 0 {
		o.InboxSize = 1024
	}
	if o.QueueSize == 0 {
		o.QueueSize = 1024
	}
	if o.MaxUsers <= 0 || o.MaxUsers > 256 {
		o.MaxUsers = 256
	}
}

type eventKind byte

const (
	evJoin eventKind = iota
	evLeave
	evMessage
	evReply
	evStats
)

type event struct {
	kind  eventKind
	id    byte
	out   Outbox
	msg   []byte
	ret   chan joined
	stats chan Stats
}

type joined struct {
	id  byte
	err error
}

// Stats is a point-in-time view of a room.
type Stats struct {
	Active  int
	Syncing int
	Buffer  int
}

type member struct {
	id      byte
	out     Outbox
	active  bool
	backlog [][]byte
	info    protocol.Member
}

type Room struct {
	name      string
	opts      RoomOptions
	log       utils.Logger
	ctx       context.Context
	authority Authority

	inbox   chan event
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup

	// owned by the room goroutine
	members [256]*member
	next    int
	count   int
	buffer  []byte
}

// NewRoom starts a room goroutine; Close stops it.
func NewRoom(name string, opts RoomOptions) *Room {
	opts.SetDefaults()
	r := &Room{
		name:  name,
		opts:  opts,
		log:   opts.Logger,
		ctx:   utils.WithDefaultArgs(context.Background(), "room", name),
		inbox: make(chan event, opts.InboxSize),
		done:  make(chan struct{}),
	}
	if opts.Authority != nil {
		r.authority = opts.Authority(r)
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Room) Name() string {
	return r.name
}

// Authority is nil for rooms that answer state requests themselves.
func (r *Room) Authority() Authority {
	return r.authority
}

func (r *Room) post(e event) error {
	select {
	case <-r.done:
		return mural_errors.ErrClosed
	case r.inbox <- e:
		return nil
	}
}

// Join registers a user. The welcome frame is already in out when Join
// returns.
func (r *Room) Join(out Outbox) (byte, error) {
	ret := make(chan joined, 1)
	if err := r.post(event{kind: evJoin, out: out, ret: ret}); err != nil {
		return 0, err
	}
	select {
	case j := <-ret:
		return j.id, j.err
	case <-r.done:
		return 0, mural_errors.ErrClosed
	}
}

// Leave is a no-op unless out still holds the id.
func (r *Room) Leave(id byte, out Outbox) error {
	return r.post(event{kind: evLeave, id: id, out: out})
}

// Message hands one user message to the room; msg is retained.
func (r *Room) Message(id byte, out Outbox, msg []byte) error {
	return r.post(event{kind: evMessage, id: id, out: out, msg: msg})
}

// Reply routes an authority's sync reply to its target user.
func (r *Room) Reply(msg []byte) error {
	return r.post(event{kind: evReply, msg: msg})
}

func (r *Room) Stats() (Stats, error) {
	ret := make(chan Stats, 1)
	if err := r.post(event{kind: evStats, stats: ret}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-ret:
		return s, nil
	case <-r.done:
		return Stats{}, mural_errors.ErrClosed
	}
}

func (r *Room) Close() error {
	r.closing.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}

func (r *Room) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			r.shutdown()
			return
		case e := <-r.inbox:
			r.handle(e)
		}
	}
}

func (r *Room) shutdown() {
	for _, m := range r.members {
		if m != nil {
			r.forget(m)
			m.out.Drop()
		}
	}
	if r.authority != nil {
		if err := r.authority.Close(); err != nil {
			r.log.WarnCtx(r.ctx, "relay: authority close failed", "err", err)
		}
	}
	r.log.InfoCtx(r.ctx, "relay: room closed", "buffer", len(r.buffer))
}

func (r *Room) handle(e event) {
	switch e.kind {
	case evJoin:
		id, err := r.join(e.out)
		e.ret <- joined{id: id, err: err}
	case evLeave:
		if m := r.members[e.id]; m != nil && m.out == e.out {
			r.remove(m)
		}
	case evMessage:
		if m := r.members[e.id]; m != nil && m.out == e.out {
			r.message(m, e.msg)
		}
	case evReply:
		r.reply(e.msg)
	case evStats:
		s := Stats{Buffer: len(r.buffer)}
		for _, m := range r.members {
			switch {
			case m == nil:
			case m.active:
				s.Active++
			default:
				s.Syncing++
			}
		}
		e.stats <- s
	}
}

func (r *Room) join(out Outbox) (byte, error) {
	if r.count >= r.opts.MaxUsers {
		return 0, mural_errors.ErrRoomFull
	}
	var m *member
	for i := 0; i < len(r.members); i++ {
		id := byte((r.next + i) % len(r.members))
		if r.members[id] == nil {
			m = &member{id: id, out: out, info: protocol.Member{User: id}}
			r.members[id] = m
			r.next = (int(id) + 1) % len(r.members)
			break
		}
	}
	if m == nil {
		return 0, mural_errors.ErrRoomFull
	}
	r.count++
	UsersConnected.WithLabelValues("syncing").Inc()
	r.log.DebugCtx(r.ctx, "relay: join", "user", m.id, "buffer", len(r.buffer))

	if !out.Send(protocol.Welcome(m.id, r.buffer)) || !out.Send(protocol.Roster(m.id, r.roster())) {
		r.kick(m, "slow")
		return 0, mural_errors.ErrClosed
	}
	r.broadcast(m, protocol.Presence(protocol.PresenceJoin, m.id, nil))
	return m.id, nil
}

func (r *Room) roster() (members []protocol.Member) {
	for _, m := range r.members {
		if m != nil && m.active {
			members = append(members, m.info)
		}
	}
	return
}

func (r *Room) forget(m *member) {
	r.members[m.id] = nil
	r.count--
	if m.active {
		UsersConnected.WithLabelValues("active").Dec()
	} else {
		UsersConnected.WithLabelValues("syncing").Dec()
	}
}

func (r *Room) remove(m *member) {
	r.forget(m)
	r.log.DebugCtx(r.ctx, "relay: leave", "user", m.id)
	r.broadcast(m, protocol.Presence(protocol.PresenceLeave, m.id, nil))
}

func (r *Room) kick(m *member, reason string) {
	if r.members[m.id] != m {
		return
	}
	MessagesDropped.WithLabelValues(reason).Inc()
	r.log.InfoCtx(r.ctx, "relay: user dropped", "user", m.id, "reason", reason)
	r.remove(m)
	m.out.Drop()
}

func (r *Room) send(m *member, msg []byte) {
	if r.members[m.id] != m {
		return
	}
	if !m.out.Send(msg) {
		r.kick(m, "slow")
	}
}

// broadcast sends to every active user but from.
func (r *Room) broadcast(from *member, msg []byte) {
	for _, m := range r.members {
		if m != nil && m != from && m.active {
			r.send(m, msg)
		}
	}
}

func (r *Room) drop(m *member, msg protocol.Message, reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
	r.log.DebugCtx(r.ctx, "relay: message dropped", "user", m.id, "op", msg.Op.String(), "reason", reason)
}

func (r *Room) message(m *member, raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		MessagesDropped.WithLabelValues("malformed").Inc()
		r.log.DebugCtx(r.ctx, "relay: bad message", "user", m.id, "err", err)
		return
	}
	MessagesIn.WithLabelValues(msg.Op.String()).Inc()
	if !m.active && msg.Op != protocol.OpSync {
		r.drop(m, msg, "syncing")
		return
	}
	switch msg.Kind {
	case protocol.KindSyncAck:
		r.activate(m)
	case protocol.KindSyncRequest:
		r.request(m)
	case protocol.KindUpdate:
		r.update(m, raw, msg.Body)
	case protocol.KindPresence:
		r.presence(m, msg)
	default:
		// forwards and replies only come from the relay and the authority
		r.drop(m, msg, "reserved")
	}
}

func (r *Room) activate(m *member) {
	if m.active {
		return
	}
	m.active = true
	UsersConnected.WithLabelValues("syncing").Dec()
	UsersConnected.WithLabelValues("active").Inc()
	backlog := m.backlog
	m.backlog = nil
	for _, msg := range backlog {
		if !m.out.Send(msg) {
			r.kick(m, "slow")
			return
		}
	}
	r.log.DebugCtx(r.ctx, "relay: active", "user", m.id, "backlog", len(backlog))
}

func (r *Room) request(m *member) {
	if r.authority != nil {
		r.authority.Request(m.id)
		return
	}
	for _, msg := range syncproto.Degenerate(m.id, r.buffer) {
		if !m.out.Send(msg) {
			r.kick(m, "slow")
			return
		}
	}
}

func (r *Room) reply(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil || msg.Kind != protocol.KindSyncReply {
		MessagesDropped.WithLabelValues("malformed").Inc()
		r.log.WarnCtx(r.ctx, "relay: bad authority reply", "err", err)
		return
	}
	if m := r.members[msg.User]; m != nil {
		r.send(m, raw)
	}
}

func (r *Room) update(from *member, raw, body []byte) {
	recs, rest := txn.Split(body)
	if len(recs) == 0 || len(rest) > 0 {
		MessagesDropped.WithLabelValues("unframed").Inc()
		r.log.DebugCtx(r.ctx, "relay: unframed update", "user", from.id, "len", len(body))
		return
	}
	r.buffer = append(r.buffer, body...)
	BufferBytes.Observe(float64(len(r.buffer)))
	if r.authority != nil {
		r.authority.Update(body)
	}
	for _, m := range r.members {
		switch {
		case m == nil || m == from:
		case m.active:
			r.send(m, raw)
		case len(m.backlog) >= r.opts.QueueSize:
			r.kick(m, "backlog")
		default:
			m.backlog = append(m.backlog, raw)
		}
	}
}

func (r *Room) presence(m *member, msg protocol.Message) {
	sub := protocol.PresenceSub(msg.Sub)
	switch sub {
	case protocol.PresencePing:
		r.send(m, protocol.Presence(sub, m.id, msg.Body))
		return
	case protocol.PresenceColor:
		c, err := protocol.ParseColor(msg.Body)
		if err != nil {
			r.drop(m, msg, "malformed")
			return
		}
		m.info.Color = c
	case protocol.PresenceUsername:
		name := msg.Body
		if len(name) > 64 {
			name = name[:64]
		}
		m.info.Name = string(name)
		msg.Body = name
	case protocol.PresenceInfo, protocol.PresenceCursor:
	default:
		r.drop(m, msg, "reserved")
		return
	}
	r.broadcast(m, protocol.Presence(sub, m.id, msg.Body))
}
