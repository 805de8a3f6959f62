package protocol

import (
	"encoding/binary"
	"fmt"
	"image/color"

	"github.com/pkg/errors"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/txn"
)

// Opcode is byte 0 of every message after the welcome frame.
type Opcode byte

const (
	OpSync     Opcode = 0
	OpUpdate   Opcode = 1
	OpPresence Opcode = 2
)

func (op Opcode) String() string {
	switch op {
	case OpSync:
		return "sync"
	case OpUpdate:
		return "update"
	case OpPresence:
		return "presence"
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// SyncSub is the category of a sync reply.
type SyncSub byte

const (
	SubMomentCount  SyncSub = 0
	SubMoments      SyncSub = 1
	SubTransactions SyncSub = 2
	SubCompressed   SyncSub = 3
	SubPNG          SyncSub = 4
)

func (s SyncSub) String() string {
	switch s {
	case SubMomentCount:
		return "moment_count"
	case SubMoments:
		return "moments"
	case SubTransactions:
		return "transactions"
	case SubCompressed:
		return "compressed_transactions"
	case SubPNG:
		return "png"
	}
	return fmt.Sprintf("sync(%d)", byte(s))
}

type PresenceSub byte

const (
	PresenceJoin     PresenceSub = 0
	PresenceLeave    PresenceSub = 1
	PresenceInfo     PresenceSub = 2
	PresenceRoster   PresenceSub = 3
	PresencePing     PresenceSub = 4
	PresenceColor    PresenceSub = 5
	PresenceUsername PresenceSub = 6
	PresenceCursor   PresenceSub = 7
)

func (p PresenceSub) String() string {
	names := [...]string{"join", "leave", "info", "roster", "ping", "color", "username", "cursor"}
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("presence(%d)", byte(p))
}

// Kind tells apart the message shapes sharing an opcode.
type Kind byte

const (
	KindInvalid Kind = iota
	// [0] joiner is ready for sync replies
	KindSyncAck
	// [0 0] joiner asks for state
	KindSyncRequest
	// [0 0 requester] relay hands a request to the room authority
	KindSyncForward
	// [0 sub target body...]
	KindSyncReply
	// [1 records...]
	KindUpdate
	// [2 sub user body...]
	KindPresence
)

type Message struct {
	Kind Kind
	Op   Opcode
	Sub  byte
	// reply target, presence subject or forwarded requester
	User byte
	Body []byte
}

// Parse classifies a non-welcome message. Body aliases msg.
func Parse(msg []byte) (m Message, err error) {
	if len(msg) == 0 {
		return m, errors.Wrap(mural_errors.ErrBadMessage, "empty message")
	}
	m.Op = Opcode(msg[0])
	switch m.Op {
	case OpSync:
		switch {
		case len(msg) == 1:
			m.Kind = KindSyncAck
		case len(msg) == 2 && msg[1] == 0:
			m.Kind = KindSyncRequest
		case len(msg) == 2:
			return m, errors.Wrapf(mural_errors.ErrBadMessage, "sync sub %d without target", msg[1])
		case len(msg) == 3 && msg[1] == 0:
			m.Kind = KindSyncForward
			m.User = msg[2]
		default:
			m.Kind = KindSyncReply
			m.Sub = msg[1]
			m.User = msg[2]
			m.Body = msg[3:]
			if m.Sub > byte(SubPNG) {
				return m, errors.Wrapf(mural_errors.ErrBadMessage, "sync sub %d", m.Sub)
			}
		}
	case OpUpdate:
		m.Kind = KindUpdate
		m.Body = msg[1:]
	case OpPresence:
		if len(msg) < 3 {
			return m, errors.Wrap(mural_errors.ErrBadMessage, "short presence")
		}
		m.Kind = KindPresence
		m.Sub = msg[1]
		m.User = msg[2]
		m.Body = msg[3:]
	default:
		return m, errors.Wrapf(mural_errors.ErrBadMessage, "opcode %d", msg[0])
	}
	return m, nil
}

// Welcome is the first frame a relay sends: the assigned user id followed
// by the room's canonical buffer.
func Welcome(user byte, buffer []byte) []byte {
	return append([]byte{user}, buffer...)
}

func ParseWelcome(msg []byte) (user byte, buffer []byte, err error) {
	if len(msg) == 0 {
		return 0, nil, errors.Wrap(mural_errors.ErrBadMessage, "empty welcome")
	}
	return msg[0], msg[1:], nil
}

func SyncAck() []byte {
	return []byte{byte(OpSync)}
}

func SyncRequest() []byte {
	return []byte{byte(OpSync), 0}
}

func SyncForward(requester byte) []byte {
	return []byte{byte(OpSync), 0, requester}
}

func SyncReply(sub SyncSub, target byte, body []byte) []byte {
	return append([]byte{byte(OpSync), byte(sub), target}, body...)
}

func MomentCount(target byte, n int) []byte {
	return SyncReply(SubMomentCount, target, binary.AppendUvarint(nil, uint64(n)))
}

func ParseMomentCount(body []byte) (int, error) {
	n, l := binary.Uvarint(body)
	if l <= 0 || l != len(body) {
		return 0, errors.Wrap(mural_errors.ErrBadMessage, "moment count")
	}
	return int(n), nil
}

func Update(records []byte) []byte {
	return append([]byte{byte(OpUpdate)}, records...)
}

func Presence(sub PresenceSub, user byte, body []byte) []byte {
	return append([]byte{byte(OpPresence), byte(sub), user}, body...)
}

func Cursor(user byte, at txn.Point) []byte {
	return Presence(PresenceCursor, user, at.Bytes())
}

func ParseCursor(body []byte) (txn.Point, error) {
	if len(body) != txn.PointLen {
		return txn.Point{}, errors.Wrap(mural_errors.ErrBadMessage, "cursor")
	}
	return txn.PointFromBytes(body), nil
}

func ParseColor(body []byte) (color.RGBA, error) {
	if len(body) != txn.ColorLen {
		return color.RGBA{}, errors.Wrap(mural_errors.ErrBadMessage, "color")
	}
	return color.RGBA{R: body[0], G: body[1], B: body[2], A: body[3]}, nil
}

// Member is one roster line.
type Member struct {
	User  byte
	Color color.RGBA
	Name  string
}

// Roster serializes members as U{ user color name } records.
func Roster(target byte, members []Member) []byte {
	var body []byte
	for _, m := range members {
		body = Append(body, 'U', []byte{m.User, m.Color.R, m.Color.G, m.Color.B, m.Color.A}, []byte(m.Name))
	}
	return Presence(PresenceRoster, target, body)
}

func ParseRoster(body []byte) (members []Member, err error) {
	for len(body) > 0 {
		var rec []byte
		if rec, body, err = TakeWary('U', body); err != nil {
			return nil, errors.Wrapf(mural_errors.ErrBadMessage, "roster entry %d: %v", len(members), err)
		}
		if len(rec) < 5 {
			return nil, errors.Wrapf(mural_errors.ErrBadMessage, "roster entry %d too short", len(members))
		}
		members = append(members, Member{
			User:  rec[0],
			Color: color.RGBA{R: rec[1], G: rec[2], B: rec[3], A: rec[4]},
			Name:  string(rec[5:]),
		})
	}
	return members, nil
}
