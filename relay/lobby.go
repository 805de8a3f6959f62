package relay

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/utils"
)

// Lobby is the registry of open rooms.
type Lobby struct {
	rooms  *xsync.MapOf[string, *Room]
	opts   RoomOptions
	log    utils.Logger
	names  func() string
	closed atomic.Bool
}

type LobbyOpt interface {
	Apply(*Lobby)
}

type LoggerOpt struct {
	Logger utils.Logger
}

func (opt *LoggerOpt) Apply(l *Lobby) {
	l.log = opt.Logger
	l.opts.Logger = opt.Logger
}

// AuthorityOpt attaches an authority to every room created from now on.
type AuthorityOpt struct {
	Attach func(r *Room) Authority
}

func (opt *AuthorityOpt) Apply(l *Lobby) {
	l.opts.Authority = opt.Attach
}

type RoomLimitsOpt struct {
	MaxUsers  int
	QueueSize int
	InboxSize int
}

func (opt *RoomLimitsOpt) Apply(l *Lobby) {
	l.opts.MaxUsers = opt.MaxUsers
	l.opts.QueueSize = opt.QueueSize
	l.opts.InboxSize = opt.InboxSize
}

type NamesOpt struct {
	Names func() string
}

func (opt *NamesOpt) Apply(l *Lobby) {
	l.names = opt.Names
}

// NewLobby creates an empty lobby.
//
// Example:
//
//	lobby := NewLobby(
//		&LoggerOpt{Logger: logger},
//		&AuthorityOpt{Attach: hub.Attach},
//	)
func NewLobby(opts ...LobbyOpt) *Lobby {
	l := &Lobby{
		rooms: xsync.NewMapOf[string, *Room](),
		names: RoomName,
	}
	for _, o := range opts {
		o.Apply(l)
	}
	if l.log == nil {
		l.log = utils.NewDefaultLogger(slog.LevelInfo)
		l.opts.Logger = l.log
	}
	return l
}

// Create opens a room under a fresh generated name.
func (l *Lobby) Create() (*Room, error) {
	for {
		if l.closed.Load() {
			return nil, mural_errors.ErrClosed
		}
		room, created := l.Open(l.names())
		if created {
			return room, nil
		}
	}
}

// Open returns the named room, creating it if needed.
func (l *Lobby) Open(name string) (room *Room, created bool) {
	room, loaded := l.rooms.LoadOrCompute(name, func() *Room {
		RoomsOpen.Inc()
		l.log.Info("relay: room opened", "room", name)
		return NewRoom(name, l.opts)
	})
	return room, !loaded
}

func (l *Lobby) Room(name string) (*Room, bool) {
	return l.rooms.Load(name)
}

func (l *Lobby) Len() int {
	return l.rooms.Size()
}

func (l *Lobby) Range(f func(name string, r *Room) bool) {
	l.rooms.Range(f)
}

// Remove closes and forgets a room.
func (l *Lobby) Remove(name string) error {
	room, ok := l.rooms.LoadAndDelete(name)
	if !ok {
		return mural_errors.ErrRoomUnknown
	}
	RoomsOpen.Dec()
	return room.Close()
}

func (l *Lobby) Close() error {
	l.closed.Store(true)
	l.rooms.Range(func(name string, _ *Room) bool {
		_ = l.Remove(name)
		return true
	})
	return nil
}

var adjectives = []string{
	"amber", "brisk", "calm", "dusty", "eager", "faded", "gentle", "hazy",
	"icy", "jolly", "keen", "lucid", "mellow", "noble", "olive", "pale",
	"quiet", "rusty", "silent", "tidy", "umber", "vivid", "warm", "young",
}

var nouns = []string{
	"brush", "canvas", "chalk", "easel", "fresco", "glaze", "gouache", "ink",
	"mural", "ochre", "palette", "pastel", "pigment", "quill", "sepia", "sketch",
	"stencil", "tempera", "tint", "umbra", "varnish", "wash",
}

// RoomName makes a readable room name like "hazy-easel-42".
func RoomName() string {
	return fmt.Sprintf("%s-%s-%02d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100))
}
