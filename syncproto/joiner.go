// Package syncproto is the join handshake. The joining side collects the
// authority's state in any order and applies it only once complete; the
// authority side packs that state into reply messages.
package syncproto

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/moment"
	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/utils"
)

type State byte

const (
	// waiting for the relay's welcome frame
	AwaitWelcome State = iota
	// welcome seen, collecting sync replies
	Collecting
	// state applied, render queue not drained yet
	Replaying
	// initialized; local edits go out
	Live
)

func (s State) String() string {
	switch s {
	case AwaitWelcome:
		return "await_welcome"
	case Collecting:
		return "collecting"
	case Replaying:
		return "replaying"
	case Live:
		return "live"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// Joiner tracks one handshake on the joining side.
type Joiner struct {
	state State
	user  byte
	log   utils.Logger

	welcome []byte
	live    [][]byte

	count      int
	haveCount  bool
	moments    [][]byte
	raw        []byte
	haveRaw    bool
	compressed []byte
	haveZip    bool
	png        []byte
}

func NewJoiner(log utils.Logger) *Joiner {
	return &Joiner{log: log}
}

func (j *Joiner) State() State {
	return j.state
}

// User is the id the relay assigned.
func (j *Joiner) User() byte {
	return j.user
}

// PNG is the preview image, if the authority sent one.
func (j *Joiner) PNG() []byte {
	return j.png
}

// Welcome consumes the first relay frame and returns the messages to send
// back: the ack that lets live traffic through and the state request.
func (j *Joiner) Welcome(msg []byte) (out [][]byte, err error) {
	if j.state != AwaitWelcome {
		return nil, errors.Wrapf(mural_errors.ErrBadMessage, "welcome in state %s", j.state)
	}
	var buffer []byte
	if j.user, buffer, err = protocol.ParseWelcome(msg); err != nil {
		return nil, err
	}
	j.welcome = append([]byte(nil), buffer...)
	j.state = Collecting
	j.log.Debug("sync: welcome", "user", j.user, "buffer", len(buffer))
	return [][]byte{protocol.SyncAck(), protocol.SyncRequest()}, nil
}

// Reset starts the handshake over for a new connection. The user id is
// replaced by the next welcome; the caller's log is left alone.
func (j *Joiner) Reset() {
	*j = Joiner{log: j.log, png: j.png}
}

// Retry discards the collected replies and returns a fresh state request.
// The welcome buffer and the live records held so far are kept.
func (j *Joiner) Retry() [][]byte {
	j.drop()
	j.log.Debug("sync: retry", "user", j.user)
	return [][]byte{protocol.SyncRequest()}
}

func (j *Joiner) drop() {
	j.count, j.haveCount = 0, false
	j.moments, j.raw, j.compressed = nil, nil, nil
	j.haveRaw, j.haveZip = false, false
}

// Update holds live records that arrive during the handshake.
func (j *Joiner) Update(records []byte) {
	j.live = append(j.live, append([]byte(nil), records...))
}

// Reply files one sync reply. Replies for other users are ignored.
func (j *Joiner) Reply(m protocol.Message) error {
	if m.Kind != protocol.KindSyncReply || m.User != j.user {
		return nil
	}
	if j.state != Collecting {
		j.log.Debug("sync: late reply", "sub", protocol.SyncSub(m.Sub).String(), "state", j.state.String())
		return nil
	}
	switch protocol.SyncSub(m.Sub) {
	case protocol.SubMomentCount:
		n, err := protocol.ParseMomentCount(m.Body)
		if err != nil {
			return err
		}
		j.count, j.haveCount = n, true
	case protocol.SubMoments:
		j.moments = append(j.moments, append([]byte(nil), m.Body...))
	case protocol.SubTransactions:
		j.raw, j.haveRaw = append(j.raw, m.Body...), true
	case protocol.SubCompressed:
		j.compressed, j.haveZip = append([]byte(nil), m.Body...), true
	case protocol.SubPNG:
		j.png = append([]byte(nil), m.Body...)
	}
	return nil
}

// Complete tells whether every category has arrived.
func (j *Joiner) Complete() bool {
	return j.state == Collecting && j.haveCount && j.haveRaw && j.haveZip && len(j.moments) >= j.count
}

// Apply installs the collected state: records from every source are
// merged, the moments become the only snapshot history and the canvas is
// rolled back to the newest of them for replay. Local records committed to
// the log meanwhile are merged along with the rest.
func (j *Joiner) Apply(l *txlog.Log, store *moment.Store) error {
	if !j.Complete() {
		return mural_errors.ErrIncomplete
	}
	history, err := codec.Decompress(j.compressed)
	if err != nil {
		return errors.Wrap(err, "compressed history")
	}
	moments := make([]*moment.Moment, 0, len(j.moments))
	for i, data := range j.moments {
		m, _, err := store.Decode(data)
		if err != nil {
			for _, done := range moments {
				for _, id := range done.Tiles {
					store.RecycleChunk(id)
				}
			}
			return errors.Wrapf(err, "moment %d", i)
		}
		moments = append(moments, m)
	}

	l.Queue(history...)
	l.Receive(j.raw)
	l.Receive(j.welcome)
	for _, rec := range j.live {
		l.Receive(rec)
	}
	l.PushTransactions()

	store.Install(moments)
	if n := len(moments); n > 0 {
		newest := moments[n-1].Tx
		store.Tracker().MarkAll(store.CanvasSize())
		store.Rollback(&newest)
	} else {
		store.Rollback(nil)
	}
	j.log.Debug("sync: applied", "user", j.user, "moments", len(moments), "history", len(history), "log", l.Len(), "rendered", l.Rendered())

	j.drop()
	j.welcome, j.live = nil, nil
	j.state = Replaying
	return nil
}

// Settle ends the handshake once the render queue has drained.
func (j *Joiner) Settle() bool {
	if j.state == Replaying {
		j.state = Live
		j.log.Debug("sync: live", "user", j.user)
	}
	return j.state == Live
}
