package relay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/protocol"
)

// Link is the room side of one connection: the Outbox the room writes to
// and the FeedDrainCloser a Peer pumps.
type Link struct {
	room  *Room
	id    byte
	trace string
	batch int

	out     chan []byte
	done    chan struct{}
	dropped sync.Once
}

func NewLink(room *Room, queue, batch int) *Link {
	if queue <= 0 {
		queue = 1024
	}
	if batch <= 0 {
		batch = 64
	}
	return &Link{
		room:  room,
		trace: uuid.NewString(),
		batch: batch,
		out:   make(chan []byte, queue),
		done:  make(chan struct{}),
	}
}

// Join enters the room; the welcome frame is queued on success.
func (l *Link) Join() (byte, error) {
	id, err := l.room.Join(l)
	l.id = id
	return id, err
}

func (l *Link) User() byte {
	return l.id
}

func (l *Link) GetTraceId() string {
	return l.trace
}

func (l *Link) Send(msg []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.out <- msg:
		return true
	default:
		return false
	}
}

func (l *Link) Drop() {
	l.dropped.Do(func() { close(l.done) })
}

// Feed blocks for the next message and returns whatever else is queued
// behind it, up to the batch size. A dropped link feeds io.EOF.
func (l *Link) Feed(ctx context.Context) (recs protocol.Records, err error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, io.EOF
	case msg := <-l.out:
		recs = append(recs, msg)
	}
	for len(recs) < l.batch {
		select {
		case msg := <-l.out:
			recs = append(recs, msg)
		default:
			return recs, nil
		}
	}
	return recs, nil
}

func (l *Link) Drain(ctx context.Context, recs protocol.Records) error {
	for _, msg := range recs {
		if err := l.room.Message(l.id, l, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close leaves the room. Safe to call after the room dropped the link.
func (l *Link) Close() error {
	l.Drop()
	if err := l.room.Leave(l.id, l); err != nil && !errors.Is(err, mural_errors.ErrClosed) {
		return err
	}
	return nil
}
