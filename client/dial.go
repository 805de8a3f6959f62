package client

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/relay"
	"github.com/drpcorg/mural/utils"
)

type DialOptions struct {
	Peer relay.PeerOptions
	// outbound batching period
	FlushInterval time.Duration
	Header        http.Header
}

func (o *DialOptions) SetDefaults() {
	if o.FlushInterval == 0 {
		o.FlushInterval = 100 * time.Millisecond
	}
}

// pump feeds the session's outbound batches on a timer and drains relay
// frames into it.
type pump struct {
	session *Session
	log     utils.Logger
	trace   string
	ticker  *time.Ticker
	done    chan struct{}
	closing sync.Once
}

func (p *pump) GetTraceId() string {
	return p.trace
}

func (p *pump) Feed(ctx context.Context) (protocol.Records, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return p.session.Flush(), io.EOF
		case <-p.ticker.C:
			if out := p.session.Flush(); len(out) > 0 {
				return out, nil
			}
		}
	}
}

func (p *pump) Drain(ctx context.Context, recs protocol.Records) error {
	for _, msg := range recs {
		if err := p.session.Receive(msg); err != nil {
			p.log.DebugCtx(ctx, "client: message skipped", "len", len(msg), "err", err)
		}
	}
	return nil
}

func (p *pump) Close() error {
	p.closing.Do(func() { close(p.done) })
	return nil
}

// Conn is a session attached to a relay room.
type Conn struct {
	pump *pump
	peer *relay.Peer
	wg   sync.WaitGroup
	err  error
}

// Dial connects s to a room socket URL such as ws://host/room/ws. A session
// that was connected before rejoins: it takes the new user id from the
// welcome, resyncs and then sends the edits it kept meanwhile. The previous
// Conn must be closed first.
func Dial(ctx context.Context, url string, s *Session, opts DialOptions) (*Conn, error) {
	opts.SetDefaults()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	s.rejoin()
	p := &pump{
		session: s,
		log:     s.log,
		trace:   uuid.NewString(),
		ticker:  time.NewTicker(opts.FlushInterval),
		done:    make(chan struct{}),
	}
	c := &Conn{pump: p, peer: relay.NewPeer(ws, p, opts.Peer)}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer p.ticker.Stop()
		ctx := utils.WithDefaultArgs(context.Background(), "url", url, "trace", p.trace)
		s.log.InfoCtx(ctx, "client: connected")
		rerr, werr, cerr := c.peer.Keep(ctx)
		for _, err := range []error{rerr, werr, cerr} {
			if err != nil && c.err == nil {
				c.err = err
			}
		}
		s.log.InfoCtx(ctx, "client: disconnected", "read_err", rerr, "write_err", werr, "close_err", cerr)
	}()
	return c, nil
}

func (c *Conn) TraceId() string {
	return c.pump.trace
}

// Wait blocks until the connection ends and returns the first error.
func (c *Conn) Wait() error {
	c.wg.Wait()
	return c.err
}

// Close sends whatever is pending and disconnects.
func (c *Conn) Close() error {
	_ = c.pump.Close()
	err := c.Wait()
	_ = c.peer.Close()
	return err
}
