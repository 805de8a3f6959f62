package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drpcorg/mural/protocol"
	"github.com/drpcorg/mural/utils"
)

type PeerOptions struct {
	WriteTimeout time.Duration
	// largest message accepted from the remote side
	ReadLimit int64
}

func (o *PeerOptions) SetDefaults() {
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = 64 << 20
	}
}

// Peer pumps one websocket connection: every binary frame read goes to
// inout.Drain, every record inout.Feed returns is written as one binary
// frame. The same Peer serves relay users and dialing clients.
type Peer struct {
	closed     atomic.Bool
	wg         sync.WaitGroup
	writeBatch utils.AvgVal

	conn  *websocket.Conn
	inout protocol.FeedDrainCloserTraced
	opts  PeerOptions
}

func NewPeer(conn *websocket.Conn, inout protocol.FeedDrainCloserTraced, opts PeerOptions) *Peer {
	opts.SetDefaults()
	conn.SetReadLimit(opts.ReadLimit)
	return &Peer{
		conn:  conn,
		inout: inout,
		opts:  opts,
	}
}

func (p *Peer) GetTraceId() string {
	return p.inout.GetTraceId()
}

// WriteBatch reports the mean and the largest number of messages per
// write wakeup.
func (p *Peer) WriteBatch() (avg, max float64) {
	return p.writeBatch.Val(), p.writeBatch.Max()
}

func (p *Peer) keepRead(ctx context.Context) error {
	for !p.closed.Load() {
		typ, msg, err := p.conn.ReadMessage()
		if err != nil {
			return err
		}
		if typ != websocket.BinaryMessage || len(msg) == 0 {
			continue
		}
		if err := p.inout.Drain(ctx, protocol.Records{msg}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() {
		recs, err := p.inout.Feed(ctx)
		if len(recs) > 0 {
			p.writeBatch.Add(float64(len(recs)))
			WriteBatch.Observe(float64(len(recs)))
			BytesWritten.Add(float64(recs.TotalLen()))
		}
		for _, r := range recs {
			p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if werr := p.conn.WriteMessage(websocket.BinaryMessage, r); werr != nil {
				return werr
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			deadline := time.Now().Add(p.opts.WriteTimeout)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
	}
	return nil
}

// Keep runs the read and write loops until both end. A finished writer
// closes the connection, which ends the reader; a finished reader cancels
// the writer's Feed.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	p.wg.Add(2)
	defer p.wg.Add(-2)

	if p.closed.Load() {
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) || websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rerr = nil
			}
			cancel()
		case werr = <-writeErrCh:
			cerr = p.conn.Close()
		}
		p.closed.Store(true)
	}
	return
}

func (p *Peer) Close() error {
	p.closed.Store(true)
	p.wg.Wait()
	_ = p.conn.Close()
	return p.inout.Close()
}
