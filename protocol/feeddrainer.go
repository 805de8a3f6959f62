package protocol

import (
	"context"
	"io"
)

// Records is a batch of wire messages.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// Feeder produces message batches. The EOF convention follows io.Reader:
// either `records, EOF` or `records, nil` followed by `nil, EOF`.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

// Traced things carry an id for log correlation.
type Traced interface {
	GetTraceId() string
}

type FeedDrainCloserTraced interface {
	FeedDrainCloser
	Traced
}
