package protocol

import (
	"context"
	"io"
)

// Records is a batch of TLV records. A whole command batch travels as a
// single record, several batches may share one network read.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// Drainer consumes records, e.g. a mirror applying received batches.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type DrainCloser interface {
	Drainer
	io.Closer
}

// DrainerFunc adapts a plain function to the Drainer interface.
type DrainerFunc func(ctx context.Context, recs Records) error

func (f DrainerFunc) Drain(ctx context.Context, recs Records) error {
	return f(ctx, recs)
}
