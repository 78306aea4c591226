package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/utils"
)

// Peer is one connection. The read side drains complete records into the
// Net's drainer; the write side sends whatever was queued with Send.
type Peer struct {
	name   string
	conn   net.Conn
	log    utils.Logger
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	outq   chan protocol.Records

	writeTimeout   time.Duration
	readBufferSize int
	maxRecordSize  int

	received  atomic.Int64
	sent      atomic.Int64
	writeSize utils.Mean
}

func newPeer(name string, conn net.Conn, log utils.Logger, writeTimeout time.Duration, readBufferSize, maxRecordSize, outQueueLen int) *Peer {
	return &Peer{
		name:           name,
		conn:           conn,
		log:            log,
		done:           make(chan struct{}),
		outq:           make(chan protocol.Records, outQueueLen),
		writeTimeout:   writeTimeout,
		readBufferSize: readBufferSize,
		maxRecordSize:  maxRecordSize,
	}
}

func (p *Peer) Name() string {
	return p.name
}

type PeerStats struct {
	Received int64
	Sent     int64
	// AvgWrite is the mean size of one socket write, in bytes.
	AvgWrite float64
}

func (p *Peer) Stats() PeerStats {
	return PeerStats{
		Received: p.received.Load(),
		Sent:     p.sent.Load(),
		AvgWrite: p.writeSize.Value(),
	}
}

// Send queues records without blocking.
func (p *Peer) Send(recs protocol.Records) error {
	if p.closed.Load() {
		return ErrDisconnected
	}
	select {
	case p.outq <- recs:
		return nil
	case <-p.done:
		return ErrDisconnected
	default:
		return ErrQueueFull
	}
}

// keepRead drains records as they arrive. Records already sitting in the
// read buffer are drained together in one call.
func (p *Peer) keepRead(ctx context.Context, d protocol.Drainer) error {
	ctx = utils.WithDefaultArgs(WithPeer(ctx, p), "peer", p.name)
	r := bufio.NewReaderSize(p.conn, p.readBufferSize)
	for !p.closed.Load() {
		rec, err := protocol.ReadRecord(r, p.maxRecordSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		recs := protocol.Records{rec}
		if r.Buffered() > 0 {
			buffered, _ := r.Peek(r.Buffered())
			more, _, err := protocol.Split(buffered)
			if err != nil {
				return err
			}
			for _, m := range more {
				recs = append(recs, append([]byte(nil), m...))
			}
			if _, err = r.Discard(int(more.TotalLen())); err != nil {
				return err
			}
		}
		p.received.Add(int64(len(recs)))
		if err := d.Drain(ctx, recs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) keepWrite(ctx context.Context) error {
	for {
		var recs protocol.Records
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case recs = <-p.outq:
		}
		p.writeSize.Add(float64(recs.TotalLen()))
		b := net.Buffers(recs)
		if p.writeTimeout != 0 {
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		if _, err := b.WriteTo(p.conn); err != nil {
			return err
		}
		p.sent.Add(int64(len(recs)))
	}
}

// Keep runs both directions until either ends. A finished read side
// stops the writer; a finished write side closes the connection, which
// stops the reader.
func (p *Peer) Keep(ctx context.Context, d protocol.Drainer) (rerr, werr, cerr error) {
	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx, d) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	cancelled := ctx.Done()
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { cerr = p.conn.Close() })
	}
	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) {
				// closed by us
				rerr = nil
			}
			p.stop()
		case werr = <-writeErrCh:
			p.stop()
			closeConn()
		case <-cancelled:
			p.stop()
			closeConn()
			cancelled = nil
			i--
		}
	}
	closeConn()
	if errors.Is(cerr, net.ErrClosed) {
		cerr = nil
	}
	return
}

func (p *Peer) stop() {
	p.closed.Store(true)
	p.once.Do(func() { close(p.done) })
}

// Close stops the peer; Keep returns shortly after.
func (p *Peer) Close() {
	p.stop()
	p.conn.Close()
}

type peerKey struct{}

// WithPeer marks a drain context with the peer the records came from.
func WithPeer(ctx context.Context, p *Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

func PeerFrom(ctx context.Context) (*Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(*Peer)
	return p, ok
}
