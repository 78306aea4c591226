// Package network carries TLV records between an authority and its
// mirrors over TCP or TLS.
//
// A Net listens for authorities pushing batches, or keeps dialing one, and
// drains every received record into a single protocol.Drainer, normally a
// mirror.Mirror. Each connection is a Peer; the drain context carries it,
// so a failure hook can answer the very peer that sent a bad batch (see
// RequestResync).
//
// Dialed connections are retried with exponential backoff
// (0.5s, 1s, 2s, ... up to a minute) until the Net is closed or the
// address is disconnected. Accepted connections are named
// "listen:<uuid>:<remote addr>", dialed ones "connect:<addr>".
//
// Usage:
//
//	n := network.NewNet(logger, m, &network.NetWriteTimeoutOpt{Timeout: 30 * time.Second})
//	err := n.Listen("tcp://:8042")
//	...
//	defer n.Close()
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/utils"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

type ConnType = uint

var (
	ErrAddressInvalid    = errors.New("the address invalid")
	ErrAddressDuplicated = errors.New("the address already used")
	ErrAddressUnknown    = errors.New("address unknown")
	ErrDisconnected      = errors.New("disconnected by user")
	ErrQueueFull         = errors.New("peer output queue is full")
)

const (
	TCP ConnType = iota + 1
	TLS
)

const (
	// DefaultReadBufferSize fits a few typical batches.
	DefaultReadBufferSize = 1 << 16
	// DefaultMaxRecordSize caps one incoming record, a whole batch.
	DefaultMaxRecordSize = 64 << 20
	// DefaultOutQueueLen bounds the records waiting to be written per peer.
	DefaultOutQueueLen = 1 << 10

	MAX_RETRY_PERIOD = time.Minute
	MIN_RETRY_PERIOD = time.Second / 2
)

type Net struct {
	wg      sync.WaitGroup
	log     utils.Logger
	drainer protocol.Drainer

	conns     *xsync.MapOf[string, *Peer]
	listens   *xsync.MapOf[string, net.Listener]
	ctx       context.Context
	cancelCtx context.CancelFunc

	tlsConfig      *tls.Config
	writeTimeout   time.Duration
	readBufferSize int
	maxRecordSize  int
	outQueueLen    int
}

type NetOpt interface {
	Apply(*Net)
}

type NetWriteTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetWriteTimeoutOpt) Apply(n *Net) {
	n.writeTimeout = opt.Timeout
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (opt *NetTlsConfigOpt) Apply(n *Net) {
	n.tlsConfig = opt.Config
}

type NetBufferOpt struct {
	ReadBufferSize int
	// MaxRecordSize rejects larger incoming records and drops the peer.
	MaxRecordSize int
	OutQueueLen   int
}

func (opt *NetBufferOpt) Apply(n *Net) {
	if opt.ReadBufferSize > 0 {
		n.readBufferSize = opt.ReadBufferSize
	}
	if opt.MaxRecordSize > 0 {
		n.maxRecordSize = opt.MaxRecordSize
	}
	if opt.OutQueueLen > 0 {
		n.outQueueLen = opt.OutQueueLen
	}
}

// NewNet creates a network instance draining everything it receives into d.
func NewNet(log utils.Logger, d protocol.Drainer, opts ...NetOpt) *Net {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Net{
		log:            log,
		drainer:        d,
		cancelCtx:      cancel,
		ctx:            ctx,
		conns:          xsync.NewMapOf[string, *Peer](),
		listens:        xsync.NewMapOf[string, net.Listener](),
		readBufferSize: DefaultReadBufferSize,
		maxRecordSize:  DefaultMaxRecordSize,
		outQueueLen:    DefaultOutQueueLen,
	}
	if n.log == nil {
		n.log = utils.NewNopLogger()
	}
	for _, o := range opts {
		o.Apply(n)
	}
	return n
}

// Peers lists the names of live connections.
func (n *Net) Peers() []string {
	var names []string
	n.conns.Range(func(name string, p *Peer) bool {
		if p != nil {
			names = append(names, name)
		}
		return true
	})
	slices.Sort(names)
	return names
}

// Stats reports per peer traffic figures.
func (n *Net) Stats() map[string]PeerStats {
	stats := make(map[string]PeerStats)
	n.conns.Range(func(name string, p *Peer) bool {
		if p != nil {
			stats[name] = p.Stats()
		}
		return true
	})
	return stats
}

// Listens lists the addresses being listened on.
func (n *Net) Listens() []string {
	var addrs []string
	n.listens.Range(func(addr string, _ net.Listener) bool {
		addrs = append(addrs, addr)
		return true
	})
	slices.Sort(addrs)
	return addrs
}

// Addr is the bound address of a listener, handy with port 0.
func (n *Net) Addr(listen string) (net.Addr, bool) {
	l, ok := n.listens.Load(listen)
	if !ok || l == nil {
		return nil, false
	}
	return l.Addr(), true
}

// Send queues records for one peer.
func (n *Net) Send(name string, recs protocol.Records) error {
	p, ok := n.conns.Load(name)
	if !ok || p == nil {
		return ErrAddressUnknown
	}
	return p.Send(recs)
}

// Broadcast queues records for every live peer, returning the first error.
func (n *Net) Broadcast(recs protocol.Records) (err error) {
	n.conns.Range(func(name string, p *Peer) bool {
		if p == nil {
			return true
		}
		if e := p.Send(recs); e != nil && err == nil {
			err = fmt.Errorf("%s: %w", name, e)
		}
		return true
	})
	return
}

func (n *Net) Close() error {
	n.cancelCtx()

	n.listens.Range(func(_ string, v net.Listener) bool {
		if v != nil {
			v.Close()
		}
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, p *Peer) bool {
		// nil while still dialing
		if p != nil {
			p.Close()
		}
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

func (n *Net) Connect(addr string) error {
	return n.ConnectPool(addr, []string{addr})
}

// ConnectPool keeps a connection to the first reachable address of the
// list, retrying all of them with exponential backoff.
func (n *Net) ConnectPool(name string, addrs []string) error {
	for _, addr := range addrs {
		if _, _, err := parseAddr(addr); err != nil {
			return err
		}
	}
	// nil reserves the name while KeepConnecting dials
	if _, ok := n.conns.LoadOrStore(name, nil); ok {
		return ErrAddressDuplicated
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepConnecting(name, addrs)
	}()
	return nil
}

func (n *Net) Disconnect(name string) error {
	p, ok := n.conns.LoadAndDelete(name)
	if !ok {
		return ErrAddressUnknown
	}
	if p != nil {
		p.Close()
	}
	return nil
}

// Listen accepts connections on an address like "tcp://:8042" or
// "tls://:8042".
func (n *Net) Listen(addr string) error {
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepListening(addr, listener)
	}()
	return nil
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok || listener == nil {
		return ErrAddressUnknown
	}
	return listener.Close()
}

func (n *Net) KeepConnecting(name string, addrs []string) {
	ctx := utils.WithDefaultArgs(n.ctx, "name", name)
	backoff := MIN_RETRY_PERIOD
	for n.ctx.Err() == nil {
		if _, ok := n.conns.Load(name); !ok {
			// disconnected
			return
		}
		var err error
		var conn net.Conn
		for _, addr := range addrs {
			if conn, err = n.createConn(addr); err == nil {
				break
			}
		}
		if err != nil {
			n.log.ErrorCtx(ctx, "net: couldn't connect", "err", err)
			select {
			case <-time.After(backoff):
			case <-n.ctx.Done():
				return
			}
			backoff = min(MAX_RETRY_PERIOD, backoff*2)
			continue
		}
		n.log.InfoCtx(ctx, "net: connected")
		backoff = MIN_RETRY_PERIOD
		n.keepPeer(ctx, "connect:"+name, name, conn)
	}
}

func (n *Net) KeepListening(addr string, listener net.Listener) {
	for n.ctx.Err() == nil {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			n.log.Error("net: couldn't accept connection", "addr", addr, "err", err)
			continue
		}
		remoteAddr := conn.RemoteAddr().String()
		name := fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remoteAddr)
		n.log.Info("net: accepted connection", "addr", addr, "remoteAddr", remoteAddr)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.keepPeer(utils.WithDefaultArgs(n.ctx, "addr", addr), name, name, conn)
		}()
	}
	n.listens.Delete(addr)
	n.log.Info("net: listener closed", "addr", addr)
}

// keepPeer runs one connection to completion. The peer is registered
// under key, which for dialed connections is the reserved pool name.
func (n *Net) keepPeer(ctx context.Context, name, key string, conn net.Conn) {
	peer := newPeer(name, conn, n.log, n.writeTimeout, n.readBufferSize, n.maxRecordSize, n.outQueueLen)
	if key == name {
		n.conns.Store(key, peer)
	} else if !n.swapConn(key, nil, peer) {
		// disconnected while dialing
		conn.Close()
		return
	}

	readErr, writeErr, closeErr := peer.Keep(ctx, n.drainer)
	if readErr != nil {
		n.log.ErrorCtx(ctx, "net: couldn't read from peer", "peer", name, "err", readErr)
	}
	if writeErr != nil {
		n.log.ErrorCtx(ctx, "net: couldn't write to peer", "peer", name, "err", writeErr)
	}
	if closeErr != nil {
		n.log.ErrorCtx(ctx, "net: couldn't close peer", "peer", name, "err", closeErr)
	}
	if key == name {
		n.conns.Delete(key)
	} else {
		// keep the reservation, KeepConnecting redials
		n.swapConn(key, peer, nil)
	}
	peer.Close()
	n.log.InfoCtx(ctx, "net: peer gone", "peer", name)
}

// swapConn replaces the value under key if it is still old.
func (n *Net) swapConn(key string, old, peer *Peer) (swapped bool) {
	n.conns.Compute(key, func(cur *Peer, loaded bool) (*Peer, bool) {
		if !loaded {
			return nil, true
		}
		if cur != old {
			return cur, false
		}
		swapped = true
		return peer, false
	})
	return
}

func (n *Net) createListener(addr string) (net.Listener, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	config := net.ListenConfig{}
	listener, err := config.Listen(n.ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if connType == TLS {
		listener = tls.NewListener(listener, n.tlsConfig)
	}
	return listener, nil
}

func (n *Net) createConn(addr string) (net.Conn, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	if connType == TLS {
		d := tls.Dialer{Config: n.tlsConfig}
		return d.DialContext(n.ctx, "tcp", address)
	}
	d := net.Dialer{Timeout: time.Minute}
	return d.DialContext(n.ctx, "tcp", address)
}

// parseAddr splits an address into the connection type and host:port.
//
//   - "tcp://localhost:8042" -> TCP, "localhost:8042"
//   - "tls://example.com:443" -> TLS, "example.com:443"
//   - "localhost:8042" -> TCP, "localhost:8042"
func parseAddr(addr string) (ConnType, string, error) {
	if !strings.Contains(addr, "://") {
		return TCP, addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", err
	}
	var conn ConnType
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	default:
		return conn, addr, ErrAddressInvalid
	}
	return conn, u.Host, nil
}
