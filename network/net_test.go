package network

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/state"
	testutils "github.com/drpcorg/mirror/test_utils"
	"github.com/drpcorg/mirror/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	lock sync.Mutex
	recs protocol.Records
}

func (s *recordSink) Drain(_ context.Context, recs protocol.Records) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.recs = append(s.recs, recs...)
	return nil
}

func (s *recordSink) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.recs)
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		addr     string
		connType ConnType
		address  string
		err      error
	}{
		{"tcp://localhost:8042", TCP, "localhost:8042", nil},
		{"tls://example.com:443", TLS, "example.com:443", nil},
		{"localhost:8042", TCP, "localhost:8042", nil},
		{"quic://localhost:8042", 0, "quic://localhost:8042", ErrAddressInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			connType, address, err := parseAddr(tt.addr)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.connType, connType)
			assert.Equal(t, tt.address, address)
		})
	}
}

func TestListenDrainsRecords(t *testing.T) {
	sink := &recordSink{}
	n := NewNet(utils.NewNopLogger(), sink)
	defer n.Close()

	require.NoError(t, n.Listen("tcp://127.0.0.1:0"))
	assert.ErrorIs(t, n.Listen("tcp://127.0.0.1:0"), ErrAddressDuplicated)
	addr, ok := n.Addr("tcp://127.0.0.1:0")
	require.True(t, ok)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	a := command.EncodeBatch(command.Batch{command.Reset{}})
	b := command.EncodeBatch(command.Batch{command.End{}})
	// split one record across writes
	_, err = conn.Write(append(a, b[:2]...))
	require.NoError(t, err)
	_, err = conn.Write(b[2:])
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return sink.Len() == 2 }, 5*time.Second, 10*time.Millisecond)
	sink.lock.Lock()
	assert.Equal(t, a, sink.recs[0])
	assert.Equal(t, b, sink.recs[1])
	sink.lock.Unlock()
	assert.Len(t, n.Peers(), 1)
}

func TestOversizedRecordDropsPeer(t *testing.T) {
	sink := &recordSink{}
	n := NewNet(utils.NewNopLogger(), sink, &NetBufferOpt{MaxRecordSize: 64})
	defer n.Close()

	require.NoError(t, n.Listen("tcp://127.0.0.1:0"))
	addr, _ := n.Addr("tcp://127.0.0.1:0")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return len(n.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	big := protocol.Record('B', make([]byte, 1000))
	_, err = conn.Write(big[:5])
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(n.Peers()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sink.Len())
}

func openMirror(t *testing.T, auth *testutils.Authority) *mirror.Mirror {
	reg := mirror.NewRegistry()
	require.NoError(t, auth.RegisterInto(reg.Register))
	m, err := mirror.Open(reg, mirror.Options{OnResync: RequestResync, RecentLimit: -1})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestResyncRequestGoesBackToSender(t *testing.T) {
	auth := testutils.NewAuthority()
	auth.Define(1, "unit", elements.KindInt, elements.KindString)
	m := openMirror(t, auth)

	n := NewNet(utils.NewNopLogger(), m)
	defer n.Close()
	require.NoError(t, n.Listen("tcp://127.0.0.1:0"))
	addr, _ := n.Addr("tcp://127.0.0.1:0")

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	auth.Create(1, "alpha")
	_, err = conn.Write(command.EncodeBatch(auth.Flush()))
	require.NoError(t, err)
	// element 99 belongs to nobody
	bad := command.Batch{command.Update{IDs: []state.ElementID{99}}}
	_, err = conn.Write(command.EncodeBatch(bad))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	rec, err := protocol.ReadRecord(bufio.NewReader(conn), 0)
	require.NoError(t, err)
	assert.Equal(t, byte(command.ResyncLit), protocol.Lit(rec))
	body, _ := protocol.Take(command.ResyncLit, rec)
	assert.Contains(t, string(body), "Orphaned element 99")
	assert.Eventually(t, func() bool {
		for _, st := range n.Stats() {
			return st.Received == 2 && st.Sent == 1 && st.AvgWrite == float64(len(rec))
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	m.View(func(s *mirror.Store) {
		containers, elements := s.Len()
		assert.Equal(t, 1, containers)
		assert.Equal(t, 2, elements)
	})
}

func TestConnectToAuthority(t *testing.T) {
	auth := testutils.NewAuthority()
	auth.Define(1, "unit", elements.KindInt)
	auth.Create(1, "alpha")
	auth.Create(1, "beta")
	m := openMirror(t, auth)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	n := NewNet(utils.NewNopLogger(), m)
	defer n.Close()
	target := "tcp://" + l.Addr().String()
	require.NoError(t, n.Connect(target))
	assert.ErrorIs(t, n.Connect(target), ErrAddressDuplicated)

	conn, err := l.Accept()
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(command.EncodeBatch(auth.Snapshot()))
	require.NoError(t, err)

	want := auth.Digest()
	assert.Eventually(t, func() bool {
		var got state.Digest
		m.View(func(s *mirror.Store) { got = s.Digest() })
		return got == want
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Disconnect(target))
	assert.ErrorIs(t, n.Disconnect(target), ErrAddressUnknown)
}
