package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSessions []core.ClientSession

func (s staticSessions) Snapshot() []core.ClientSession { return s }

func listenLocal(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func portOf(c *net.UDPConn) int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

func recv(c *net.UDPConn, wait time.Duration) ([]byte, bool) {
	_ = c.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, maxDatagram)
	n, _, err := c.ReadFromUDP(buf)
	if err != nil {
		return nil, false
	}
	return buf[:n], true
}

func TestForwarderFansOutToOthers(t *testing.T) {
	alice, bob, carol := listenLocal(t), listenLocal(t), listenLocal(t)
	dave := listenLocal(t) // registered without a video port

	host := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	sessions := staticSessions{
		{Username: "alice", Addr: host, VideoPort: portOf(alice)},
		{Username: "bob", Addr: host, VideoPort: portOf(bob)},
		{Username: "carol", Addr: host, VideoPort: portOf(carol), AudioPort: 1},
		{Username: "dave", Addr: host, AudioPort: portOf(dave)},
	}

	relay := listenLocal(t)
	fw := NewForwarder(domain.Video, sessions, relay)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	pkt := protocol.Datagram{Username: "alice", Payload: []byte("jpeg bytes")}.Marshal()
	_, err := alice.WriteToUDP(pkt, relay.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	for _, c := range []*net.UDPConn{bob, carol} {
		got, ok := recv(c, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, pkt, got, "datagram is forwarded unmodified")
	}
	_, ok := recv(alice, 200*time.Millisecond)
	assert.False(t, ok, "sender must not get its own datagram")
	_, ok = recv(dave, 50*time.Millisecond)
	assert.False(t, ok)

	// unparseable datagrams are dropped, the loop keeps going
	_, err = bob.WriteToUDP([]byte{0xff, 0xff}, relay.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	pkt = protocol.Datagram{Username: "bob", Payload: []byte{1}}.Marshal()
	_, err = bob.WriteToUDP(pkt, relay.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	got, ok := recv(alice, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, pkt, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestForwardSkipsSender(t *testing.T) {
	relay := listenLocal(t)
	sink := listenLocal(t)
	host := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	sessions := staticSessions{
		{Username: "alice", Addr: host, AudioPort: portOf(sink)},
		{Username: "bob", Addr: host, AudioPort: portOf(sink)},
		{Username: "nohost", AudioPort: portOf(sink)},
	}
	fw := NewForwarder(domain.Audio, sessions, relay)
	assert.Equal(t, 1, fw.forward("alice", []byte("x")))
	assert.Equal(t, 2, fw.forward("carol", []byte("x")))
}

func TestFailureLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewFailureLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("bob")
	assert.True(t, ok)
	ok, _ = rl.Allow("bob")
	assert.True(t, ok)
	ok, _ = rl.Allow("bob")
	assert.False(t, ok)
	ok, _ = rl.Allow("bob")
	assert.False(t, ok)

	ok, _ = rl.Allow("carol")
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Second)
	ok, suppressed := rl.Allow("bob")
	assert.True(t, ok)
	assert.Equal(t, 2, suppressed)
}

func TestSetDSCP(t *testing.T) {
	c := listenLocal(t)
	assert.NoError(t, SetDSCP(c, DSCPEF))
	assert.Error(t, SetDSCP(c, 64))
}
