package app

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ addr net.Addr }

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}
func (c nopConn) RemoteAddr() net.Addr   { return c.addr }

func sessionFor(name string) core.ClientSession {
	return core.ClientSession{Username: name}
}

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	addr1 := tcpAddr("10.0.0.1", 1111)
	addr2 := tcpAddr("10.0.0.2", 2222)

	s, replaced := r.Register("alice", "sid-1", nopConn{addr1}, addr1)
	assert.False(t, replaced)
	assert.Equal(t, "alice", s.Username)
	require.True(t, r.SetMediaPort("alice", domain.Video, 40001))

	s, replaced = r.Register("alice", "sid-2", nopConn{addr2}, addr2)
	assert.True(t, replaced)
	assert.Equal(t, core.SessionID("sid-2"), s.SessionID)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("alice")
	require.True(t, ok)
	assert.Equal(t, core.SessionID("sid-2"), got.SessionID)
	assert.Equal(t, "10.0.0.2", got.Host().String())
	assert.Zero(t, got.VideoPort, "ports belong to the replaced session")
}

func TestRegistrySetMediaPort(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SetMediaPort("ghost", domain.Audio, 4000))

	r.Register("bob", "sid-b", nopConn{}, tcpAddr("10.0.0.3", 1))
	require.True(t, r.SetMediaPort("bob", domain.Audio, 40002))

	s, _ := r.Get("bob")
	assert.Equal(t, 40002, s.AudioPort)
	assert.Zero(t, s.VideoPort)
	assert.Equal(t, 40002, s.Port(domain.Audio))

	require.True(t, r.SetMediaPort("bob", domain.Video, 40003))
	s, _ = r.Get("bob")
	assert.Equal(t, 40003, s.VideoPort)
	assert.Equal(t, 40002, s.AudioPort)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "sid-1", nopConn{}, nil)

	assert.True(t, r.Remove("alice"))
	assert.False(t, r.Remove("alice"))
	assert.False(t, r.Remove("nobody"))
	assert.Zero(t, r.Len())
}

func TestRegistryRemoveSessionKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "old", nopConn{}, nil)
	r.Register("alice", "new", nopConn{}, nil)

	assert.False(t, r.RemoveSession("alice", "old"))
	_, ok := r.Get("alice")
	assert.True(t, ok)

	assert.True(t, r.RemoveSession("alice", "new"))
	_, ok = r.Get("alice")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("carol", "c", nopConn{}, nil)
	r.Register("alice", "a", nopConn{}, nil)
	r.Register("bob", "b", nopConn{}, nil)

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Usernames())

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].Username)

	snap[0].VideoPort = 9999
	r.Remove("bob")
	s, _ := r.Get("alice")
	assert.Zero(t, s.VideoPort)
	assert.Len(t, snap, 3)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			sid := core.SessionID(name)
			for j := 0; j < 100; j++ {
				r.Register(name, sid, nopConn{}, nil)
				r.SetMediaPort(name, domain.Video, 1000+j)
				_ = r.Snapshot()
				_ = r.Usernames()
				r.RemoveSession(name, sid)
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
