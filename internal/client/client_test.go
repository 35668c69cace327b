package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/lanrelay/internal/adapters/tcp"
	"github.com/dkeye/lanrelay/internal/adapters/udp"
	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/app/orch"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/dkeye/lanrelay/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	BaseHandler
	users    chan []string
	chat     chan ChatLine
	received chan string
	screen   chan string
	frames   chan []byte
	requests chan string
}

func newRecorder() *recorder {
	return &recorder{
		users:    make(chan []string, 16),
		chat:     make(chan ChatLine, 16),
		received: make(chan string, 4),
		screen:   make(chan string, 4),
		frames:   make(chan []byte, 4),
		requests: make(chan string, 4),
	}
}

func (r *recorder) OnUserList(u []string)                             { r.users <- u }
func (r *recorder) OnChat(l ChatLine)                                 { r.chat <- l }
func (r *recorder) OnFileReceived(_, _, path string)                  { r.received <- path }
func (r *recorder) OnScreenStart(from string)                         { r.screen <- "start:" + from }
func (r *recorder) OnScreenStop(from string)                          { r.screen <- "stop:" + from }
func (r *recorder) OnScreenFrame(_ string, f []byte)                  { r.frames <- f }
func (r *recorder) OnFileRequest(from, f string, _ map[string]string) { r.requests <- from + ":" + f }

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

type relay struct {
	orch      *orch.Orchestrator
	addr      string
	videoAddr string
}

func startRelay(t *testing.T) relay {
	t.Helper()
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Presenter: app.NewPresenterSlot(),
		Transfers: transfer.NewTracker(),
		Policy:    app.SimplePolicy{Action: app.DropFrame},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &tcp.Server{Orch: o, QueueSize: 64, WriteTimeout: time.Second}
	go func() { _ = srv.Serve(ctx, ln) }()

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	fw := udp.NewForwarder(domain.Video, o.Registry, uc)
	go func() { _ = fw.Run(ctx) }()

	return relay{orch: o, addr: ln.Addr().String(), videoAddr: uc.LocalAddr().String()}
}

func connect(t *testing.T, r relay, name string, h Handler, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, r.addr, name, opts...)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestChatBetweenClients(t *testing.T) {
	r := startRelay(t)
	ah, bh := newRecorder(), newRecorder()
	alice := connect(t, r, "alice", ah)
	waitFor(t, ah.users)
	connect(t, r, "bob", bh)
	assert.Equal(t, []string{"alice", "bob"}, waitFor(t, bh.users))
	assert.Equal(t, []string{"alice", "bob"}, waitFor(t, ah.users))
	assert.Equal(t, []string{"alice", "bob"}, alice.Users())
	assert.Equal(t, "tcp", alice.LocalAddr().Network())

	require.NoError(t, alice.SendChat("hello"))
	line := waitFor(t, bh.chat)
	assert.Equal(t, "alice: hello", line.String())

	select {
	case l := <-ah.chat:
		t.Fatalf("sender got its own chat back: %v", l)
	case <-time.After(100 * time.Millisecond):
	}
	require.Len(t, alice.History(), 1)
	assert.Equal(t, "hello", alice.History()[0].Text)
}

func TestFileTransferBetweenClients(t *testing.T) {
	r := startRelay(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}, 5000)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	ah, bh := newRecorder(), newRecorder()
	alice := connect(t, r, "alice", ah, WithChunkSize(4096))
	waitFor(t, ah.users)
	connect(t, r, "bob", bh, WithDownloadDir(filepath.Join(dir, "bob")))
	waitFor(t, bh.users)

	var calls int
	var last int64
	require.NoError(t, alice.SendFile(context.Background(), src, func(sent, total int64) {
		calls++
		last = sent
		assert.Equal(t, int64(len(data)), total)
	}))
	assert.Equal(t, 7, calls)
	assert.Equal(t, int64(len(data)), last)

	path := waitFor(t, bh.received)
	assert.Equal(t, filepath.Join(dir, "bob", "photo.jpg"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	p, ok := alice.Offered("photo.jpg")
	assert.True(t, ok)
	assert.Equal(t, src, p)

	require.NoError(t, alice.RequestFile("photo.jpg", nil))
	assert.Equal(t, "alice:photo.jpg", waitFor(t, bh.requests))
	assert.Equal(t, "alice:photo.jpg", waitFor(t, ah.requests))
}

func TestScreenShareBetweenClients(t *testing.T) {
	r := startRelay(t)
	ah, bh := newRecorder(), newRecorder()
	alice := connect(t, r, "alice", ah)
	waitFor(t, ah.users)
	connect(t, r, "bob", bh)
	waitFor(t, bh.users)

	assert.ErrorIs(t, alice.SendScreenFrame([]byte{1}), ErrNotSharing)
	require.NoError(t, alice.StartScreenShare())
	require.NoError(t, alice.StartScreenShare())
	assert.Equal(t, "start:alice", waitFor(t, bh.screen))
	require.NoError(t, alice.SendScreenFrame([]byte{0xff, 0xd8, 0xff}))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, waitFor(t, bh.frames))

	assert.Eventually(t, func() bool {
		cur, ok := r.orch.Presenter.Current()
		return ok && cur == "alice"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.StopScreenShare())
	assert.Equal(t, "stop:alice", waitFor(t, bh.screen))
	assert.False(t, alice.Sharing())
}

func TestMediaThroughRelay(t *testing.T) {
	r := startRelay(t)
	ah, bh := newRecorder(), newRecorder()
	alice := connect(t, r, "alice", ah)
	waitFor(t, ah.users)
	bob := connect(t, r, "bob", bh)
	waitFor(t, bh.users)

	aliceRecv, err := ListenMedia("127.0.0.1", "alice")
	require.NoError(t, err)
	bobRecv, err := ListenMedia("127.0.0.1", "bob")
	require.NoError(t, err)
	require.NoError(t, alice.RegisterMediaPorts(aliceRecv.Port(), 0))
	require.NoError(t, bob.RegisterMediaPorts(bobRecv.Port(), 0))
	require.Eventually(t, func() bool {
		a, _ := r.orch.Registry.Get("alice")
		b, _ := r.orch.Registry.Get("bob")
		return a.VideoPort != 0 && b.VideoPort != 0
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bobGot := make(chan protocol.Datagram, 4)
	aliceGot := make(chan protocol.Datagram, 4)
	go func() { _ = bobRecv.Run(ctx, func(d protocol.Datagram) { bobGot <- d }) }()
	go func() { _ = aliceRecv.Run(ctx, func(d protocol.Datagram) { aliceGot <- d }) }()

	sender, err := NewMediaSender(r.videoAddr, "alice", 0)
	require.NoError(t, err)
	defer sender.Close()
	require.NoError(t, sender.Send([]byte("frame-1")))

	d := waitFor(t, bobGot)
	assert.Equal(t, "alice", d.Username)
	assert.Equal(t, []byte("frame-1"), d.Payload)

	select {
	case d := <-aliceGot:
		t.Fatalf("sender received its own datagram: %v", d)
	case <-time.After(200 * time.Millisecond):
	}
}
