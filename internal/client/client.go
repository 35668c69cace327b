// Package client is the relay client library used by cmd/client: control
// connection, chat, file transfer, screen-share control and media ports.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/dkeye/lanrelay/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotSharing = errors.New("screen share not active")

// ChatLine is one entry of the local chat history.
type ChatLine struct {
	From string
	Text string
	At   time.Time
}

func (l ChatLine) String() string {
	return l.From + ": " + l.Text
}

type Option func(*Client)

func WithDownloadDir(dir string) Option {
	return func(c *Client) { c.sink = transfer.DirSink{Dir: dir} }
}

func WithChunkSize(n int) Option {
	return func(c *Client) { c.chunkSize = n }
}

func WithMaxFrameSize(n int) Option {
	return func(c *Client) { c.maxFrame = n }
}

// Client owns one control connection.
type Client struct {
	username  string
	conn      net.Conn
	chunkSize int
	maxFrame  int
	sink      transfer.Sink
	incoming  *transfer.Tracker
	logger    zerolog.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	users   []string
	history []ChatLine
	offered map[string]string
	sharing bool

	closeOnce sync.Once
}

// Dial connects to the relay and registers username.
func Dial(ctx context.Context, addr, username string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := New(conn, username, opts...)
	if err := c.Register(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection. Register still has to be sent.
func New(conn net.Conn, username string, opts ...Option) *Client {
	c := &Client{
		username:  username,
		conn:      conn,
		chunkSize: transfer.DefaultChunkSize,
		maxFrame:  protocol.DefaultMaxFrameSize,
		sink:      transfer.DirSink{Dir: "downloads"},
		incoming:  transfer.NewTracker(),
		offered:   make(map[string]string),
		logger:    log.With().Str("module", "client").Str("username", username).Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Username() string { return c.username }

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Client) send(m *protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}
	return nil
}

func (c *Client) Register() error {
	return c.send(protocol.NewRegister(c.username))
}

// RegisterMediaPorts tells the relay where this client receives media. A
// zero port leaves that kind unchanged.
func (c *Client) RegisterMediaPorts(videoPort, audioPort int) error {
	return c.send(protocol.NewUDPPortRegister(c.username, videoPort, audioPort))
}

// SendChat sends text and records it in the local history.
func (c *Client) SendChat(text string) error {
	if err := c.send(protocol.NewChat(c.username, text)); err != nil {
		return err
	}
	c.appendHistory(ChatLine{From: c.username, Text: text, At: time.Now()})
	return nil
}

// SendFile offers the file at path and streams it in chunks. progress, when
// set, is called after every chunk.
func (c *Client) SendFile(ctx context.Context, path string, progress func(sent, total int64)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	size := st.Size()

	if err := c.send(protocol.NewFileMeta(c.username, name, size)); err != nil {
		return err
	}
	c.mu.Lock()
	c.offered[name] = path
	c.mu.Unlock()

	err = transfer.Split(f, c.chunkSize, func(off int64, chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.send(protocol.NewFileData(c.username, name, off, chunk)); err != nil {
			return err
		}
		if progress != nil {
			progress(off+int64(len(chunk)), size)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("send file %s: %w", name, err)
	}
	c.logger.Info().Str("filename", name).Int64("bytes", size).Msg("file sent")
	return nil
}

// Offered returns the local path of a file this client has sent.
func (c *Client) Offered(filename string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.offered[filename]
	return p, ok
}

// RequestFile asks peers to resend filename.
func (c *Client) RequestFile(filename string, meta map[string]string) error {
	return c.send(protocol.NewFileRequest(c.username, filename, meta))
}

func (c *Client) StartScreenShare() error {
	c.mu.Lock()
	if c.sharing {
		c.mu.Unlock()
		return nil
	}
	c.sharing = true
	c.mu.Unlock()
	return c.send(protocol.NewScreenStart(c.username))
}

func (c *Client) StopScreenShare() error {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return nil
	}
	c.sharing = false
	c.mu.Unlock()
	return c.send(protocol.NewScreenStop(c.username))
}

// SendScreenFrame sends one encoded frame. Screen share must be started.
func (c *Client) SendScreenFrame(frame []byte) error {
	c.mu.Lock()
	sharing := c.sharing
	c.mu.Unlock()
	if !sharing {
		return ErrNotSharing
	}
	return c.send(protocol.NewScreenFrame(c.username, frame))
}

func (c *Client) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// Users is the last user list received from the relay.
func (c *Client) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

// History is the chat history in arrival order.
func (c *Client) History() []ChatLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatLine(nil), c.history...)
}

func (c *Client) appendHistory(l ChatLine) {
	c.mu.Lock()
	c.history = append(c.history, l)
	c.mu.Unlock()
}

// Pending lists incoming transfers that are not complete yet.
func (c *Client) Pending() []transfer.Progress {
	return c.incoming.Pending()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

// Run reads frames until the connection ends or ctx is done. An orderly end
// of stream, or a cancelled ctx, returns nil.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if h == nil {
		h = BaseHandler{}
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	r := bufio.NewReaderSize(c.conn, 64<<10)
	for {
		m, err := protocol.ReadMessage(r, c.maxFrame)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, protocol.ErrStreamClosed) {
				return nil
			}
			return err
		}
		c.handle(m, h)
	}
}

func (c *Client) handle(m *protocol.Message, h Handler) {
	switch m.Kind {
	case protocol.KindUserList:
		c.mu.Lock()
		c.users = append([]string(nil), m.Users...)
		c.mu.Unlock()
		h.OnUserList(m.Users)
	case protocol.KindChat:
		l := ChatLine{From: m.Username, Text: m.Text, At: time.Now()}
		c.appendHistory(l)
		h.OnChat(l)
	case protocol.KindFileMeta:
		h.OnFileOffered(m.Username, m.Filename, m.Size)
		if _, done := c.incoming.Open(m.Username, m.Filename, m.Size); done != nil {
			c.save(done, h)
		}
	case protocol.KindFileData:
		f, err := c.incoming.Feed(m.Filename, m.Offset, m.Data)
		if err != nil {
			c.logger.Debug().Err(err).Str("filename", m.Filename).Msg("chunk ignored")
			return
		}
		if f != nil {
			h.OnFileProgress(f.Filename, int64(len(f.Data)), f.Size)
			c.save(f, h)
			return
		}
		for _, p := range c.incoming.Pending() {
			if p.Filename == m.Filename {
				h.OnFileProgress(p.Filename, p.Received, p.Size)
				break
			}
		}
	case protocol.KindFileRequest:
		h.OnFileRequest(m.Username, m.Filename, m.Meta)
	case protocol.KindScreenStart:
		h.OnScreenStart(m.Username)
	case protocol.KindScreenStop:
		h.OnScreenStop(m.Username)
	case protocol.KindScreenFrame:
		h.OnScreenFrame(m.Username, m.Data)
	default:
		c.logger.Debug().Str("kind", m.Kind.String()).Msg("unexpected frame from relay")
	}
}

func (c *Client) save(f *transfer.File, h Handler) {
	path, err := c.sink.Save(f)
	if err != nil {
		c.logger.Error().Err(err).Str("filename", f.Filename).Msg("save failed")
		return
	}
	h.OnFileReceived(f.Sender, f.Filename, path)
}
