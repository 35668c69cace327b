// Package tcp carries control frames over TCP: one read loop and one write
// pump per accepted connection.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dkeye/lanrelay/internal/core"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

// Conn is the core.ControlConn for one TCP client. Frames are queued on a
// bounded channel and written by writePump.
type Conn struct {
	conn         net.Conn
	send         chan core.Frame
	writeTimeout time.Duration
	done         chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewConn(nc net.Conn, queueSize int, writeTimeout time.Duration) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{
		conn:         nc,
		send:         make(chan core.Frame, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed when the write pump exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) writePump(ctx context.Context, logger zerolog.Logger) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				logger.Debug().Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				logger.Warn().Err(err).Msg("writePump set deadline")
				c.Close()
				return
			}
			if _, err := c.conn.Write(data); err != nil {
				logger.Warn().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}
