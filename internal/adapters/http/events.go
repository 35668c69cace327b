package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/lanrelay/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventWriteWait  = 5 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventStream pushes relay events to websocket observers as JSON.
// Observers are read-only; anything they send is discarded.
type EventStream struct {
	Bus *app.EventBus
}

func (s *EventStream) Handle(ctx context.Context, c *gin.Context) {
	if s.Bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	logger := log.With().Str("module", "adapters.http").Str("remote", ws.RemoteAddr().String()).Logger()
	logger.Info().Msg("event subscriber connected")

	events, cancel := s.Bus.Subscribe()
	ctx, stop := context.WithCancel(ctx)

	go func() {
		defer stop()
		readPump(ws)
	}()

	go func() {
		defer func() {
			cancel()
			_ = ws.Close()
			logger.Info().Msg("event subscriber gone")
		}()
		writePump(ctx, ws, events)
	}()
}

func readPump(ws *websocket.Conn) {
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(eventPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, ws *websocket.Conn, events <-chan app.Event) {
	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(eventWriteWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
