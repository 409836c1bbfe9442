package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// conn owns one websocket connection: a buffered send queue drained by the
// write pump, and a closed flag guarding the queue.
type conn struct {
	id        core.TransportID
	serviceID string
	ws        *websocket.Conn
	send      chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *conn) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (h *Hub) writePump(ctx context.Context, c *conn) {
	pingPeriod := h.pingTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(h.sendTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(h.sendTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("tid", string(c.id)).Msg("readPump closing")
		h.drop(c)
	}()

	c.ws.SetReadLimit(h.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pingTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.pingTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("readPump read error")
				}
				return
			}
			h.dispatch(ctx, c, data)
		}
	}
}
