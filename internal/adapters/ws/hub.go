package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/app"
	"github.com/telegate/teleop/internal/config"
	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the websocket transport adapter. It owns every live connection,
// implements core.Emitter and core.Roster for the gateway, and feeds
// inbound events into it.
type Hub struct {
	GW *app.Gateway

	readLimit       int64
	sendQueue       int
	pingTimeout     time.Duration
	sendTimeout     time.Duration
	disconnectDelay time.Duration

	mu        sync.RWMutex
	conns     map[core.TransportID]*conn
	byService map[string]map[core.TransportID]struct{}
}

func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		readLimit:       cfg.ReadLimit,
		sendQueue:       cfg.SendQueue,
		pingTimeout:     cfg.PingTimeout,
		sendTimeout:     cfg.SendTimeout,
		disconnectDelay: cfg.DisconnectDelay,
		conns:           make(map[core.TransportID]*conn),
		byService:       make(map[string]map[core.TransportID]struct{}),
	}
}

// Emit implements core.Emitter: marshal the envelope and enqueue it on the
// target's send queue. Best effort; a full queue is an error for the
// caller to log, not a reason to block.
func (h *Hub) Emit(ctx context.Context, to core.TransportID, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.conns[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport %s: %w", to, core.ErrNotFound)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return c.trySend(frame)
}

// Connected implements core.Roster, ordered for deterministic fan-out.
func (h *Hub) Connected(serviceID string) []core.TransportID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.TransportID, 0, len(h.byService[serviceID]))
	for tid := range h.byService[serviceID] {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Disconnect severs one transport after the configured grace delay, giving
// the write pump a chance to flush queued frames.
func (h *Hub) Disconnect(tid core.TransportID) {
	h.mu.RLock()
	c, ok := h.conns[tid]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if h.disconnectDelay <= 0 {
		c.close()
		return
	}
	time.AfterFunc(h.disconnectDelay, c.close)
}

// HandleSignal upgrades a client connection on /ws/:service_id and runs
// its pumps. The connection is refused before any state is created when
// the service record is missing, not connectable, or the token is wrong.
func (h *Hub) HandleSignal(ctx context.Context, c *gin.Context) {
	serviceID := c.Param("service_id")
	token := c.Query("token")

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	tid := core.TransportID(uuid.NewString())
	if err := h.GW.OnConnect(ctx, tid, serviceID, token); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("service", serviceID).Msg("connection refused")
		deadline := time.Now().Add(h.sendTimeout)
		_ = wsc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection refused"), deadline)
		_ = wsc.Close()
		return
	}

	cn := &conn{
		id:        tid,
		serviceID: serviceID,
		ws:        wsc,
		send:      make(chan []byte, h.sendQueue),
	}
	h.mu.Lock()
	h.conns[tid] = cn
	if h.byService[serviceID] == nil {
		h.byService[serviceID] = make(map[core.TransportID]struct{})
	}
	h.byService[serviceID][tid] = struct{}{}
	h.mu.Unlock()

	log.Info().Str("module", "ws").Str("tid", string(tid)).Str("service", serviceID).Msg("transport connected")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		h.writePump(ctx, cn)
		cancel()
		cn.close()
	}()
	go h.readPump(ctx, cn)
}

// drop is the single exit path of a connection: unregister, notify the
// gateway, release the socket. Runs off the connection context, which is
// usually canceled by the time we get here.
func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if peers, ok := h.byService[c.serviceID]; ok {
		delete(peers, c.id)
		if len(peers) == 0 {
			delete(h.byService, c.serviceID)
		}
	}
	h.mu.Unlock()

	h.GW.OnDisconnect(context.Background(), c.id)
	c.close()
	log.Info().Str("module", "ws").Str("tid", string(c.id)).Msg("transport dropped")
}
