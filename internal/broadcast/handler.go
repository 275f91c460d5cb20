package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Handler serves the websocket endpoint of a Hub.
//
// Query parameters: topic (default DefaultTopic), client (the caller's
// client id; a random id is assigned when absent, reserved origins are
// rejected) and v (protocol version,
// also accepted as ProtocolHeader). Frames read from the
// client are republished with their origin forced to the connection's
// client id, so a client never receives its own echo.
type Handler struct {
	hub    *Hub
	logger *log.Logger
	conns  atomic.Int64
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[broadcast] ", log.LstdFlags)
	}
	return &Handler{hub: hub, logger: logger}
}

// Connections returns the number of open websocket connections.
func (h *Handler) Connections() int {
	return int(h.conns.Load())
}

// ServeHTTP upgrades the request and pumps messages until either side
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("v")
	if version == "" {
		version = r.Header.Get(ProtocolHeader)
	}
	if err := CheckProtocol(version); err != nil {
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = DefaultTopic
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if IsReservedOrigin(clientID) {
		http.Error(w, fmt.Sprintf("client id %q is reserved", clientID), http.StatusBadRequest)
		return
	}

	// Join before the handshake completes so nothing published after Dial
	// returns is missed.
	sub := h.hub.Subscribe(topic, clientID)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	h.conns.Add(1)
	defer h.conns.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, cancel, conn, sub)
	h.readLoop(ctx, conn, sub)

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop forwards hub deliveries to the socket.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *Subscription) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				h.logger.Printf("Failed to send to client %s: %v", sub.ClientID, err)
				return
			}
		}
	}
}

// readLoop relays client frames into the hub.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				h.logger.Printf("Read from client %s ended: %v", sub.ClientID, err)
			}
			return
		}
		msg.Origin = sub.ClientID
		msg.Topic = sub.Topic
		if err := h.hub.Publish(ctx, msg); err != nil {
			h.logger.Printf("Warning: dropping frame from client %s: %v", sub.ClientID, err)
		}
	}
}
