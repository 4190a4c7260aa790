package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds a single websocket write so one dead client cannot
// block its pump goroutine forever.
const writeTimeout = 10 * time.Second

// Bridge upgrades HTTP requests to websockets and pumps a user's event
// stream to the client.
type Bridge struct {
	bus *Bus
	log *slog.Logger

	// ResolveUser extracts the authenticated user from the request. Wired by
	// the HTTP layer; requests it rejects get a 401.
	ResolveUser func(r *http.Request) (uuid.UUID, bool)
}

// NewBridge creates a Bridge on the given bus. logger may be nil.
func NewBridge(bus *Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{bus: bus, log: logger}
}

// ServeHTTP implements the GET /ws/events endpoint.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.ResolveUser == nil {
		http.Error(w, "websocket bridge not configured", http.StatusInternalServerError)
		return
	}
	userID, ok := b.ResolveUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn("notify: websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	sub, err := b.bus.Subscribe(ctx, userID)
	if err != nil {
		b.log.Error("notify: subscribe failed", "user_id", userID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	// The client never sends application data; CloseRead surfaces closes and
	// pings while discarding everything else.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				b.log.Debug("notify: client write failed, dropping connection",
					"user_id", userID, "error", err)
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
