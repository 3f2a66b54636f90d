package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/drivesim/internal/engine"
)

const (
	streamBuffer  = 256
	streamCatchUp = 50
	pingEvery     = 15 * time.Second
	writeWait     = 5 * time.Second
)

// hub fans simulation events out to websocket subscribers. Slow subscribers
// lose events rather than stalling the simulation.
type hub struct {
	mu   sync.Mutex
	subs map[uint64]chan []byte
	next uint64
	max  int
}

func newHub(max int) *hub {
	return &hub{subs: make(map[uint64]chan []byte), max: max}
}

func (h *hub) publish(e engine.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

func (h *hub) subscribe() (uint64, <-chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max > 0 && len(h.subs) >= h.max {
		return 0, nil, false
	}
	h.next++
	ch := make(chan []byte, streamBuffer)
	h.subs[h.next] = ch
	return h.next, ch, true
}

func (h *hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleStream upgrades to a websocket and pushes every event as a JSON text
// message, starting with a short catch-up of recent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ch, ok := s.hub.subscribe()
	if !ok {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for _, e := range s.Sim.RecentEvents(streamCatchUp) {
		b, _ := json.Marshal(e)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
	slog.Info("stream client connected", "sub_id", id)

	// Reader: only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case b := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("stream client disconnected", "sub_id", id)
			return
		case <-r.Context().Done():
			return
		}
	}
}
