// Package live pushes account events to browsers over websockets so the
// token balance and tier banner update without polling.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// EventSnapshot is the first message on every connection and carries the
// account as it was when the client subscribed.
const EventSnapshot accounts.EventType = "account.snapshot"

func Snapshot(acct accounts.Account) accounts.Event {
	return accounts.Event{
		Type:       EventSnapshot,
		Identifier: acct.Identifier,
		Tier:       acct.Tier,
		Tokens:     acct.Tokens,
		At:         time.Now().UTC(),
	}
}

type Subscriber struct {
	identifier string
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Hub keeps the open subscriptions per account identifier. It implements
// accounts.Publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	logger zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		logger: log.Logger.With().Str("component", "live").Logger(),
	}
}

func (h *Hub) Subscribe(identifier string) *Subscriber {
	sub := &Subscriber{
		identifier: identifier,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[identifier] == nil {
		h.subs[identifier] = make(map[*Subscriber]struct{})
	}
	h.subs[identifier][sub] = struct{}{}
	metrics.LiveSubscribers.Inc()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	sub.close()
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.identifier]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	metrics.LiveSubscribers.Dec()
	if len(set) == 0 {
		delete(h.subs, sub.identifier)
	}
}

// Close disconnects every subscriber. Serve calls return once their
// close frame is written.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
}

// Subscribers reports how many connections follow identifier.
func (h *Hub) Subscribers(identifier string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[identifier])
}

// Publish queues ev for every subscriber of its account. A subscriber whose
// buffer is full misses the event; the account mutation never waits on a
// slow browser.
func (h *Hub) Publish(_ context.Context, ev accounts.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Identifier] {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn().Str("identifier", ev.Identifier).Str("event", string(ev.Type)).Msg("live subscriber too slow, event dropped")
		}
	}
	return nil
}

// Serve owns ws and sub until the client disconnects. The snapshot is
// written before any event queued on sub, so callers subscribe first and
// read the snapshot afterwards.
func (h *Hub) Serve(ws *websocket.Conn, sub *Subscriber, snapshot accounts.Event) {
	defer h.Unsubscribe(sub)
	defer ws.Close()

	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal snapshot")
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}

	go h.readPump(ws, sub)
	h.writePump(ws, sub)
}

// readPump only services control frames. Clients have nothing to send.
func (h *Hub) readPump(ws *websocket.Conn, sub *Subscriber) {
	defer sub.close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("identifier", sub.identifier).Msg("live read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(ws *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sub.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sub.done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
