// Package realtime fans price updates out to websocket subscribers.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HubConfig configures websocket behaviour.
type HubConfig struct {
	// WriteTimeout bounds one send to one subscriber.
	WriteTimeout time.Duration
	// ReadTimeout drops a subscriber that stops answering pings.
	ReadTimeout time.Duration
	// PingInterval is how often the server pings each subscriber.
	PingInterval time.Duration
	// AllowedOriginSuffix, when set, restricts browser origins to hosts ending with it.
	AllowedOriginSuffix string
}

// DefaultHubConfig returns the default websocket configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

// Subscriber receives encoded messages. Send must be safe to call from the hub while
// the subscriber's own goroutine is running.
type Subscriber interface {
	Send(msg []byte) error
	Close() error
}

// Hub owns the set of active subscribers.
type Hub struct {
	cfg      HubConfig
	mu       sync.RWMutex
	subs     map[Subscriber]struct{}
	snapshot func() any
	upgrader websocket.Upgrader
}

// NewHub creates a hub. snapshot, when non-nil, builds the message a new subscriber
// receives right after joining.
func NewHub(cfg *HubConfig, snapshot func() any) *Hub {
	c := DefaultHubConfig()
	if cfg != nil {
		c = *cfg
	}
	h := &Hub{
		cfg:      c,
		subs:     make(map[Subscriber]struct{}),
		snapshot: snapshot,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOriginSuffix == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.HasSuffix(origin, h.cfg.AllowedOriginSuffix)
}

// Add registers s and sends it the current snapshot.
func (h *Hub) Add(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	if h.snapshot == nil {
		return
	}
	if msg := h.snapshot(); msg != nil {
		b, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Msg("encode websocket snapshot")
			return
		}
		if err := s.Send(b); err != nil {
			h.Remove(s)
		}
	}
}

// Remove unregisters s and closes it. Removing an unknown subscriber is a no-op.
func (h *Hub) Remove(s Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast encodes v once and sends it to every subscriber. A subscriber whose send
// fails is dropped; nobody else is affected.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode broadcast")
		return
	}

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var dead []Subscriber
	for _, s := range subs {
		if err := s.Send(b); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.Remove(s)
	}
	if len(dead) > 0 {
		log.Debug().Int("dropped", len(dead)).Int("remaining", h.Len()).Msg("dropped dead websocket subscribers")
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		_ = s.Close()
	}
}

// ServeHTTP upgrades the request and keeps the subscriber registered until the
// connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s := &wsSubscriber{conn: conn, writeTimeout: h.cfg.WriteTimeout}
	h.Add(s)
	log.Debug().Str("remote", r.RemoteAddr).Int("subscribers", h.Len()).Msg("websocket subscriber joined")

	done := make(chan struct{})
	go s.pingLoop(h.cfg.PingInterval, done)
	s.readLoop(h.cfg.ReadTimeout)
	close(done)
	h.Remove(s)
	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket subscriber left")
}

type wsSubscriber struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (s *wsSubscriber) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// readLoop discards client messages; it only exists to observe pongs and disconnects.
func (s *wsSubscriber) readLoop(timeout time.Duration) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(timeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSubscriber) pingLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
