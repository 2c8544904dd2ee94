package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/cast"
	"github.com/strefethen/castbridge/internal/devices"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// LAN bridge; the collaborator UI may be served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Event is one message on the /api/events stream.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventHub fans registry and session notifications out to websocket
// subscribers. It satisfies both devices.Listener and cast.Listener.
type EventHub struct {
	log *logrus.Entry

	mu    sync.Mutex
	conns map[*subscriber]struct{}
}

// subscriber pairs a connection with its write mutex. gorilla allows only
// one concurrent writer per connection, and any goroutine that triggers a
// notification may broadcast.
type subscriber struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (s *subscriber) send(event Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(event)
}

func NewEventHub(log *logrus.Entry) *EventHub {
	return &EventHub{log: log, conns: make(map[*subscriber]struct{})}
}

// Handle upgrades the request and keeps the connection subscribed until the
// client goes away.
func (h *EventHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.conns[sub] = struct{}{}
	h.mu.Unlock()

	// Drain client frames; the stream is one-way and the read loop is how
	// we learn about disconnects.
	go func() {
		defer h.drop(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *EventHub) drop(sub *subscriber) {
	h.mu.Lock()
	delete(h.conns, sub)
	h.mu.Unlock()
	sub.conn.Close()
}

func (h *EventHub) broadcast(event Event) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.conns))
	for sub := range h.conns {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.send(event); err != nil {
			h.drop(sub)
		}
	}
}

// DevicesChanged implements devices.Listener.
func (h *EventHub) DevicesChanged(list []devices.CastDevice) {
	views := make([]deviceView, 0, len(list))
	for _, device := range list {
		views = append(views, deviceView{
			ID:           device.ID,
			Name:         device.Name,
			Kind:         string(device.Kind),
			Address:      device.Address,
			Manufacturer: device.Manufacturer,
			Model:        device.Model,
		})
	}
	h.broadcast(Event{Type: "devices_changed", Payload: views})
}

// SessionChanged implements cast.Listener.
func (h *EventHub) SessionChanged(state cast.State) {
	h.broadcast(Event{Type: "session_changed", Payload: string(state)})
}

// PlaybackStateChanged implements cast.Listener.
func (h *EventHub) PlaybackStateChanged(state string) {
	h.broadcast(Event{Type: "playback_state_changed", Payload: state})
}
