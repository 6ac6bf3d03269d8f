package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

type listener struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (l *listener) write(event any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteJSON(event)
}

// WebSocketNotificationHub fans game updates out to the websocket clients
// watching a game address.
type WebSocketNotificationHub struct {
	registrationMutex sync.RWMutex
	listeners         map[string]map[*websocket.Conn]*listener
}

func NewNotificationHub() *WebSocketNotificationHub {
	return &WebSocketNotificationHub{
		listeners: make(map[string]map[*websocket.Conn]*listener),
	}
}

func (hub *WebSocketNotificationHub) RegisterListener(topic string, conn *websocket.Conn) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	if hub.listeners[topic] == nil {
		hub.listeners[topic] = make(map[*websocket.Conn]*listener)
	}
	hub.listeners[topic][conn] = &listener{conn: conn}
}

func (hub *WebSocketNotificationHub) UnregisterListener(topic string, conn *websocket.Conn) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	delete(hub.listeners[topic], conn)
	if len(hub.listeners[topic]) == 0 {
		delete(hub.listeners, topic)
	}
}

func (hub *WebSocketNotificationHub) ListenerCount(topic string) int {
	hub.registrationMutex.RLock()
	defer hub.registrationMutex.RUnlock()
	return len(hub.listeners[topic])
}

// Publish writes event to every listener of targetTopic. A listener that
// cannot be written to is dropped and its connection closed.
func (hub *WebSocketNotificationHub) Publish(targetTopic string, event any) {
	hub.registrationMutex.RLock()
	targets := make([]*listener, 0, len(hub.listeners[targetTopic]))
	for _, l := range hub.listeners[targetTopic] {
		targets = append(targets, l)
	}
	hub.registrationMutex.RUnlock()

	for _, l := range targets {
		if err := l.write(event); err != nil {
			log.Debug().Err(err).Str("topic", targetTopic).Msg("Dropping websocket listener")
			hub.UnregisterListener(targetTopic, l.conn)
			_ = l.conn.Close()
		}
	}
}
