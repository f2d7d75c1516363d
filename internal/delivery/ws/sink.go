package ws

import (
	"sync"

	"github.com/gofiber/contrib/websocket"

	"github.com/roadwatch/backend/internal/domain"
)

// wsSink adapts one websocket connection to registry.Sink. Writes are
// serialized: broadcasts and read-loop replies share the connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Send(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}
