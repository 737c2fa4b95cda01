package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"health-service/internal/logging"
	"health-service/internal/models"
)

const (
	maxStreamConnections = 10
	streamBuffer         = 64
	writeTimeout         = 10 * time.Second
)

// ErrTooManyConnections is returned when an environment already has the
// maximum number of stream connections.
var ErrTooManyConnections = errors.New("too many stream connections")

type streamClient struct {
	envID string
	conn  *websocket.Conn
	send  chan []byte
}

// Stream fans StateChanged events out to websocket connections grouped by
// environment. Slow connections are dropped instead of blocking the engine.
type Stream struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[string]map[*streamClient]struct{}
	closed  bool
}

// NewStream creates an empty stream.
func NewStream(logger *logging.Logger) *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[string]map[*streamClient]struct{}),
	}
}

// Connections returns the number of open connections of envID.
func (s *Stream) Connections(envID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients[strings.ToLower(envID)])
}

// Serve upgrades the request and streams the events of envID until the
// peer disconnects or the stream is closed.
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, envID string) error {
	if s.Connections(envID) >= maxStreamConnections {
		return ErrTooManyConnections
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := &streamClient{envID: strings.ToLower(envID), conn: conn, send: make(chan []byte, streamBuffer)}
	if !s.add(cl) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		_ = conn.Close()
		return nil
	}

	go s.write(cl)
	// Reads only detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(cl)
	return nil
}

func (s *Stream) add(cl *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	conns, ok := s.clients[cl.envID]
	if !ok {
		conns = make(map[*streamClient]struct{})
		s.clients[cl.envID] = conns
	}
	if len(conns) >= maxStreamConnections {
		s.logger.WithField("environment", cl.envID).Warn("Max stream connections reached")
		return false
	}
	conns[cl] = struct{}{}
	s.logger.WithField("environment", cl.envID).Infof("Added stream connection (total: %d)", len(conns))
	return true
}

func (s *Stream) remove(cl *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(cl)
}

func (s *Stream) removeLocked(cl *streamClient) {
	conns, ok := s.clients[cl.envID]
	if !ok {
		return
	}
	if _, ok := conns[cl]; !ok {
		return
	}
	delete(conns, cl)
	close(cl.send)
	if len(conns) == 0 {
		delete(s.clients, cl.envID)
	}
	s.logger.WithField("environment", cl.envID).Infof("Removed stream connection (remaining: %d)", len(conns))
}

func (s *Stream) write(cl *streamClient) {
	defer cl.conn.Close()
	for msg := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.logger.WithError(err).WithField("environment", cl.envID).Error("Send stream message failed")
			s.remove(cl)
			return
		}
	}
	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// OnStateChanged queues ev for every connection of its environment.
func (s *Stream) OnStateChanged(ev models.StateChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.clients[strings.ToLower(ev.EnvironmentID)]
	if len(conns) == 0 {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		s.logger.WithError(err).Error("Marshal state change failed")
		return
	}
	for cl := range conns {
		select {
		case cl.send <- msg:
		default:
			s.logger.WithField("environment", cl.envID).Warn("Dropping slow stream connection")
			s.removeLocked(cl)
		}
	}
}

// Close disconnects every connection and rejects new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, conns := range s.clients {
		for cl := range conns {
			s.removeLocked(cl)
		}
	}
}
