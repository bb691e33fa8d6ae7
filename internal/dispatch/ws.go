package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
)

const writeWait = 5 * time.Second

// Message is what a driver or staff client receives over the socket.
type Message struct {
	Type        string              `json:"type"`
	Booking     *models.Booking     `json:"booking,omitempty"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// WSSession represents one connected client
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds client sessions by user id. A user may have several
// devices connected at once.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

// Add registers conn for userID and returns a func that unregisters it.
func (r *WSRegistry) Add(userID string, conn *websocket.Conn) (remove func()) {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[*WSSession]struct{})
	}
	r.sessions[userID][s] = struct{}{}
	r.mu.Unlock()
	observability.WSConnections.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions[userID], s)
			if len(r.sessions[userID]) == 0 {
				delete(r.sessions, userID)
			}
			r.mu.Unlock()
			observability.WSConnections.Dec()
		})
	}
}

// Send delivers msg to every session of the user. It returns ErrNoSession
// when the user has none.
func (r *WSRegistry) Send(userID string, msg Message) error {
	r.mu.RLock()
	sessions := make([]*WSSession, 0, len(r.sessions[userID]))
	for s := range r.sessions[userID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	if len(sessions) == 0 {
		return ErrNoSession
	}
	var firstErr error
	for _, s := range sessions {
		if err := s.Send(msg); err != nil {
			r.logger.Warn("ws send error", "user", userID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NotifyBooking pushes a booking update to the driver who owns it.
// Drivers that are not connected simply miss the push.
func (r *WSRegistry) NotifyBooking(b models.Booking, tx *models.Transaction) {
	b2 := b
	if err := r.Send(b.UserID, Message{Type: "booking." + string(b.Status), Booking: &b2, Transaction: tx}); err != nil && err != ErrNoSession {
		r.logger.Warn("booking push failed", "booking", b.ID, "err", err)
	}
}

func (r *WSRegistry) Connected(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
