// Package whiteboard manages two-party drawing sessions and their ordered
// command logs.
package whiteboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// Command types.
const (
	TypeDraw  = "DRAW"
	TypeClear = "CLEAR"
)

// DefaultSessionTimeout is the idle lifetime of a whiteboard session.
const DefaultSessionTimeout = time.Hour

const sweepInterval = 5 * time.Minute

// Command is one entry in a session's append-only log: either a stroke or a
// clear marker.
type Command struct {
	Type      string  `json:"type"`
	User      string  `json:"username"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	X2        float64 `json:"x2"`
	Y2        float64 `json:"y2"`
	Color     string  `json:"color,omitempty"`
	Thickness float64 `json:"thickness,omitempty"`
}

// Frame renders the command as its TCP broadcast line. Coordinates carry two
// decimal places on the wire.
func (c Command) Frame(sessionID int64) string {
	if c.Type == TypeClear {
		return fmt.Sprintf("WHITEBOARD_COMMAND:%d:%s:CLEAR", sessionID, c.User)
	}
	return fmt.Sprintf("WHITEBOARD_COMMAND:%d:%s:DRAW:%.2f:%.2f:%.2f:%.2f:%s:%.2f",
		sessionID, c.User, c.X1, c.Y1, c.X2, c.Y2, c.Color, c.Thickness)
}

// Session is a snapshot of a whiteboard session. Commands is a copy; the
// manager owns the live log.
type Session struct {
	ID           int64     `json:"sessionId"`
	Initiator    string    `json:"initiator"`
	Participant  string    `json:"participant"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Commands     []Command `json:"-"`
}

type session struct {
	Session
	commands []Command
}

// Manager owns all live whiteboard sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session
	nextID   int64

	notifier types.SessionNotifier
	timeout  time.Duration
	now      func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager and starts its idle sweeper. notifier pushes
// WHITEBOARD_CLOSED lines to live TCP sessions; pass types.NoopNotifier{}
// when no hub is wired in.
func NewManager(notifier types.SessionNotifier, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	m := &Manager{
		sessions: make(map[int64]*session),
		notifier: notifier,
		timeout:  timeout,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Create returns the session between the unordered pair {initiator,
// participant}, creating one if none lives. Reusing a create for the same
// pair returns the existing id.
func (m *Manager) Create(initiator, participant string) (Session, error) {
	if initiator == participant {
		return Session{}, fmt.Errorf("%w: cannot open a whiteboard with yourself", types.ErrIllegalArgument)
	}
	if initiator == "" || participant == "" {
		return Session{}, fmt.Errorf("%w: both participants are required", types.ErrIllegalArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.hasPair(initiator, participant) {
			s.LastActivity = m.now()
			return m.snapshotLocked(s), nil
		}
	}

	m.nextID++
	now := m.now()
	s := &session{Session: Session{
		ID:           m.nextID,
		Initiator:    initiator,
		Participant:  participant,
		CreatedAt:    now,
		LastActivity: now,
	}}
	m.sessions[s.ID] = s
	metrics.ActiveWhiteboardSessions.Set(float64(len(m.sessions)))

	logging.Info(context.Background(), "whiteboard session created",
		zap.Int64("session_id", s.ID),
		zap.String("initiator", initiator),
		zap.String("participant", participant))

	return m.snapshotLocked(s), nil
}

// Draw appends a stroke to the session log. Only the two participants may
// draw.
func (m *Manager) Draw(id int64, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.participantLocked(id, cmd.User)
	if err != nil {
		return err
	}
	cmd.Type = TypeDraw
	s.commands = append(s.commands, cmd)
	s.LastActivity = m.now()
	return nil
}

// Clear truncates the session log and appends a clear marker, so a sync
// replay starts from a blank raster.
func (m *Manager) Clear(id int64, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.participantLocked(id, user)
	if err != nil {
		return err
	}
	s.commands = append(s.commands[:0], Command{Type: TypeClear, User: user})
	s.LastActivity = m.now()
	return nil
}

// Commands returns an ordered copy of the session log. Only participants may
// read it.
func (m *Manager) Commands(id int64, user string) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.participantLocked(id, user)
	if err != nil {
		return nil, err
	}
	s.LastActivity = m.now()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out, nil
}

// Close removes the session and notifies the other participant with a
// WHITEBOARD_CLOSED line if their TCP session is live.
func (m *Manager) Close(id int64, user string) error {
	m.mu.Lock()
	s, err := m.participantLocked(id, user)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	peer := s.Initiator
	if user == s.Initiator {
		peer = s.Participant
	}
	delete(m.sessions, id)
	metrics.ActiveWhiteboardSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	logging.Info(context.Background(), "whiteboard session closed",
		zap.Int64("session_id", id), zap.String("closed_by", user))

	m.notifier.PushLine(peer, "WHITEBOARD_CLOSED:"+user)
	return nil
}

// Get returns a snapshot of the session. Only participants may read it.
func (m *Manager) Get(id int64, user string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.participantLocked(id, user)
	if err != nil {
		return Session{}, err
	}
	return m.snapshotLocked(s), nil
}

// Peer returns the other participant of the session.
func (m *Manager) Peer(id int64, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.participantLocked(id, user)
	if err != nil {
		return "", err
	}
	if user == s.Initiator {
		return s.Participant, nil
	}
	return s.Initiator, nil
}

// Pending returns every session the user participates in.
func (m *Manager) Pending(user string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Initiator == user || s.Participant == user {
			out = append(out, m.snapshotLocked(s))
		}
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (s *session) hasPair(a, b string) bool {
	return (s.Initiator == a && s.Participant == b) || (s.Initiator == b && s.Participant == a)
}

func (m *Manager) participantLocked(id int64, user string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: whiteboard session %d", types.ErrNotFound, id)
	}
	if s.Initiator != user && s.Participant != user {
		return nil, fmt.Errorf("%w: %s is not in session %d", types.ErrForbidden, user, id)
	}
	return s, nil
}

func (m *Manager) snapshotLocked(s *session) Session {
	snap := s.Session
	snap.Commands = make([]Command, len(s.commands))
	copy(snap.Commands, s.commands)
	return snap
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes sessions idle past the timeout.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.timeout)
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			metrics.ActiveWhiteboardSessions.Set(float64(len(m.sessions)))
			logging.Info(context.Background(), "whiteboard session expired",
				zap.Int64("session_id", id))
		}
	}
}
