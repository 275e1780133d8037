// Package voice manages the lifecycle of voice call sessions between two
// online users, from RINGING through CONNECTED to TERMINATED.
package voice

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

// State is the lifecycle phase of a voice session. Transitions only move
// forward: RINGING → ACCEPTED → CONNECTED → TERMINATED.
type State string

const (
	StateRinging    State = "RINGING"
	StateAccepted   State = "ACCEPTED"
	StateConnected  State = "CONNECTED"
	StateTerminated State = "TERMINATED"
)

// DefaultSessionTimeout is how long an idle session may live before the
// sweeper removes it.
const DefaultSessionTimeout = 30 * time.Minute

// sweepInterval is how often the idle sweeper wakes. Kept well under the
// timeout so an idle session is removed within one interval of expiring.
const sweepInterval = time.Minute

// Session is an immutable snapshot of a voice call. The manager mutates its
// internal copy under lock and hands out value copies, so readers never see
// torn SDP or state fields.
type Session struct {
	ID            int64     `json:"sessionId"`
	Initiator     string    `json:"initiator"`
	Target        string    `json:"target"`
	InitiatorIP   string    `json:"initiatorIp"`
	InitiatorPort int       `json:"initiatorPort"`
	TargetIP      string    `json:"targetIp"`
	TargetPort    int       `json:"targetPort"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
	AcceptedAt    time.Time `json:"acceptedAt,omitzero"`
	LastActivity  time.Time `json:"lastActivity"`

	InitiatorSDPOffer string `json:"-"`
	TargetSDPAnswer   string `json:"-"`
}

// PeerFinder resolves a username to its presence entry. The presence
// registry implements it.
type PeerFinder interface {
	FindPeer(user string) (types.PresenceEntry, bool)
}

// Manager owns all live voice sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	nextID   int64

	peers   PeerFinder
	timeout time.Duration
	now     func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager and starts its idle sweeper. Call Stop to
// shut the sweeper down.
func NewManager(peers PeerFinder, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	m := &Manager{
		sessions: make(map[int64]*Session),
		peers:    peers,
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

// Initiate creates a session in RINGING state. The target must be online
// with a declared voice port, and there must be no live session between the
// two users already.
func (m *Manager) Initiate(initiator, target, initiatorIP string, initiatorPort int) (Session, error) {
	if initiator == target {
		return Session{}, fmt.Errorf("%w: cannot call yourself", types.ErrIllegalArgument)
	}
	entry, ok := m.peers.FindPeer(target)
	if !ok {
		return Session{}, fmt.Errorf("%w: target %s is offline", types.ErrNotFound, target)
	}
	if entry.VoiceUdp <= 0 {
		return Session{}, fmt.Errorf("%w: target %s has no voice port", types.ErrIllegalState, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.findPairLocked(initiator, target); s != nil {
		return Session{}, fmt.Errorf("%w: call already in progress between %s and %s", types.ErrIllegalState, initiator, target)
	}

	m.nextID++
	now := m.now()
	s := &Session{
		ID:            m.nextID,
		Initiator:     initiator,
		Target:        target,
		InitiatorIP:   initiatorIP,
		InitiatorPort: initiatorPort,
		TargetIP:      entry.IP,
		TargetPort:    entry.VoiceUdp,
		State:         StateRinging,
		CreatedAt:     now,
		LastActivity:  now,
	}
	m.sessions[s.ID] = s
	metrics.ActiveVoiceSessions.Set(float64(len(m.sessions)))

	logging.Info(context.Background(), "voice session initiated",
		zap.Int64("session_id", s.ID),
		zap.String("initiator", initiator),
		zap.String("target", target))

	return *s, nil
}

// Ensure returns the live session between the two users, creating one in
// RINGING state if none exists. Used by the WebSocket signaling plane, where
// reachability is the socket itself rather than a declared UDP port.
func (m *Manager) Ensure(initiator, target string) (Session, error) {
	if initiator == target {
		return Session{}, fmt.Errorf("%w: cannot call yourself", types.ErrIllegalArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.findPairLocked(initiator, target); s != nil {
		s.LastActivity = m.now()
		return *s, nil
	}

	m.nextID++
	now := m.now()
	s := &Session{
		ID:            m.nextID,
		Initiator:     initiator,
		Target:        target,
		InitiatorPort: types.PortUnset,
		TargetPort:    types.PortUnset,
		State:         StateRinging,
		CreatedAt:     now,
		LastActivity:  now,
	}
	m.sessions[s.ID] = s
	metrics.ActiveVoiceSessions.Set(float64(len(m.sessions)))
	return *s, nil
}

// Accept transitions a RINGING session to ACCEPTED and records the
// accepter's port. Only the call target may accept.
func (m *Manager) Accept(id int64, accepter string, port int) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", types.ErrNotFound, id)
	}
	if s.Target != accepter {
		return Session{}, fmt.Errorf("%w: %s is not the target of session %d", types.ErrForbidden, accepter, id)
	}
	if s.State != StateRinging {
		return Session{}, fmt.Errorf("%w: session %d is %s, not RINGING", types.ErrIllegalState, id, s.State)
	}

	now := m.now()
	s.TargetPort = port
	s.State = StateAccepted
	s.AcceptedAt = now
	s.LastActivity = now

	logging.Info(context.Background(), "voice session accepted",
		zap.Int64("session_id", id), zap.String("accepter", accepter))

	return *s, nil
}

// Reject terminates and removes a session. Only a participant may reject.
func (m *Manager) Reject(id int64, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d", types.ErrNotFound, id)
	}
	if s.Initiator != user && s.Target != user {
		return fmt.Errorf("%w: %s is not part of session %d", types.ErrForbidden, user, id)
	}
	m.removeLocked(s, "rejected")
	return nil
}

// Terminate ends and removes a session regardless of its state.
func (m *Manager) Terminate(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d", types.ErrNotFound, id)
	}
	m.removeLocked(s, "terminated")
	return nil
}

// TerminateAllFor ends every session the user participates in and returns
// the final snapshots so callers can notify the other peers.
func (m *Manager) TerminateAllFor(user string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []Session
	for _, s := range m.sessions {
		if s.Initiator == user || s.Target == user {
			m.removeLocked(s, "peer disconnected")
			ended = append(ended, *s)
		}
	}
	return ended
}

// Get returns a snapshot of the session and bumps its activity clock.
func (m *Manager) Get(id int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", types.ErrNotFound, id)
	}
	s.LastActivity = m.now()
	return *s, nil
}

// Incoming returns the RINGING sessions targeting the user.
func (m *Manager) Incoming(user string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Target == user && s.State == StateRinging {
			s.LastActivity = m.now()
			out = append(out, *s)
		}
	}
	return out
}

// SetOffer stores the initiator's SDP offer. If the answer is already
// present the session becomes CONNECTED.
func (m *Manager) SetOffer(id int64, sdp string) (Session, error) {
	return m.setSDP(id, sdp, true)
}

// SetAnswer stores the target's SDP answer. If the offer is already present
// the session becomes CONNECTED.
func (m *Manager) SetAnswer(id int64, sdp string) (Session, error) {
	return m.setSDP(id, sdp, false)
}

func (m *Manager) setSDP(id int64, sdp string, offer bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", types.ErrNotFound, id)
	}
	if s.State == StateTerminated {
		return Session{}, fmt.Errorf("%w: session %d is terminated", types.ErrIllegalState, id)
	}

	if offer {
		s.InitiatorSDPOffer = sdp
	} else {
		s.TargetSDPAnswer = sdp
	}
	if s.InitiatorSDPOffer != "" && s.TargetSDPAnswer != "" {
		s.State = StateConnected
	}
	s.LastActivity = m.now()
	return *s, nil
}

// ConnectedPeer returns the other participant of the user's CONNECTED
// session, if any. The audio relay uses it to pick the forwarding target.
func (m *Manager) ConnectedPeer(user string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.State != StateConnected {
			continue
		}
		if s.Initiator == user {
			return s.Target, true
		}
		if s.Target == user {
			return s.Initiator, true
		}
	}
	return "", false
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// findPairLocked returns the live session between the unordered pair {a,b}.
func (m *Manager) findPairLocked(a, b string) *Session {
	for _, s := range m.sessions {
		if (s.Initiator == a && s.Target == b) || (s.Initiator == b && s.Target == a) {
			return s
		}
	}
	return nil
}

// removeLocked marks the session TERMINATED and drops it from the index.
func (m *Manager) removeLocked(s *Session, reason string) {
	s.State = StateTerminated
	delete(m.sessions, s.ID)
	metrics.ActiveVoiceSessions.Set(float64(len(m.sessions)))

	logging.Info(context.Background(), "voice session ended",
		zap.Int64("session_id", s.ID), zap.String("reason", reason))
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
	for _, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			m.removeLocked(s, "idle timeout")
		}
	}
}
