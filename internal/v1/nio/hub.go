// Package nio implements the line-oriented TCP chat hub: one accept loop,
// one reader and one writer goroutine per session, and the colon-delimited
// frame grammar shared with native clients.
package nio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/chat"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/presence"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/ratelimit"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/whiteboard"
)

// CredentialVerifier checks a username/password pair. The auth store
// implements it.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) bool
}

// Hub owns the TCP chat listener and every live session. It implements the
// presence and chat Broadcaster contracts and types.SessionNotifier, so the
// session managers can push lines to named users.
type Hub struct {
	addr string

	registry    *presence.Registry
	chatCore    *chat.Core
	creds       CredentialVerifier
	whiteboards *whiteboard.Manager
	loginLimit  *ratelimit.IPRateLimiter

	mu       sync.Mutex
	sessions map[*Session]struct{}
	byUser   map[string]*Session
	closed   bool

	ln       net.Listener
	listenWg sync.WaitGroup
	connWg   sync.WaitGroup
}

// NewHub wires the hub to the shared registry, chat core, and credential
// store. loginLimit may be nil to disable login throttling.
func NewHub(addr string, registry *presence.Registry, chatCore *chat.Core, creds CredentialVerifier, loginLimit *ratelimit.IPRateLimiter) *Hub {
	return &Hub{
		addr:       addr,
		registry:   registry,
		chatCore:   chatCore,
		creds:      creds,
		loginLimit: loginLimit,
		sessions:   make(map[*Session]struct{}),
		byUser:     make(map[string]*Session),
	}
}

// SetWhiteboards wires the whiteboard manager in. The manager notifies
// through the hub, so it is constructed after it; call this before traffic
// starts.
func (h *Hub) SetWhiteboards(m *whiteboard.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.whiteboards = m
}

// Start binds the listener and launches the accept loop.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.ln = ln

	logging.Info(context.Background(), "TCP chat hub listening", zap.String("addr", ln.Addr().String()))

	h.listenWg.Add(1)
	go h.acceptLoop()
	return nil
}

// Addr returns the bound listener address. Valid after Start.
func (h *Hub) Addr() net.Addr {
	return h.ln.Addr()
}

func (h *Hub) acceptLoop() {
	defer h.listenWg.Done()

	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(context.Background(), "accept failed", zap.Error(err))
			continue
		}
		h.handleConnection(conn)
	}
}

func (h *Hub) handleConnection(conn net.Conn) {
	s := newSession(conn, h)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	metrics.IncTCPSession()
	logging.Info(s.ctx(), "session connected", zap.String("remote", conn.RemoteAddr().String()))

	h.connWg.Add(2)
	go s.writePump()
	go s.readPump()
}

// bindUser points the username index at the session after a successful
// LOGIN.
func (h *Hub) bindUser(username string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byUser[username] = s
}

// removeSession drops the session from the hub and, when it still anchors a
// presence entry, removes that entry (which broadcasts USER_LEFT and the
// roster). A session evicted by a relogin no longer matches the anchor, so
// the replacement's presence survives.
func (h *Hub) removeSession(s *Session, username string) {
	h.mu.Lock()
	_, tracked := h.sessions[s]
	delete(h.sessions, s)
	if username != "" && h.byUser[username] == s {
		delete(h.byUser, username)
	}
	h.mu.Unlock()

	if tracked {
		metrics.DecTCPSession()
	}
	if username != "" {
		h.registry.Logout(username, s)
	}
}

// BroadcastLine sends the line to every authenticated session except the
// named user. An empty exceptUsername reaches everyone, the sender included.
func (h *Hub) BroadcastLine(line string, exceptUsername string) {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.byUser))
	for user, s := range h.byUser {
		if user == exceptUsername {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.Send(line)
	}
}

// PushLine sends the line to the named user's live session, reporting
// whether one accepted it. Satisfies types.SessionNotifier.
func (h *Hub) PushLine(username, line string) bool {
	h.mu.Lock()
	s, ok := h.byUser[username]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return s.Send(line)
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes the listener, disconnects every session, and waits for
// the pumps to drain or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	if h.ln != nil {
		_ = h.ln.Close()
	}
	for _, s := range sessions {
		s.disconnect("server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.listenWg.Wait()
		h.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info(ctx, "TCP hub shutdown complete")
		return nil
	case <-ctx.Done():
		logging.Warn(ctx, "TCP hub shutdown timed out")
		return ctx.Err()
	}
}
