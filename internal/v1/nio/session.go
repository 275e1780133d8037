package nio

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

const (
	// maxLineBytes bounds line accumulation; a line that never terminates
	// within this is a fatal session error.
	maxLineBytes = 1 << 20

	// sendQueueSize is the per-session outbound buffer. A full queue marks
	// the session a slow consumer and disconnects it.
	sendQueueSize = 256

	writeWait = 10 * time.Second
)

// Session is one connected TCP chat socket. Frames are read and handled on
// the session's reader goroutine, preserving wire order; outbound lines are
// drained by a single writer goroutine from the send queue.
type Session struct {
	id   string
	conn net.Conn
	hub  *Hub
	ip   string

	mu       sync.RWMutex
	username string // empty until LOGIN succeeds
	closed   bool

	closeOnce sync.Once
	send      chan string
	done      chan struct{}
}

func newSession(conn net.Conn, hub *Hub) *Session {
	ip := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ip = addr.IP.String()
	} else if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		ip = host
	}
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		hub:  hub,
		ip:   ip,
		send: make(chan string, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Username returns the authenticated username, or empty before LOGIN.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

// Evict satisfies presence.Anchor: a replacement login tears the old
// session down.
func (s *Session) Evict(reason string) {
	s.disconnect(reason)
}

// Send enqueues one protocol line (without newline). It never blocks; a
// full queue disconnects the session so one slow consumer cannot stall the
// fan-out.
func (s *Session) Send(line string) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	s.mu.RUnlock()

	select {
	case s.send <- line:
		return true
	default:
		logging.Warn(s.ctx(), "send queue full, dropping slow consumer")
		s.disconnect("slow consumer")
		return false
	}
}

// readPump reads newline-framed UTF-8 lines and dispatches them in order.
// It owns the session lifetime: any read failure ends the session.
func (s *Session) readPump() {
	defer s.hub.connWg.Done()
	defer s.disconnect("connection closed")

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		s.handleFrame(line)
	}

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			logging.Warn(s.ctx(), "oversize frame, closing session")
		} else {
			logging.Debug(s.ctx(), "read error", zap.Error(err))
		}
	}
}

// handleFrame dispatches one line, confining handler panics to the session.
func (s *Session) handleFrame(line string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(s.ctx(), "panic in frame handler", zap.Any("panic", r))
			s.disconnect("internal error")
		}
	}()

	start := time.Now()
	cmd := s.hub.dispatch(s, line)
	metrics.FrameHandlingDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
}

// writePump drains the send queue onto the socket. Only this goroutine
// writes to the connection.
func (s *Session) writePump() {
	defer s.hub.connWg.Done()
	defer s.conn.Close()

	for {
		select {
		case line, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
				logging.Debug(s.ctx(), "write error", zap.Error(err))
				s.disconnect("write failure")
				return
			}
		case <-s.done:
			return
		}
	}
}

// disconnect tears the session down exactly once: closes the socket, drops
// it from the hub, and removes its presence entry if this session anchors
// one.
func (s *Session) disconnect(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		username := s.username
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()

		s.hub.removeSession(s, username)

		logging.Info(s.ctx(), "session disconnected", zap.String("reason", reason))
	})
}

func (s *Session) ctx() context.Context {
	ctx := context.WithValue(context.Background(), logging.SessionIDKey, s.id)
	ctx = context.WithValue(ctx, logging.RemoteAddrKey, s.ip)
	if u := s.Username(); u != "" {
		ctx = context.WithValue(ctx, logging.UsernameKey, u)
	}
	return ctx
}
