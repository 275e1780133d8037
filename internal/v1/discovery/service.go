// Package discovery implements LAN peer discovery: a broadcast UDP listener
// answering NEXUS_DISCOVER probes and a staleness-swept cache of peers
// learned from NEXUS_RESPONSE messages.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

const (
	msgDiscover = "NEXUS_DISCOVER"
	msgResponse = "NEXUS_RESPONSE"

	readTimeout   = 500 * time.Millisecond
	sweepInterval = 30 * time.Second
	staleAfter    = 120 * time.Second

	maxDatagram = 512
)

// Peer is one cached LAN peer. Stale is set when the entry has not been
// refreshed within the staleness window; the next sweep evicts it.
type Peer struct {
	Username string    `json:"username"`
	IP       string    `json:"ip"`
	Info     string    `json:"info,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
	Stale    bool      `json:"stale"`
}

type entry struct {
	ip       string
	info     string
	lastSeen time.Time
}

// Service owns the discovery socket, the receive loop, and the peer cache.
type Service struct {
	port     int
	hostname string

	mu        sync.Mutex
	localUser string
	peers     map[string]*entry

	conn *net.UDPConn
	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewService creates a discovery service for the given UDP port.
func NewService(port int) *Service {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Service{
		port:     port,
		hostname: hostname,
		peers:    make(map[string]*entry),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetLocalUser records the identity announced in responses. Probes carrying
// this username are treated as our own echo and ignored.
func (s *Service) SetLocalUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localUser = username
}

// Start binds the socket and launches the receive loop and the sweeper.
func (s *Service) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: s.port})
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket on %d: %w", s.port, err)
	}
	s.conn = conn

	logging.Info(context.Background(), "LAN discovery listening",
		zap.String("addr", conn.LocalAddr().String()))

	s.wg.Add(2)
	go s.receiveLoop()
	go s.sweepLoop()
	return nil
}

// Addr returns the bound socket address. Valid after Start.
func (s *Service) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Stop wakes the loops and joins them.
func (s *Service) Stop() {
	close(s.done)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wg.Wait()
}

// Broadcast announces this node on the LAN. Peers answer with a unicast
// NEXUS_RESPONSE that lands in the cache.
func (s *Service) Broadcast(username, info string) error {
	s.SetLocalUser(username)

	msg := fmt.Sprintf("%s:%s:%s", msgDiscover, username, info)
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: s.port}
	if _, err := s.conn.WriteToUDP([]byte(msg), dst); err != nil {
		return fmt.Errorf("failed to broadcast discovery probe: %w", err)
	}

	logging.Debug(context.Background(), "discovery probe sent", zap.String("username", username))
	return nil
}

// Peers returns the cached peers sorted by username. Entries past the
// staleness window are flagged but still returned; the sweeper evicts them.
func (s *Service) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Peer, 0, len(s.peers))
	for user, e := range s.peers {
		out = append(out, Peer{
			Username: user,
			IP:       e.ip,
			Info:     e.info,
			LastSeen: e.lastSeen,
			Stale:    now.Sub(e.lastSeen) > staleAfter,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// receiveLoop reads datagrams under a short deadline so Stop is observed
// promptly even when the LAN is silent.
func (s *Service) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(context.Background(), "discovery read failed", zap.Error(err))
			continue
		}
		s.handleMessage(strings.TrimSpace(string(buf[:n])), addr)
	}
}

func (s *Service) handleMessage(msg string, addr *net.UDPAddr) {
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) < 2 {
		return
	}
	kind, username := parts[0], parts[1]
	info := ""
	if len(parts) == 3 {
		info = parts[2]
	}

	switch kind {
	case msgDiscover:
		s.mu.Lock()
		self := username == s.localUser
		local := s.localUser
		s.mu.Unlock()
		if self || local == "" {
			return
		}

		reply := fmt.Sprintf("%s:%s:%s", msgResponse, local, s.hostname)
		if _, err := s.conn.WriteToUDP([]byte(reply), addr); err != nil {
			logging.Warn(context.Background(), "discovery response failed",
				zap.String("peer", addr.String()), zap.Error(err))
			return
		}
		logging.Debug(context.Background(), "discovery probe answered",
			zap.String("from", username), zap.String("peer", addr.String()))

	case msgResponse:
		s.mu.Lock()
		s.peers[username] = &entry{ip: addr.IP.String(), info: info, lastSeen: s.now()}
		size := len(s.peers)
		s.mu.Unlock()

		metrics.DiscoveryPeers.Set(float64(size))
		logging.Debug(context.Background(), "discovery peer cached",
			zap.String("username", username), zap.String("ip", addr.IP.String()))
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	s.mu.Lock()
	now := s.now()
	for user, e := range s.peers {
		if now.Sub(e.lastSeen) > staleAfter {
			delete(s.peers, user)
			logging.Debug(context.Background(), "discovery peer evicted", zap.String("username", user))
		}
	}
	size := len(s.peers)
	s.mu.Unlock()

	metrics.DiscoveryPeers.Set(float64(size))
}
