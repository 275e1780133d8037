// Package stun answers RFC 5389 Binding Requests with a XOR-MAPPED-ADDRESS
// attribute so WebRTC peers can discover their reflexive address. Only the
// binding method is implemented; every other packet is dropped.
package stun

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

const (
	magicCookie        = 0x2112A442
	headerLen          = 20
	bindingRequest     = 0x0001
	bindingResponse    = 0x0101
	attrXORMappedAddr  = 0x0020
	familyIPv4         = 0x01
	xorMappedAddrLen   = 8
	maxDatagram        = 1500
	defaultWorkerCount = 4
)

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// Server is the UDP binding responder. One goroutine receives datagrams and
// hands them to a small worker pool, so slow sends never stall the receive
// path.
type Server struct {
	port    int
	workers int

	conn *net.UDPConn
	jobs chan packet
	wg   sync.WaitGroup
}

// NewServer creates a responder for the given UDP port.
func NewServer(port int) *Server {
	return &Server{
		port:    port,
		workers: defaultWorkerCount,
		jobs:    make(chan packet, 64),
	}
}

// Start binds the socket and launches the receive loop and workers.
func (s *Server) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.port})
	if err != nil {
		return fmt.Errorf("failed to bind STUN socket on %d: %w", s.port, err)
	}
	s.conn = conn

	logging.Info(context.Background(), "STUN responder listening",
		zap.String("addr", conn.LocalAddr().String()))

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.receiveLoop()
	return nil
}

// Addr returns the bound socket address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Stop closes the socket and joins the workers.
func (s *Server) Stop() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) receiveLoop() {
	defer s.wg.Done()
	defer close(s.jobs)

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(context.Background(), "STUN read failed", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.jobs <- packet{data: data, addr: addr}
	}
}

func (s *Server) worker() {
	defer s.wg.Done()

	for p := range s.jobs {
		resp, ok := handleBinding(p.data, p.addr)
		if !ok {
			metrics.STUNPackets.WithLabelValues("dropped").Inc()
			continue
		}
		if _, err := s.conn.WriteToUDP(resp, p.addr); err != nil {
			metrics.STUNPackets.WithLabelValues("write_failed").Inc()
			continue
		}
		metrics.STUNPackets.WithLabelValues("binding").Inc()
	}
}

// handleBinding validates a Binding Request and builds the Binding Response
// carrying the sender's XOR-mapped address. Anything that is not a binding
// request over IPv4 reports ok=false.
func handleBinding(data []byte, addr *net.UDPAddr) (resp []byte, ok bool) {
	if len(data) < headerLen {
		return nil, false
	}
	if binary.BigEndian.Uint16(data[0:2]) != bindingRequest {
		return nil, false
	}
	if binary.BigEndian.Uint32(data[4:8]) != magicCookie {
		return nil, false
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, false
	}

	resp = make([]byte, headerLen+4+xorMappedAddrLen)
	binary.BigEndian.PutUint16(resp[0:2], bindingResponse)
	binary.BigEndian.PutUint16(resp[2:4], 4+xorMappedAddrLen)
	binary.BigEndian.PutUint32(resp[4:8], magicCookie)
	copy(resp[8:20], data[8:20])

	attr := resp[headerLen:]
	binary.BigEndian.PutUint16(attr[0:2], attrXORMappedAddr)
	binary.BigEndian.PutUint16(attr[2:4], xorMappedAddrLen)
	attr[4] = 0
	attr[5] = familyIPv4
	binary.BigEndian.PutUint16(attr[6:8], uint16(addr.Port)^uint16(magicCookie>>16))
	for i := 0; i < 4; i++ {
		attr[8+i] = ip4[i] ^ byte(uint32(magicCookie)>>uint(24-8*i))
	}
	return resp, true
}
