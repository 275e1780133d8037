package stun

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(0)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dialTestServer(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()
	port := s.Addr().(*net.UDPAddr).Port
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func buildRequest(txid [12]byte) []byte {
	req := make([]byte, headerLen)
	binary.BigEndian.PutUint16(req[0:2], bindingRequest)
	binary.BigEndian.PutUint32(req[4:8], magicCookie)
	copy(req[8:20], txid[:])
	return req
}

func TestBindingRequest_XORMappedAddress(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestServer(t, s)

	txid := [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	_, err := conn.Write(buildRequest(txid))
	require.NoError(t, err)

	buf := make([]byte, maxDatagram)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, headerLen+4+xorMappedAddrLen, n)

	resp := buf[:n]
	assert.EqualValues(t, bindingResponse, binary.BigEndian.Uint16(resp[0:2]))
	assert.EqualValues(t, 4+xorMappedAddrLen, binary.BigEndian.Uint16(resp[2:4]))
	assert.EqualValues(t, magicCookie, binary.BigEndian.Uint32(resp[4:8]))
	assert.Equal(t, txid[:], resp[8:20])

	attr := resp[headerLen:]
	assert.EqualValues(t, attrXORMappedAddr, binary.BigEndian.Uint16(attr[0:2]))
	assert.EqualValues(t, xorMappedAddrLen, binary.BigEndian.Uint16(attr[2:4]))
	assert.EqualValues(t, 0, attr[4])
	assert.EqualValues(t, familyIPv4, attr[5])

	// XORing again with the magic cookie recovers the socket's own address.
	local := conn.LocalAddr().(*net.UDPAddr)
	gotPort := binary.BigEndian.Uint16(attr[6:8]) ^ uint16(magicCookie>>16)
	assert.EqualValues(t, local.Port, gotPort)

	want := local.IP.To4()
	got := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		got[i] = attr[8+i] ^ byte(uint32(magicCookie)>>uint(24-8*i))
	}
	assert.True(t, want.Equal(got), "want %s got %s", want, got)
}

func TestNonBindingPacketsDropped(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestServer(t, s)

	// Short datagram.
	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	// Wrong message type.
	bad := buildRequest([12]byte{})
	binary.BigEndian.PutUint16(bad[0:2], 0x0002)
	_, err = conn.Write(bad)
	require.NoError(t, err)

	// Wrong magic cookie.
	bad = buildRequest([12]byte{})
	binary.BigEndian.PutUint32(bad[4:8], 0xDEADBEEF)
	_, err = conn.Write(bad)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, maxDatagram)
	_, err = conn.Read(buf)
	assert.Error(t, err, "dropped packets must not produce a response")
}

func TestHandleBinding_Direct(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 54321}
	req := buildRequest([12]byte{0xAA})

	resp, ok := handleBinding(req, addr)
	require.True(t, ok)

	attr := resp[headerLen:]
	gotPort := binary.BigEndian.Uint16(attr[6:8]) ^ uint16(magicCookie>>16)
	assert.EqualValues(t, 54321, gotPort)

	_, ok = handleBinding(req, &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 1})
	assert.False(t, ok, "IPv6 senders are dropped")
}
