package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/voice"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type offlinePeers struct{}

func (offlinePeers) FindPeer(string) (types.PresenceEntry, bool) {
	return types.PresenceEntry{}, false
}

type testEnv struct {
	router *Router
	voice  *voice.Manager
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	vm := voice.NewManager(offlinePeers{}, time.Hour)
	router := NewRouter(vm, nil)

	engine := gin.New()
	engine.GET("/ws/signaling", router.ServeSignaling)
	engine.GET("/ws/voice", router.ServeVoice)
	server := httptest.NewServer(engine)

	t.Cleanup(func() {
		require.NoError(t, router.Shutdown(t.Context()))
		server.Close()
		vm.Stop()
	})
	return &testEnv{router: router, voice: vm, server: server}
}

func (e *testEnv) dial(t *testing.T, path, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path + "?username=" + username
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func refOf(t *testing.T, msg Message) sessionRef {
	t.Helper()
	var ref sessionRef
	require.NoError(t, json.Unmarshal(msg.Data, &ref))
	return ref
}

func TestServeSignaling_RequiresUsername(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/ws/signaling")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallInitiate_DeliversIncomingCall(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})

	incoming := readMessage(t, bob)
	assert.Equal(t, "incoming-call", incoming.Type)
	assert.Equal(t, "alice", incoming.From)
	assert.Equal(t, "alice", refOf(t, incoming).Caller)

	ack := readMessage(t, alice)
	assert.Equal(t, "call-initiated", ack.Type)
	assert.Equal(t, "bob", refOf(t, ack).Target)
	assert.Equal(t, refOf(t, incoming).SessionID, refOf(t, ack).SessionID)

	assert.Equal(t, 1, env.voice.Count())
}

func TestCallInitiate_OfflineTarget(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")

	writeMessage(t, alice, Message{To: "ghost", Type: "call-initiate"})

	errMsg := readMessage(t, alice)
	assert.Equal(t, "system", errMsg.From)
	assert.Equal(t, "error", errMsg.Type)
	assert.Contains(t, string(errMsg.Data), "not connected")

	// The speculative session is rolled back.
	assert.Zero(t, env.voice.Count())
}

func TestCallAcceptFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})
	incoming := readMessage(t, bob)
	readMessage(t, alice) // ack
	id := refOf(t, incoming).SessionID

	writeMessage(t, bob, Message{Type: "call-accept", Data: marshal(sessionRef{SessionID: id})})

	accepted := readMessage(t, alice)
	assert.Equal(t, "call-accepted", accepted.Type)
	assert.Equal(t, "bob", refOf(t, accepted).Accepter)

	s, err := env.voice.Get(id)
	require.NoError(t, err)
	assert.Equal(t, voice.StateAccepted, s.State)
}

func TestCallAccept_OnlyTarget(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})
	incoming := readMessage(t, bob)
	readMessage(t, alice)
	id := refOf(t, incoming).SessionID

	// The initiator cannot accept their own call.
	writeMessage(t, alice, Message{Type: "call-accept", Data: marshal(sessionRef{SessionID: id})})
	errMsg := readMessage(t, alice)
	assert.Equal(t, "error", errMsg.Type)
}

func TestCallRejectFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})
	incoming := readMessage(t, bob)
	readMessage(t, alice)
	id := refOf(t, incoming).SessionID

	writeMessage(t, bob, Message{Type: "call-reject", Data: marshal(sessionRef{SessionID: id})})

	rejected := readMessage(t, alice)
	assert.Equal(t, "call-rejected", rejected.Type)
	assert.Equal(t, "bob", refOf(t, rejected).Rejecter)
	assert.Zero(t, env.voice.Count())
}

func TestCallEndFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})
	incoming := readMessage(t, bob)
	readMessage(t, alice)
	id := refOf(t, incoming).SessionID

	writeMessage(t, alice, Message{Type: "call-end", Data: marshal(sessionRef{SessionID: id})})

	ended := readMessage(t, bob)
	assert.Equal(t, "call-ended", ended.Type)
	assert.Equal(t, "alice", refOf(t, ended).EndedBy)
	assert.Zero(t, env.voice.Count())
}

func TestOfferAnswerConnectsSession(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	offer := json.RawMessage(`{"sdp":"v=0 offer"}`)
	writeMessage(t, alice, Message{To: "bob", Type: "offer", Data: offer})

	fwd := readMessage(t, bob)
	assert.Equal(t, "offer", fwd.Type)
	assert.Equal(t, "alice", fwd.From)
	assert.JSONEq(t, string(offer), string(fwd.Data))

	answer := json.RawMessage(`{"sdp":"v=0 answer"}`)
	writeMessage(t, bob, Message{To: "alice", Type: "answer", Data: answer})

	fwd = readMessage(t, alice)
	assert.Equal(t, "answer", fwd.Type)

	require.Equal(t, 1, env.voice.Count())
	peer, ok := env.voice.ConnectedPeer("alice")
	require.True(t, ok, "offer + answer must connect the session")
	assert.Equal(t, "bob", peer)
}

func TestICECandidateForwardedVerbatim(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	cand := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 192.168.1.5 50000 typ host"}`)
	writeMessage(t, alice, Message{To: "bob", Type: "ice-candidate", Data: cand})

	fwd := readMessage(t, bob)
	assert.Equal(t, "ice-candidate", fwd.Type)
	assert.JSONEq(t, string(cand), string(fwd.Data))
}

func TestUnknownTypeAndMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")

	writeMessage(t, alice, Message{To: "x", Type: "teleport"})
	errMsg := readMessage(t, alice)
	assert.Equal(t, "error", errMsg.Type)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errMsg = readMessage(t, alice)
	assert.Equal(t, "error", errMsg.Type)
	assert.Contains(t, string(errMsg.Data), "malformed")
}

func TestDuplicateConnectClosesPrior(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t, "/ws/signaling", "alice")
	second := env.dial(t, "/ws/signaling", "alice")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"prior socket gets a normal close, got %v", err)

	// The replacement still routes.
	bob := env.dial(t, "/ws/signaling", "bob")
	writeMessage(t, second, Message{To: "bob", Type: "call-initiate"})
	incoming := readMessage(t, bob)
	assert.Equal(t, "incoming-call", incoming.Type)
}

func TestDisconnectTerminatesSessionsAndNotifiesPeer(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	writeMessage(t, alice, Message{To: "bob", Type: "call-initiate"})
	readMessage(t, bob)
	readMessage(t, alice)
	require.Equal(t, 1, env.voice.Count())

	require.NoError(t, alice.Close())

	gone := readMessage(t, bob)
	assert.Equal(t, "peer-disconnected", gone.Type)
	assert.Equal(t, "alice", refOf(t, gone).Username)
	assert.Zero(t, env.voice.Count())

	require.Eventually(t, func() bool {
		return env.router.ClientCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestVoiceRelay_ForwardsBetweenConnectedPeers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "/ws/signaling", "alice")
	bob := env.dial(t, "/ws/signaling", "bob")

	// Connect the pair via offer/answer.
	writeMessage(t, alice, Message{To: "bob", Type: "offer", Data: json.RawMessage(`{"sdp":"o"}`)})
	readMessage(t, bob)
	writeMessage(t, bob, Message{To: "alice", Type: "answer", Data: json.RawMessage(`{"sdp":"a"}`)})
	readMessage(t, alice)

	aliceVoice := env.dial(t, "/ws/voice", "alice")
	bobVoice := env.dial(t, "/ws/voice", "bob")

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, aliceVoice.WriteMessage(websocket.BinaryMessage, frame))

	require.NoError(t, bobVoice.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := bobVoice.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, frame, data)
}

func TestVoiceRelay_DroppedOutsideConnectedCall(t *testing.T) {
	env := newTestEnv(t)

	aliceVoice := env.dial(t, "/ws/voice", "alice")
	bobVoice := env.dial(t, "/ws/voice", "bob")

	require.NoError(t, aliceVoice.WriteMessage(websocket.BinaryMessage, []byte{0xFF}))

	require.NoError(t, bobVoice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := bobVoice.ReadMessage()
	assert.Error(t, err, "no connected session, nothing relayed")
}
