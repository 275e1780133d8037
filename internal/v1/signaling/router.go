// Package signaling implements the WebRTC signaling plane: a WebSocket
// router that relays offer/answer/ICE and call-control messages between
// named clients, backed by the voice session manager, plus a binary audio
// relay for connected calls.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/voice"
)

// Message is one signaling frame. Data carries the type-specific payload
// verbatim; the router never interprets SDP or candidate contents.
type Message struct {
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// sessionRef is the payload shape shared by the call-control types.
type sessionRef struct {
	SessionID int64  `json:"sessionId"`
	Caller    string `json:"caller,omitempty"`
	Target    string `json:"target,omitempty"`
	Accepter  string `json:"accepter,omitempty"`
	Rejecter  string `json:"rejecter,omitempty"`
	EndedBy   string `json:"endedBy,omitempty"`
	Username  string `json:"username,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Router keeps the username → client map and routes frames between them.
type Router struct {
	voice    *voice.Manager
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
	relays  map[string]*relayConn
	closed  bool
}

// NewRouter builds a router over the shared voice manager. Upgrades are
// restricted to the given origins; an empty list allows any origin, for
// native clients without an Origin header.
func NewRouter(vm *voice.Manager, allowedOrigins []string) *Router {
	r := &Router{
		voice:   vm,
		clients: make(map[string]*Client),
		relays:  make(map[string]*relayConn),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return r
}

// originChecker allows requests without an Origin header (native clients)
// and browser requests from the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeSignaling upgrades GET /ws/signaling?username=X. A second connect for
// the same username closes the first with a normal close frame.
func (r *Router) ServeSignaling(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username query parameter required"})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "signaling upgrade failed",
			zap.String("username", username), zap.Error(err))
		return
	}

	client := newClient(username, conn, r)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	prev := r.clients[username]
	r.clients[username] = client
	r.mu.Unlock()

	if prev != nil {
		prev.closeNormal("replaced by new connection")
	}

	metrics.ActiveSignalingConnections.Inc()
	logging.Info(c.Request.Context(), "signaling client connected", zap.String("username", username))

	go client.writePump()
	go client.readPump()
}

// removeClient drops the client, terminates the user's voice sessions, and
// tells each peer the user went away. A client replaced by a newer connect
// no longer matches the map entry, so the replacement's sessions survive.
func (r *Router) removeClient(c *Client) {
	r.mu.Lock()
	current := r.clients[c.username] == c
	if current {
		delete(r.clients, c.username)
	}
	r.mu.Unlock()

	metrics.ActiveSignalingConnections.Dec()
	if !current {
		return
	}

	for _, s := range r.voice.TerminateAllFor(c.username) {
		peer := s.Initiator
		if peer == c.username {
			peer = s.Target
		}
		r.send(peer, Message{
			From: "system",
			To:   peer,
			Type: "peer-disconnected",
			Data: marshal(sessionRef{SessionID: s.ID, Username: c.username}),
		})
	}

	logging.Info(context.Background(), "signaling client disconnected", zap.String("username", c.username))
}

// send delivers the message to the named user's live socket, reporting
// whether one accepted it.
func (r *Router) send(username string, msg Message) bool {
	r.mu.Lock()
	c, ok := r.clients[username]
	r.mu.Unlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.send(data)
}

// systemError reports a routing failure back to the sender.
func (r *Router) systemError(c *Client, cause string) {
	payload, _ := json.Marshal(gin.H{"message": cause})
	data, err := json.Marshal(Message{From: "system", To: c.username, Type: "error", Data: payload})
	if err != nil {
		return
	}
	c.send(data)
}

// route dispatches one inbound frame. Every path ends in either a delivery
// or a system error back to the sender; the socket stays open.
func (r *Router) route(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.SignalingMessages.WithLabelValues("invalid", "error").Inc()
		r.systemError(c, "malformed message")
		return
	}
	msg.From = c.username

	var err error
	switch msg.Type {
	case "call-initiate":
		err = r.handleCallInitiate(c, msg)
	case "call-accept":
		err = r.handleCallAccept(c, msg)
	case "call-reject":
		err = r.handleCallReject(c, msg)
	case "call-end":
		err = r.handleCallEnd(c, msg)
	case "offer":
		err = r.handleOffer(c, msg)
	case "answer":
		err = r.handleAnswer(c, msg)
	case "ice-candidate":
		err = r.handleICECandidate(c, msg)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		metrics.SignalingMessages.WithLabelValues(msg.Type, "error").Inc()
		r.systemError(c, err.Error())
		return
	}
	metrics.SignalingMessages.WithLabelValues(msg.Type, "ok").Inc()
}

func (r *Router) handleCallInitiate(c *Client, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("call-initiate requires a target")
	}

	s, err := r.voice.Ensure(c.username, msg.To)
	if err != nil {
		return fmt.Errorf("cannot start call: %s", types.Cause(err))
	}

	delivered := r.send(msg.To, Message{
		From: c.username,
		To:   msg.To,
		Type: "incoming-call",
		Data: marshal(sessionRef{SessionID: s.ID, Caller: c.username}),
	})
	if !delivered {
		_ = r.voice.Terminate(s.ID)
		return fmt.Errorf("user %s is not connected", msg.To)
	}

	ack, _ := json.Marshal(Message{
		From: "system",
		To:   c.username,
		Type: "call-initiated",
		Data: marshal(sessionRef{SessionID: s.ID, Target: msg.To}),
	})
	c.send(ack)
	return nil
}

func (r *Router) handleCallAccept(c *Client, msg Message) error {
	ref, err := parseRef(msg.Data)
	if err != nil {
		return err
	}

	s, err := r.voice.Accept(ref.SessionID, c.username, types.PortUnset)
	if err != nil {
		return fmt.Errorf("cannot accept call: %s", types.Cause(err))
	}

	r.send(s.Initiator, Message{
		From: c.username,
		To:   s.Initiator,
		Type: "call-accepted",
		Data: marshal(sessionRef{SessionID: s.ID, Accepter: c.username}),
	})
	return nil
}

func (r *Router) handleCallReject(c *Client, msg Message) error {
	ref, err := parseRef(msg.Data)
	if err != nil {
		return err
	}

	s, err := r.voice.Get(ref.SessionID)
	if err != nil {
		return fmt.Errorf("cannot reject call: %s", types.Cause(err))
	}
	if err := r.voice.Reject(ref.SessionID, c.username); err != nil {
		return fmt.Errorf("cannot reject call: %s", types.Cause(err))
	}

	r.send(s.Initiator, Message{
		From: c.username,
		To:   s.Initiator,
		Type: "call-rejected",
		Data: marshal(sessionRef{SessionID: s.ID, Rejecter: c.username}),
	})
	return nil
}

func (r *Router) handleCallEnd(c *Client, msg Message) error {
	ref, err := parseRef(msg.Data)
	if err != nil {
		return err
	}

	s, err := r.voice.Get(ref.SessionID)
	if err != nil {
		return fmt.Errorf("cannot end call: %s", types.Cause(err))
	}
	if s.Initiator != c.username && s.Target != c.username {
		return fmt.Errorf("not a participant of session %d", ref.SessionID)
	}
	if err := r.voice.Terminate(ref.SessionID); err != nil {
		return fmt.Errorf("cannot end call: %s", types.Cause(err))
	}

	peer := s.Initiator
	if peer == c.username {
		peer = s.Target
	}
	r.send(peer, Message{
		From: c.username,
		To:   peer,
		Type: "call-ended",
		Data: marshal(sessionRef{SessionID: s.ID, EndedBy: c.username}),
	})
	return nil
}

// handleOffer stores the SDP on the pair's session (creating one if the
// call skipped call-initiate) and forwards the frame untouched.
func (r *Router) handleOffer(c *Client, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("offer requires a target")
	}

	s, err := r.voice.Ensure(c.username, msg.To)
	if err != nil {
		return fmt.Errorf("cannot store offer: %s", types.Cause(err))
	}
	if _, err := r.voice.SetOffer(s.ID, string(msg.Data)); err != nil {
		return fmt.Errorf("cannot store offer: %s", types.Cause(err))
	}

	if !r.send(msg.To, msg) {
		return fmt.Errorf("user %s is not connected", msg.To)
	}
	return nil
}

func (r *Router) handleAnswer(c *Client, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("answer requires a target")
	}

	s, err := r.voice.Ensure(msg.To, c.username)
	if err != nil {
		return fmt.Errorf("cannot store answer: %s", types.Cause(err))
	}
	if _, err := r.voice.SetAnswer(s.ID, string(msg.Data)); err != nil {
		return fmt.Errorf("cannot store answer: %s", types.Cause(err))
	}

	if !r.send(msg.To, msg) {
		return fmt.Errorf("user %s is not connected", msg.To)
	}
	return nil
}

func (r *Router) handleICECandidate(c *Client, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("ice-candidate requires a target")
	}
	if !r.send(msg.To, msg) {
		return fmt.Errorf("user %s is not connected", msg.To)
	}
	return nil
}

// ClientCount returns the number of connected signaling clients.
func (r *Router) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Shutdown closes every signaling and relay socket.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	relays := make([]*relayConn, 0, len(r.relays))
	for _, rc := range r.relays {
		relays = append(relays, rc)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.closeNormal("server shutting down")
	}
	for _, rc := range relays {
		rc.close()
	}
	logging.Info(ctx, "signaling router shutdown complete")
	return nil
}

func parseRef(data json.RawMessage) (sessionRef, error) {
	var ref sessionRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.SessionID == 0 {
		return sessionRef{}, fmt.Errorf("sessionId required")
	}
	return ref, nil
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
