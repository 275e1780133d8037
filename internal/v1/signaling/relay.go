package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
)

// relayConn is one audio relay socket. Writes are serialized under the
// mutex; the relay has no send queue since audio frames are droppable.
type relayConn struct {
	username string
	conn     wsConn

	mu        sync.Mutex
	closeOnce sync.Once
}

func (rc *relayConn) write(messageType int, data []byte) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return rc.conn.WriteMessage(messageType, data)
}

func (rc *relayConn) close() {
	rc.closeOnce.Do(func() { _ = rc.conn.Close() })
}

// ServeVoice upgrades GET /ws/voice?username=X. Binary frames are forwarded
// to the other participant of the user's CONNECTED voice session; frames
// sent outside a connected call are dropped.
func (r *Router) ServeVoice(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username query parameter required"})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "voice relay upgrade failed",
			zap.String("username", username), zap.Error(err))
		return
	}

	rc := &relayConn{username: username, conn: conn}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	prev := r.relays[username]
	r.relays[username] = rc
	r.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	logging.Info(c.Request.Context(), "voice relay connected", zap.String("username", username))
	go r.relayPump(rc)
}

func (r *Router) relayPump(rc *relayConn) {
	defer func() {
		rc.close()
		r.mu.Lock()
		if r.relays[rc.username] == rc {
			delete(r.relays, rc.username)
		}
		r.mu.Unlock()
	}()

	rc.conn.SetReadLimit(maxMessageSize)
	for {
		messageType, data, err := rc.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		peer, ok := r.voice.ConnectedPeer(rc.username)
		if !ok {
			continue
		}

		r.mu.Lock()
		target := r.relays[peer]
		r.mu.Unlock()
		if target == nil {
			continue
		}
		if err := target.write(websocket.BinaryMessage, data); err != nil {
			target.close()
		}
	}
}
