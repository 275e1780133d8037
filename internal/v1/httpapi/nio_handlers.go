package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/presence"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

type nioLoginRequest struct {
	// Legacy clients re-verify credentials in the body; token-only clients
	// omit both and the bearer identity is trusted.
	Username   string `json:"username"`
	Password   string `json:"password"`
	FileTcp    *int   `json:"fileTcp"`
	VoiceUdp   *int   `json:"voiceUdp"`
	IPOverride string `json:"ipOverride"`
}

type nioMessageRequest struct {
	Text string `json:"text"`
}

// handleNioLogin installs an HTTP-anchored presence entry for the token's
// user, starts the per-user file receiver when a file port is declared, and
// returns the roster plus recent chat so the client can render immediately.
func (a *API) handleNioLogin(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req nioLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, "invalid request body")
		return
	}

	if req.Username != "" {
		if req.Username != username {
			c.JSON(http.StatusForbidden, gin.H{"error": "body username does not match token"})
			return
		}
		if !a.store.Verify(c.Request.Context(), req.Username, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
	}

	fileTcp := types.PortUnset
	if req.FileTcp != nil {
		fileTcp = *req.FileTcp
	}
	voiceUdp := types.PortUnset
	if req.VoiceUdp != nil {
		voiceUdp = *req.VoiceUdp
	}
	if fileTcp == 0 || fileTcp < types.PortUnset || fileTcp > 65535 ||
		voiceUdp == 0 || voiceUdp < types.PortUnset || voiceUdp > 65535 {
		badRequest(c, "invalid port")
		return
	}

	ip := req.IPOverride
	if ip == "" {
		ip = c.ClientIP()
	}

	// Tear any prior login down first, so its receiver teardown cannot stop
	// the receiver this login is about to start.
	if oldAnchor, ok := a.registry.AnchorOf(username); ok {
		if a.registry.Logout(username, oldAnchor) {
			oldAnchor.Evict("relogin")
		}
	}

	if fileTcp > 0 {
		if _, err := a.files.StartReceiver(username, fileTcp); err != nil {
			logging.Warn(c.Request.Context(), "file receiver start failed",
				zap.String("username", username), zap.Error(err))
			badRequest(c, "cannot bind file transfer port")
			return
		}
	}

	anchor := &presence.HTTPAnchor{
		Username: username,
		OnEvict: func(reason string) {
			a.files.StopReceiver(username)
		},
	}
	if _, prevAnchor := a.registry.Login(username, ip, fileTcp, voiceUdp, false, anchor); prevAnchor != nil {
		prevAnchor.Evict("relogin")
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"user":     username,
		"users":    a.registry.Snapshot(),
		"messages": a.chat.Recent(),
	})
}

// handleNioLogout removes the user's presence entry only when it is still
// HTTP-anchored. If the user has since re-logged in over TCP the entry is
// anchored to that session and an HTTP logout must not touch it.
func (a *API) handleNioLogout(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	anchor, ok := a.registry.AnchorOf(username)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not logged in"})
		return
	}
	httpAnchor, ok := anchor.(*presence.HTTPAnchor)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "presence anchored to another transport"})
		return
	}

	if a.registry.Logout(username, httpAnchor) {
		httpAnchor.Evict("logged out")
	}

	c.Status(http.StatusNoContent)
}

func (a *API) handleNioMessage(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req nioMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		badRequest(c, "text required")
		return
	}

	msg, err := a.chat.Broadcast(username, req.Text)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "message": msg})
}

func (a *API) handleNioUsers(c *gin.Context) {
	c.JSON(http.StatusOK, a.registry.Snapshot())
}

func (a *API) handleNioMessages(c *gin.Context) {
	c.JSON(http.StatusOK, a.chat.Recent())
}

func (a *API) handleNioPeer(c *gin.Context) {
	entry, ok := a.registry.FindPeer(c.Param("user"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not online"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
