package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/voice"
)

type voiceInitiateRequest struct {
	Initiator    string `json:"initiator"`
	Target       string `json:"target"`
	LocalUdpPort int    `json:"localUdpPort"`
}

type voiceAcceptRequest struct {
	Accepter     string `json:"accepter"`
	LocalUdpPort int    `json:"localUdpPort"`
}

type sdpRequest struct {
	SDP string `json:"sdp"`
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid session id")
		return 0, false
	}
	return id, true
}

func (a *API) handleVoiceInitiate(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req voiceInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Initiator == "" {
		req.Initiator = username
	}
	if req.Initiator != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "initiator does not match token"})
		return
	}

	s, err := a.voice.Initiate(req.Initiator, req.Target, c.ClientIP(), req.LocalUdpPort)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"targetIp":   s.TargetIP,
		"targetPort": s.TargetPort,
		"sessionId":  s.ID,
	})
}

func (a *API) handleVoiceAccept(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req voiceAcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	accepter := req.Accepter
	if accepter == "" {
		accepter = username
	}
	if accepter != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "accepter does not match token"})
		return
	}

	s, err := a.voice.Accept(id, accepter, req.LocalUdpPort)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) handleVoiceReject(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	user := c.Query("user")
	if user == "" {
		user = username
	}
	if user != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "user does not match token"})
		return
	}

	if err := a.voice.Reject(id, user); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleVoiceTerminate(c *gin.Context) {
	if _, ok := identity(c); !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if err := a.voice.Terminate(id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleVoiceStatus(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	s, err := a.voice.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) handleVoiceIncoming(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	if user := c.Query("user"); user != "" {
		username = user
	}

	calls := a.voice.Incoming(username)
	if calls == nil {
		calls = []voice.Session{}
	}
	c.JSON(http.StatusOK, calls)
}

// handleVoiceConfig returns the fixed audio parameters clients capture with.
func (a *API) handleVoiceConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sampleRate":       16000,
		"channels":         1,
		"bitsPerSample":    16,
		"packetDurationMs": 20,
	})
}

// handleVoiceSDPStore stores the offer (initiator side) or answer (target
// side) on the session. Both present moves the call to CONNECTED.
func (a *API) handleVoiceSDPStore(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req sdpRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SDP == "" {
		badRequest(c, "sdp required")
		return
	}

	var err error
	switch c.Param("kind") {
	case "offer":
		_, err = a.voice.SetOffer(id, req.SDP)
	case "answer":
		_, err = a.voice.SetAnswer(id, req.SDP)
	default:
		badRequest(c, "kind must be offer or answer")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// handleVoiceSDPFetch returns the stored SDP, or 204 while the other side
// has not posted it yet.
func (a *API) handleVoiceSDPFetch(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	s, err := a.voice.Get(id)
	if err != nil {
		fail(c, err)
		return
	}

	var sdp string
	switch c.Param("kind") {
	case "offer":
		sdp = s.InitiatorSDPOffer
	case "answer":
		sdp = s.TargetSDPAnswer
	default:
		badRequest(c, "kind must be offer or answer")
		return
	}

	if sdp == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sdp": sdp})
}
