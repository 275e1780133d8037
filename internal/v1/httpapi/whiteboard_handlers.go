package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/whiteboard"
)

type whiteboardCreateRequest struct {
	Initiator   string `json:"initiator"`
	Participant string `json:"participant"`
}

type whiteboardDrawRequest struct {
	SessionID int64   `json:"sessionId"`
	Username  string  `json:"username"`
	Type      string  `json:"type"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	X2        float64 `json:"x2"`
	Y2        float64 `json:"y2"`
	Color     string  `json:"color"`
	Thickness float64 `json:"thickness"`
}

type whiteboardCloseRequest struct {
	SessionID int64  `json:"sessionId"`
	Username  string `json:"username"`
}

func (a *API) handleWhiteboardCreate(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req whiteboardCreateRequest
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

	s, err := a.whiteboards.Create(req.Initiator, req.Participant)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) handleWhiteboardDraw(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req whiteboardDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID <= 0 {
		badRequest(c, "invalid request body")
		return
	}
	if req.Username == "" {
		req.Username = username
	}
	if req.Username != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "username does not match token"})
		return
	}

	var err error
	switch strings.ToUpper(req.Type) {
	case "CLEAR":
		err = a.whiteboards.Clear(req.SessionID, req.Username)
	case "DRAW", "":
		err = a.whiteboards.Draw(req.SessionID, whiteboard.Command{
			Type:      "DRAW",
			User:      req.Username,
			X1:        req.X1,
			Y1:        req.Y1,
			X2:        req.X2,
			Y2:        req.Y2,
			Color:     req.Color,
			Thickness: req.Thickness,
		})
	default:
		badRequest(c, "type must be DRAW or CLEAR")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) handleWhiteboardSession(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid session id")
		return
	}
	if user := c.Query("username"); user != "" {
		username = user
	}

	commands, err := a.whiteboards.Commands(id, username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands, "count": len(commands)})
}

func (a *API) handleWhiteboardClose(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req whiteboardCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID <= 0 {
		badRequest(c, "invalid request body")
		return
	}
	if req.Username == "" {
		req.Username = username
	}
	if req.Username != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "username does not match token"})
		return
	}

	if err := a.whiteboards.Close(req.SessionID, req.Username); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) handleWhiteboardPending(c *gin.Context) {
	sessions := a.whiteboards.Pending(c.Param("user"))
	if sessions == nil {
		sessions = []whiteboard.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}
