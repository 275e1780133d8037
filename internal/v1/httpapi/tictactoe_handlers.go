package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type gameStartRequest struct {
	Opponent string `json:"opponent"`
}

type gameMoveRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func gameID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid game id")
		return 0, false
	}
	return id, true
}

func (a *API) handleGameStart(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req gameStartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Opponent == "" {
		badRequest(c, "opponent required")
		return
	}

	g, err := a.games.Start(username, req.Opponent)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (a *API) handleGameMove(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	id, ok := gameID(c)
	if !ok {
		return
	}

	var req gameMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	g, err := a.games.Move(id, username, req.Row, req.Col)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (a *API) handleGameResign(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	id, ok := gameID(c)
	if !ok {
		return
	}

	g, err := a.games.Resign(id, username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (a *API) handleGameCurrent(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	g, ok := a.games.Current(username)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, g)
}
