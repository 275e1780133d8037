package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/discovery"
)

type discoveryBroadcastRequest struct {
	Username       string `json:"username"`
	AdditionalInfo string `json:"additionalInfo"`
}

func (a *API) handleDiscoveryBroadcast(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}
	if a.discovery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "discovery is disabled"})
		return
	}

	var req discoveryBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, "invalid request body")
		return
	}
	if req.Username == "" {
		req.Username = username
	}

	if err := a.discovery.Broadcast(req.Username, req.AdditionalInfo); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) handleDiscoveryPeers(c *gin.Context) {
	if a.discovery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "discovery is disabled"})
		return
	}

	peers := a.discovery.Peers()
	if peers == nil {
		peers = []discovery.Peer{}
	}
	c.JSON(http.StatusOK, peers)
}
