// Package httpapi is the HTTP bridge: gin handlers that mutate the same
// presence, chat, and session-manager state as the TCP hub, so browser and
// native clients interoperate.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/auth"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/chat"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/discovery"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/filetransfer"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/middleware"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/presence"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/tictactoe"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/voice"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/whiteboard"
)

// API bundles the shared state the handlers operate on. Every field except
// discovery is required; a nil discovery reports the feature as disabled.
type API struct {
	store       *auth.Store
	tokens      *auth.TokenService
	validator   auth.TokenValidator
	registry    *presence.Registry
	chat        *chat.Core
	voice       *voice.Manager
	whiteboards *whiteboard.Manager
	games       *tictactoe.Manager
	files       *filetransfer.Service
	discovery   *discovery.Service
}

// Deps lists the collaborators wired into the API.
type Deps struct {
	Store       *auth.Store
	Tokens      *auth.TokenService
	Validator   auth.TokenValidator
	Registry    *presence.Registry
	Chat        *chat.Core
	Voice       *voice.Manager
	Whiteboards *whiteboard.Manager
	Games       *tictactoe.Manager
	Files       *filetransfer.Service
	Discovery   *discovery.Service
}

// New builds the API over its collaborators.
func New(d Deps) *API {
	return &API{
		store:       d.Store,
		tokens:      d.Tokens,
		validator:   d.Validator,
		registry:    d.Registry,
		chat:        d.Chat,
		voice:       d.Voice,
		whiteboards: d.Whiteboards,
		games:       d.Games,
		files:       d.Files,
		discovery:   d.Discovery,
	}
}

// RegisterRoutes mounts every /api route on the engine. authLimit, when
// non-nil, throttles the credential endpoints.
func (a *API) RegisterRoutes(r *gin.Engine, authLimit gin.HandlerFunc) {
	authGroup := r.Group("/api/auth")
	if authLimit != nil {
		authGroup.Use(authLimit)
	}
	authGroup.POST("/register", a.handleRegister)
	authGroup.POST("/login", a.handleLogin)

	requireAuth := middleware.RequireAuth(a.validator)
	authGroup.GET("/me", requireAuth, a.handleMe)

	api := r.Group("/api", requireAuth)

	nio := api.Group("/nio")
	nio.POST("/login", a.handleNioLogin)
	nio.POST("/logout", a.handleNioLogout)
	nio.POST("/message", a.handleNioMessage)
	nio.GET("/users", a.handleNioUsers)
	nio.GET("/messages", a.handleNioMessages)
	nio.GET("/peer/:user", a.handleNioPeer)

	v := api.Group("/voice")
	v.POST("/initiate", a.handleVoiceInitiate)
	v.POST("/accept/:id", a.handleVoiceAccept)
	v.POST("/reject/:id", a.handleVoiceReject)
	v.POST("/terminate/:id", a.handleVoiceTerminate)
	v.GET("/status/:id", a.handleVoiceStatus)
	v.GET("/incoming", a.handleVoiceIncoming)
	v.POST("/sdp/:kind/:id", a.handleVoiceSDPStore)
	v.GET("/sdp/:kind/:id", a.handleVoiceSDPFetch)

	// Clients fetch audio parameters before authenticating a call.
	r.GET("/api/voice/config", a.handleVoiceConfig)

	wb := api.Group("/whiteboard")
	wb.POST("/create", a.handleWhiteboardCreate)
	wb.POST("/draw", a.handleWhiteboardDraw)
	wb.GET("/session/:id", a.handleWhiteboardSession)
	wb.POST("/close", a.handleWhiteboardClose)
	wb.GET("/pending/:user", a.handleWhiteboardPending)

	ttt := api.Group("/tictactoe")
	ttt.POST("/start", a.handleGameStart)
	ttt.POST("/move/:id", a.handleGameMove)
	ttt.POST("/resign/:id", a.handleGameResign)
	ttt.GET("/current", a.handleGameCurrent)

	ft := api.Group("/filetransfer")
	ft.POST("/send", a.handleFileSend)
	ft.GET("/transfers/:user", a.handleFileTransfers)
	ft.GET("/downloads", a.handleFileDownloads)
	ft.GET("/download/:filename", a.handleFileDownload)

	disc := api.Group("/discovery")
	disc.POST("/broadcast", a.handleDiscoveryBroadcast)
	disc.GET("/peers", a.handleDiscoveryPeers)
}

// identity returns the username authenticated by the bearer token.
func identity(c *gin.Context) (string, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return claims.Identity(), true
}

// fail writes the JSON error envelope with the domain error's status:
// IllegalArgument and IllegalState map to 400, NotFound to 404, Forbidden
// to 403, anything unrecognized to 500.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrIllegalArgument), errors.Is(err, types.ErrIllegalState):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrForbidden):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": types.Cause(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
