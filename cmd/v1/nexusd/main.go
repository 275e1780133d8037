// Command nexusd runs the NexusConnect collaboration server: the TCP chat
// hub, the HTTP/WebSocket bridge, and the auxiliary STUN and LAN discovery
// listeners, all sharing one presence registry.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/auth"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/bus"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/chat"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/config"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/discovery"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/filetransfer"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/health"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/httpapi"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/middleware"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/nio"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/presence"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/ratelimit"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/signaling"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/stun"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/tictactoe"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/tracing"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/voice"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/whiteboard"
)

const serviceName = "nexusconnect-server"

func main() {
	// Load .env for local development; paths cover the common ways of
	// launching the binary.
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	if err := logging.Initialize(os.Getenv("DEVELOPMENT_MODE") == "true"); err != nil {
		panic(err)
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(nil, "environment validation failed", zap.Error(err))
	}

	ctx := context.Background()
	instanceID := uuid.NewString()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "running in development mode")
	}

	// --- Optional tracing ---
	if cfg.OTelEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTelCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	// --- Optional distributed event bus ---
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect to Redis, running in single-instance mode", zap.Error(err))
			busService = nil
		}
	} else {
		logging.Info(ctx, "running in single-instance mode (Redis disabled)")
	}
	var busDep types.BusService
	if busService != nil {
		busDep = busService
	}

	// --- Credential store and token plumbing ---
	store, err := auth.OpenStore(cfg.DatabaseDSN)
	if err != nil {
		logging.Fatal(ctx, "failed to open credential store", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	var validator auth.TokenValidator = tokens
	switch {
	case cfg.SkipAuth:
		logging.Warn(ctx, "authentication DISABLED - do not use in production")
		validator = &auth.MockValidator{}
	case cfg.JWKSDomain != "":
		jwks, err := auth.NewValidator(ctx, cfg.JWKSDomain, cfg.JWKSAudience)
		if err != nil {
			logging.Fatal(ctx, "failed to create JWKS validator", zap.Error(err))
		}
		// Locally issued tokens stay valid alongside IdP tokens.
		validator = chainValidator{tokens, jwks}
		logging.Info(ctx, "JWKS validator initialized", zap.String("domain", cfg.JWKSDomain))
	}

	// --- Core state and session managers ---
	registry := presence.NewRegistry(busDep, instanceID)
	chatCore := chat.NewCore(registry, busDep, instanceID)

	loginLimit := ratelimit.NewIPRateLimiter(rate.Every(12*time.Second), 5, 10*time.Minute)
	hub := nio.NewHub(":"+cfg.TCPChatPort, registry, chatCore, store, loginLimit)

	whiteboards := whiteboard.NewManager(hub, cfg.WhiteboardSessionTimeout)
	hub.SetWhiteboards(whiteboards)
	registry.SetBroadcaster(hub)
	chatCore.SetBroadcaster(hub)

	voiceMgr := voice.NewManager(registry, cfg.VoiceSessionTimeout)
	games := tictactoe.NewManager(registry, hub)
	// A disconnect or logout frees the user's active game.
	registry.OnOffline(games.AbandonAllFor)
	files := filetransfer.NewService(cfg.DownloadsDir)

	origins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	sigRouter := signaling.NewRouter(voiceMgr, origins)

	// --- Cross-instance relay ---
	busCtx, busCancel := context.WithCancel(ctx)
	var busWg sync.WaitGroup
	if busService != nil {
		busService.Subscribe(busCtx, bus.ChannelBroadcast, &busWg, func(p bus.PubSubPayload) {
			if p.SenderID == instanceID {
				return
			}
			switch p.Event {
			case chat.EventChat:
				var msg types.ChatMessage
				if err := json.Unmarshal(p.Payload, &msg); err != nil {
					logging.Error(busCtx, "bad remote chat payload", zap.Error(err))
					return
				}
				chatCore.ReceiveRemote(msg)
			case presence.EventUserOnline, presence.EventUserOffline:
				// Remote presence is mirrored in the Redis online set; local
				// session state is untouched.
				logging.Debug(busCtx, "remote presence event", zap.String("event", p.Event))
			}
		})
	}

	// --- TCP chat hub ---
	if err := hub.Start(); err != nil {
		logging.Fatal(ctx, "failed to start TCP hub", zap.Error(err), zap.String("port", cfg.TCPChatPort))
	}

	// --- STUN ---
	var stunServer *stun.Server
	if cfg.STUNEnabled {
		port, _ := strconv.Atoi(cfg.STUNPort)
		stunServer = stun.NewServer(port)
		if err := stunServer.Start(); err != nil {
			logging.Fatal(ctx, "failed to start STUN server", zap.Error(err), zap.String("port", cfg.STUNPort))
		}
	}

	// --- LAN discovery ---
	var discoverySvc *discovery.Service
	if cfg.DiscoveryEnabled {
		port, _ := strconv.Atoi(cfg.DiscoveryPort)
		discoverySvc = discovery.NewService(port)
		if err := discoverySvc.Start(); err != nil {
			logging.Fatal(ctx, "failed to start discovery service", zap.Error(err), zap.String("port", cfg.DiscoveryPort))
		}
	}

	// --- HTTP surface ---
	limiter, err := ratelimit.New(cfg, busService.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders("Authorization")
	engine.Use(cors.New(corsConfig))

	if cfg.OTelEnabled {
		engine.Use(otelgin.Middleware(serviceName))
	}
	engine.Use(limiter.Global())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(busService, store)
	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)

	api := httpapi.New(httpapi.Deps{
		Store:       store,
		Tokens:      tokens,
		Validator:   validator,
		Registry:    registry,
		Chat:        chatCore,
		Voice:       voiceMgr,
		Whiteboards: whiteboards,
		Games:       games,
		Files:       files,
		Discovery:   discoverySvc,
	})
	api.RegisterRoutes(engine, limiter.Auth())

	engine.GET("/ws/signaling", sigRouter.ServeSignaling)
	engine.GET("/ws/voice", sigRouter.ServeVoice)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "HTTP server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "HTTP server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	stop, cancelSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()
	<-stop.Done()
	logging.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "HTTP server shutdown failed", zap.Error(err))
	}
	if err := sigRouter.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "signaling shutdown failed", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "TCP hub shutdown failed", zap.Error(err))
	}
	if stunServer != nil {
		stunServer.Stop()
	}
	if discoverySvc != nil {
		discoverySvc.Stop()
	}
	voiceMgr.Stop()
	whiteboards.Stop()
	files.StopAll()

	busCancel()
	busWg.Wait()
	if busService != nil {
		_ = busService.Close()
	}
	if err := store.Close(); err != nil {
		logging.Error(shutdownCtx, "credential store close failed", zap.Error(err))
	}

	logging.Info(ctx, "shutdown complete")
}

// chainValidator accepts a token when any of its validators does.
type chainValidator []auth.TokenValidator

func (c chainValidator) ValidateToken(tokenString string) (*auth.Claims, error) {
	var lastErr error
	for _, v := range c {
		claims, err := v.ValidateToken(tokenString)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
