package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFleetCore/internal/auth"
	"github.com/KevinKickass/OpenFleetCore/internal/config"
	"github.com/KevinKickass/OpenFleetCore/internal/interfaces"
	"github.com/KevinKickass/OpenFleetCore/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	commands    *orchestrator.Orchestrator
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, commands *orchestrator.Orchestrator, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.Default(),
		lm:          lm,
		commands:    commands,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Inject AuthService into Gin context
	s.router.Use(func(c *gin.Context) {
		c.Set("authService", s.authService)
		c.Next()
	})

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		// ==================== AUTH ENDPOINTS (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== PROCESSES (OPERATOR+) ====================
		processes := v1.Group("/processes")
		processes.Use(s.authService.AuthMiddleware())
		processes.Use(auth.RequirePermission(auth.PermOperator))
		{
			processes.GET("", s.listProcesses)
			processes.GET("/:account", s.getProcess)
			processes.POST("", s.createProcess)
			processes.POST("/bulk", s.createProcesses)
			processes.POST("/:account/stop", s.stopProcess)
			processes.DELETE("/:account", s.removeProcess)
			processes.DELETE("/:account/schedule", s.removeSchedule)
			processes.PATCH("", s.updateProcess)
			processes.PATCH("/bulk", s.updateProcesses)
		}

		// ==================== SESSIONS (OPERATOR+) ====================
		sessions := v1.Group("/sessions")
		sessions.Use(s.authService.AuthMiddleware())
		sessions.Use(auth.RequirePermission(auth.PermOperator))
		{
			sessions.GET("", s.getSessions)
		}

		// ==================== ACCOUNT CONFIGS (OPERATOR+) ====================
		accounts := v1.Group("/accounts")
		accounts.Use(s.authService.AuthMiddleware())
		accounts.Use(auth.RequirePermission(auth.PermOperator))
		{
			accounts.GET("/:account/config", s.getAccountConfig)
			accounts.PUT("/:account/config", s.saveAccountConfig)
		}

		// ==================== DEVICES (OPERATOR+) ====================
		devices := v1.Group("/devices")
		devices.Use(s.authService.AuthMiddleware())
		devices.Use(auth.RequirePermission(auth.PermOperator))
		{
			devices.GET("", s.listDevices)
			devices.GET("/battery", s.listDevicesBattery)
			devices.GET("/:id", s.getDevice)
			devices.POST("/:id/preview", s.previewDevice)
		}

		// ==================== REPORTS (OPERATOR+) ====================
		reports := v1.Group("/reports")
		reports.Use(s.authService.AuthMiddleware())
		reports.Use(auth.RequirePermission(auth.PermOperator))
		{
			reports.POST("/telegram", s.sendTelegramReport)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// respond translates a command acknowledgement into an HTTP reply.
// Outcome strings carry their verdict in the prefix; entity payloads
// pass through unchanged.
func respond(c *gin.Context, ack orchestrator.Ack) {
	if msg, ok := ack.Payload.(string); ok {
		status := http.StatusOK
		if len(msg) >= 7 && msg[:7] == "[ERROR]" {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"event": ack.Event, "message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ack.Event, "data": ack.Payload})
}
