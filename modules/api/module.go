package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis/v3"
	"github.com/luisnisc/flowpilot-sub000/modules/auth"
	"github.com/luisnisc/flowpilot-sub000/modules/broadcast"
	"github.com/luisnisc/flowpilot-sub000/modules/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/presence"
	"github.com/luisnisc/flowpilot-sub000/modules/relay"
	"github.com/luisnisc/flowpilot-sub000/modules/task"
)

// Config configures the API module.
type Config struct {
	Port          string
	RedisAddr     string
	RedisPassword string
	RateLimit     int
	JWTSecret     string
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	cfg         Config
	app         *fiber.App
	chatAdapter chat.ChatPort
	taskAdapter task.TaskPort
	hub         *broadcast.Hub
	tracker     *presence.Tracker
	relay       *relay.Relay
	jwt         *auth.JWTManager
	storage     *redis.Storage
	logger      types.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	mounted map[*fiber.App]bool
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(cfg Config, logger types.Logger) *APIModule {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &APIModule{
		cfg:     cfg,
		jwt:     auth.NewJWTManager(auth.JWTConfig{SecretKey: cfg.JWTSecret}),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		mounted: make(map[*fiber.App]bool),
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"chat", "task"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "chat":
		m.chatAdapter = chat.NewChatAdapter(container)
	case "task":
		m.taskAdapter = task.NewTaskAdapter(container)
	}
}

// SetHub sets the broadcast hub (called from main.go).
func (m *APIModule) SetHub(hub *broadcast.Hub) {
	m.hub = hub
}

// SetTracker sets the presence tracker (called from main.go).
func (m *APIModule) SetTracker(tracker *presence.Tracker) {
	m.tracker = tracker
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if err := m.checkDependencies(); err != nil {
		return err
	}

	if m.cfg.RedisAddr != "" {
		storage, err := newRedisStorage(m.cfg.RedisAddr, m.cfg.RedisPassword)
		if err != nil {
			m.logger.Warn("Rate limit counters kept in memory", "error", err)
		} else {
			m.storage = storage
		}
	}

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	// Add recovery middleware
	m.app.Use(recover.New())

	// Add logging middleware
	m.app.Use(loggerMiddleware(m.logger))

	m.Mount(m.app)

	// Start server in goroutine
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			log.Printf("[api] HTTP server error: %v", err)
		}
	}()

	m.logger.Info("HTTP server started",
		"port", m.cfg.Port,
		"auth", m.jwt != nil,
		"rateLimitStorage", m.storage != nil)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(_ context.Context) error {
	m.cancel()
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	err := m.app.Shutdown()
	if m.storage != nil {
		if cerr := m.storage.Close(); cerr != nil {
			m.logger.Warn("Failed to close rate limit storage", "error", cerr)
		}
	}
	return err
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port": m.cfg.Port,
		"auth": m.jwt != nil,
	}
	if m.hub != nil {
		details["connected_clients"] = m.hub.ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

func (m *APIModule) checkDependencies() error {
	switch {
	case m.chatAdapter == nil:
		return fmt.Errorf("chat adapter dependency not set")
	case m.taskAdapter == nil:
		return fmt.Errorf("task adapter dependency not set")
	case m.hub == nil:
		return fmt.Errorf("broadcast hub dependency not set")
	case m.tracker == nil:
		return fmt.Errorf("presence tracker dependency not set")
	}
	return nil
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware(logger types.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start))
		return err
	}
}
