package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"github.com/luisnisc/flowpilot-sub000/modules/auth"
	"github.com/luisnisc/flowpilot-sub000/modules/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/relay"
	"github.com/luisnisc/flowpilot-sub000/modules/task"
)

// Mount registers the routes on app. Mounting the same app again is a no-op.
func (m *APIModule) Mount(app *fiber.App) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted[app] {
		return
	}
	m.mounted[app] = true

	if m.relay == nil {
		m.relay = relay.New(m.hub, m.tracker, m.chatAdapter, m.logger, relay.Config{})
	}
	m.setupRoutes(app)
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	authenticate := auth.Middleware(m.jwt)

	var storage fiber.Storage
	if m.storage != nil {
		storage = m.storage
	}
	limit := rateLimitMiddleware(m.cfg.RateLimit, storage)

	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", authenticate, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// Polling endpoints
	app.Get("/messages", authenticate, limit, m.listMessages)
	app.Post("/messages", authenticate, limit, m.postMessage)

	// REST API v1
	projects := app.Group("/api/v1/projects/:projectId", authenticate, limit)
	projects.Get("/board", m.getBoard)
	projects.Put("/board", m.replaceBoard)
	projects.Post("/tasks", m.createTask)
	projects.Patch("/tasks/:taskId", m.moveTask)
	projects.Get("/online", m.getOnline)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "api",
			"connected_clients": m.hub.ClientCount(),
			"rooms":             m.hub.RoomCount(),
		},
	})
}

// handleWebSocket serves one socket until it closes.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	claims, _ := c.Locals(auth.ClaimsKey).(*auth.JWTClaims)
	m.relay.Serve(m.ctx, c, claims)
}

// listMessages handles GET /messages?projectId=&after=.
func (m *APIModule) listMessages(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	if projectID == "" {
		return badRequest(c, "projectId is required")
	}

	var after time.Time
	if raw := c.Query("after"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return badRequest(c, "after must be an RFC3339 timestamp")
		}
		after = t
	}

	messages, err := m.chatAdapter.MessagesAfter(c.UserContext(), projectID, after)
	if err != nil {
		if chat.IsValidationError(err) {
			return badRequest(c, err.Error())
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to load messages",
		})
	}
	return c.JSON(messages)
}

// postMessage handles POST /messages.
func (m *APIModule) postMessage(c *fiber.Ctx) error {
	var req chat.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := auth.CheckIdentity(auth.ClaimsFrom(c), req.User); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: err.Error(),
		})
	}

	msg, err := m.relay.SendMessage(c.UserContext(), req)
	if err != nil {
		if chat.IsValidationError(err) {
			return validationError(c, err)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "send_failed",
			Message: "Failed to send message",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// getBoard handles GET /api/v1/projects/:projectId/board.
func (m *APIModule) getBoard(c *fiber.Ctx) error {
	cols, err := m.taskAdapter.GetBoard(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return taskError(c, err, "Failed to load board")
	}
	return c.JSON(cols)
}

// replaceBoard handles PUT /api/v1/projects/:projectId/board.
func (m *APIModule) replaceBoard(c *fiber.Ctx) error {
	var cols board.Columns
	if err := c.BodyParser(&cols); err != nil {
		return badRequest(c, "Invalid request body")
	}

	saved, err := m.taskAdapter.ReplaceBoard(c.UserContext(), c.Params("projectId"), cols)
	if err != nil {
		return taskError(c, err, "Failed to replace board")
	}
	return c.JSON(saved)
}

// createTask handles POST /api/v1/projects/:projectId/tasks.
func (m *APIModule) createTask(c *fiber.Ctx) error {
	var body CreateTaskBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	created, err := m.taskAdapter.CreateTask(c.UserContext(), task.CreateTaskRequest{
		ProjectID:   c.Params("projectId"),
		Title:       strings.TrimSpace(body.Title),
		Description: body.Description,
		Priority:    body.Priority,
		Status:      body.Status,
	})
	if err != nil {
		return taskError(c, err, "Failed to create task")
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// moveTask handles PATCH /api/v1/projects/:projectId/tasks/:taskId.
func (m *APIModule) moveTask(c *fiber.Ctx) error {
	var body MoveTaskBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	moved, err := m.taskAdapter.MoveTask(c.UserContext(), task.MoveTaskRequest{
		ProjectID: c.Params("projectId"),
		TaskID:    c.Params("taskId"),
		Status:    body.Status,
	})
	if err != nil {
		return taskError(c, err, "Failed to move task")
	}
	return c.JSON(moved)
}

// getOnline handles GET /api/v1/projects/:projectId/online.
func (m *APIModule) getOnline(c *fiber.Ctx) error {
	return c.JSON(m.tracker.Online(c.Params("projectId")))
}

func taskError(c *fiber.Ctx, err error, message string) error {
	switch {
	case task.IsValidationError(err):
		return validationError(c, err)
	case errors.Is(err, task.ErrTaskNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Task not found",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "server_error",
			Message: message,
		})
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

func validationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}
