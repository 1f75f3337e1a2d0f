package api

import "github.com/luisnisc/flowpilot-sub000/domain/board"

// CreateTaskBody is the body of POST /api/v1/projects/:projectId/tasks.
type CreateTaskBody struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    string       `json:"priority"`
	Status      board.Status `json:"status"`
}

// MoveTaskBody is the body of PATCH /api/v1/projects/:projectId/tasks/:taskId.
type MoveTaskBody struct {
	Status board.Status `json:"status"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
