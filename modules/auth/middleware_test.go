package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestMiddleware(t *testing.T) {
	manager := testManager()
	valid, err := manager.GenerateAccessToken("user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name           string
		manager        *JWTManager
		target         string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{"disabled", nil, "/", "", http.StatusOK, "alice"},
		{"missing header", manager, "/", "", http.StatusUnauthorized, "Authorization header is required"},
		{"basic auth", manager, "/", "Basic abc", http.StatusUnauthorized, "Invalid authorization header format"},
		{"bearer without token", manager, "/", "Bearer ", http.StatusUnauthorized, "Token is required"},
		{"bare bearer", manager, "/", "Bearer", http.StatusUnauthorized, "Token is required"},
		{"lower case scheme", manager, "/", "bearer " + valid, http.StatusOK, "alice@example.com"},
		{"invalid token", manager, "/", "Bearer nope", http.StatusUnauthorized, "Invalid or expired token"},
		{"valid header", manager, "/", "Bearer " + valid, http.StatusOK, "alice@example.com"},
		{"valid query", manager, "/?token=" + valid, "", http.StatusOK, "alice@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(Middleware(tt.manager))
			app.Get("/", func(c *fiber.Ctx) error {
				if claims := ClaimsFrom(c); claims != nil {
					return c.SendString(claims.Identity())
				}
				return c.SendString("alice")
			})

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.expectedStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.expectedBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.expectedBody)
			}
		})
	}
}
