package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClaimsKey is the Fiber locals key holding the caller's *JWTClaims.
const ClaimsKey = "claims"

// ErrorBody is the JSON body returned on authentication failures.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware validates the bearer token of each request. Websocket upgrades
// may pass the token in the token query parameter since browsers cannot set
// headers on them. A nil manager disables the check.
func Middleware(manager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if manager == nil {
			return c.Next()
		}

		token := c.Query("token")
		if token == "" {
			authHeader := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
			if authHeader == "" {
				return unauthorized(c, "Authorization header is required")
			}
			scheme, rest, _ := strings.Cut(authHeader, " ")
			if !strings.EqualFold(scheme, "Bearer") {
				return unauthorized(c, "Invalid authorization header format. Use: Bearer <token>")
			}
			token = strings.TrimSpace(rest)
		}
		if token == "" {
			return unauthorized(c, "Token is required")
		}

		claims, err := manager.ValidateAccessToken(token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(ClaimsKey, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware, or nil.
func ClaimsFrom(c *fiber.Ctx) *JWTClaims {
	claims, _ := c.Locals(ClaimsKey).(*JWTClaims)
	return claims
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorBody{
		Error:   "unauthorized",
		Message: message,
	})
}
