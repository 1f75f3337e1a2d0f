package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis/v3"
)

const redisDialTimeout = 2 * time.Second

// newRedisStorage returns Fiber storage backed by Redis. redis.New panics
// when the server is unreachable, so the address is dialled first.
func newRedisStorage(addr, password string) (*redis.Storage, error) {
	host, port, err := parseRedisAddr(addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("tcp", addr, redisDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("redis unreachable at %s: %w", addr, err)
	}
	_ = conn.Close()

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		PoolSize: 10,
	}), nil
}

func parseRedisAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid redis port %q: %w", portStr, err)
	}
	return host, port, nil
}

// rateLimitMiddleware allows perMinute requests per client IP. storage may be
// nil, in which case counters are kept in memory.
func rateLimitMiddleware(perMinute int, storage fiber.Storage) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	cfg := limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "flowpilot:ratelimit:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "rate_limited",
				Message: "Too many requests, please slow down",
			})
		},
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return limiter.New(cfg)
}
