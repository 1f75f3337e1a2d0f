package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flowpilot"

// Config configures the presence module.
type Config struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	RedisAddr     string
	RedisPassword string
}

// PresenceModule owns the tracker and expires silent connections.
type PresenceModule struct {
	cfg     Config
	tracker *Tracker
	redis   *redis.Client
	mirror  *RedisMirror
	logger  types.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time interface checks.
var _ mono.Module = (*PresenceModule)(nil)
var _ mono.HealthCheckableModule = (*PresenceModule)(nil)

// NewModule creates a new PresenceModule.
func NewModule(cfg Config, logger types.Logger) *PresenceModule {
	return &PresenceModule{
		cfg:     cfg,
		tracker: NewTracker(cfg.Timeout),
		logger:  logger,
	}
}

// Name returns the module name.
func (m *PresenceModule) Name() string {
	return "presence"
}

// Tracker returns the presence tracker.
func (m *PresenceModule) Tracker() *Tracker {
	return m.tracker
}

// Start connects the optional Redis mirror and starts the sweeper.
func (m *PresenceModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.cfg.RedisAddr != "" {
		if err := m.connectRedis(ctx); err != nil {
			m.logger.Warn("Presence mirror disabled", "error", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweepLoop(ctx)
	}()

	m.logger.Info("Presence module started",
		"timeout", m.cfg.Timeout,
		"sweepInterval", m.cfg.SweepInterval,
		"mirror", m.mirror != nil)
	return nil
}

func (m *PresenceModule) connectRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     m.cfg.RedisAddr,
		Password: m.cfg.RedisPassword,
		PoolSize: 10,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", m.cfg.RedisAddr, err)
	}

	m.redis = client
	m.mirror = NewRedisMirror(client, redisKeyPrefix, m.cfg.Timeout, m.logger)
	m.tracker.AddNotifier(m.mirror)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.mirror.Run(ctx)
	}()
	return nil
}

func (m *PresenceModule) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for projectID, online := range m.tracker.Sweep(now) {
				m.logger.Debug("Presence expired", "projectID", projectID, "online", len(online))
			}
		}
	}
}

// Stop halts the sweeper and closes Redis.
func (m *PresenceModule) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			return fmt.Errorf("failed to close redis: %w", err)
		}
	}
	m.logger.Info("Presence module stopped")
	return nil
}

// Health returns the health status.
func (m *PresenceModule) Health(ctx context.Context) mono.HealthStatus {
	details := map[string]any{
		"projects": m.tracker.Projects(),
		"mirror":   m.mirror != nil,
	}
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return mono.HealthStatus{
				Healthy: false,
				Message: fmt.Sprintf("redis ping failed: %v", err),
				Details: details,
			}
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}
