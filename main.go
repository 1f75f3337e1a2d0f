package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/luisnisc/flowpilot-sub000/config"
	"github.com/luisnisc/flowpilot-sub000/modules/api"
	"github.com/luisnisc/flowpilot-sub000/modules/broadcast"
	"github.com/luisnisc/flowpilot-sub000/modules/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/outbound"
	"github.com/luisnisc/flowpilot-sub000/modules/presence"
	"github.com/luisnisc/flowpilot-sub000/modules/task"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== FlowPilot Realtime Server ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	chatModule := chat.NewModule(chat.Config{
		DBPath:       cfg.DBPath,
		MongoURI:     cfg.MongoURI,
		MongoDB:      cfg.MongoDB,
		HistoryLimit: cfg.HistoryLimit,
	}, logger.WithModule("chat"))
	taskModule := task.NewModule(cfg.DBPath, logger.WithModule("task"))
	presenceModule := presence.NewModule(presence.Config{
		Timeout:       cfg.PresenceTimeout,
		SweepInterval: cfg.PresenceSweepInterval,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
	}, logger.WithModule("presence"))
	broadcastModule := broadcast.NewModule(logger.WithModule("broadcast"))
	outboundModule := outbound.NewModule(outbound.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger.WithModule("outbound"))
	apiModule := api.NewModule(api.Config{
		Port:          cfg.Port,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RateLimit:     cfg.HTTPRateLimit,
		JWTSecret:     cfg.JWTSecret,
	}, logger.WithModule("api"))

	// The hub and tracker are shared in-process objects, not services.
	apiModule.SetHub(broadcastModule.GetHub())
	apiModule.SetTracker(presenceModule.Tracker())

	// Order: storage modules first, then event consumers, then the API.
	app.Register(chatModule)
	app.Register(taskModule)
	app.Register(presenceModule)
	app.Register(broadcastModule)
	app.Register(outboundModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg *config.Config) {
	store := "sqlite (" + cfg.DBPath + ")"
	if cfg.MongoURI != "" {
		store = "mongodb (" + cfg.MongoDB + ")"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  - Chat store: %s", store)
	if cfg.RedisAddr != "" {
		log.Printf("  - Redis: %s (presence mirror, HTTP rate limit)", cfg.RedisAddr)
	}
	if len(cfg.KafkaBrokers) > 0 {
		log.Printf("  - Kafka: %v topic %s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.JWTSecret == "" {
		log.Println("  - Auth: disabled (JWT_SECRET not set)")
	}
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health")
	log.Println("  GET    /messages?projectId=&after=")
	log.Println("  POST   /messages")
	log.Println("  GET    /api/v1/projects/:projectId/board")
	log.Println("  PUT    /api/v1/projects/:projectId/board")
	log.Println("  POST   /api/v1/projects/:projectId/tasks")
	log.Println("  PATCH  /api/v1/projects/:projectId/tasks/:taskId")
	log.Println("  GET    /api/v1/projects/:projectId/online")
	log.Println("")
	log.Printf("WebSocket Endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Println("  Events: joinProject, sendMessage, userJoined, heartbeat, userLeft,")
	log.Println("          joinProjectSync, updateTask, updateBoard")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
