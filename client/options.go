// Package client keeps a project's chat, presence and board in sync with a
// FlowPilot server. It prefers a live websocket and falls back to HTTP
// polling when the socket cannot be used.
package client

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval      = 3 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
	defaultAckTimeout        = 10 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
	defaultRequestTimeout    = 10 * time.Second
)

// serverlessEnv lists variables set by hosts that cannot keep a websocket
// open.
var serverlessEnv = []string{"VERCEL", "AWS_LAMBDA_FUNCTION_NAME", "NETLIFY", "FUNCTION_TARGET"}

// Options configures a ChatClient or BoardClient.
type Options struct {
	// BaseURL is the server's HTTP root, e.g. http://localhost:3000.
	BaseURL   string
	ProjectID string
	// User is the email the client acts as.
	User     string
	UserName string
	// Token is sent as a bearer token and as the socket's token parameter.
	Token string

	ForcePolling      bool
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
	// Getenv replaces os.Getenv for serverless detection.
	Getenv func(string) string
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return o
}

// DetectServerless reports whether getenv shows a serverless host.
func DetectServerless(getenv func(string) string) bool {
	for _, key := range serverlessEnv {
		if getenv(key) != "" {
			return true
		}
	}
	return false
}

// usePolling reports whether the live transport should be skipped.
func (o Options) usePolling() bool {
	return o.ForcePolling || DetectServerless(o.Getenv)
}
