package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// syncer runs a transport and switches from live to polling for good when
// the live transport fails.
type syncer struct {
	opts     Options
	channels Channels
	api      *httpAPI
	logger   *zap.Logger
	apply    func(Update)

	mu        sync.Mutex
	transport Transport
	polling   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSyncer(opts Options, channels Channels, apply func(Update)) (*syncer, error) {
	opts = opts.withDefaults()
	s := &syncer{
		opts:     opts,
		channels: channels,
		api:      newHTTPAPI(opts),
		logger:   opts.Logger,
		apply:    apply,
	}

	if opts.usePolling() {
		s.logger.Info("using polling transport", zap.Bool("forced", opts.ForcePolling))
		s.transport = newPollingTransport(s.api, opts, channels)
		s.polling.Store(true)
		return s, nil
	}

	live, err := newLiveTransport(s.api, opts, channels)
	if err != nil {
		return nil, err
	}
	s.transport = live
	return s, nil
}

func (s *syncer) current() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// start runs the transport in the background until stop.
func (s *syncer) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			t := s.current()
			err := t.Run(ctx, s.apply)
			if ctx.Err() != nil {
				return
			}
			if t.Mode() != ModeLive {
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("polling stopped", zap.Error(err))
				}
				return
			}
			s.logger.Warn("live transport failed, switching to polling", zap.Error(err))
			s.fallback()
		}
	}()
}

// fallback replaces the live transport with polling. It never switches back.
func (s *syncer) fallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling.Load() {
		return
	}
	_ = s.transport.Close()
	s.transport = newPollingTransport(s.api, s.opts, s.channels)
	s.polling.Store(true)
}

func (s *syncer) stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.current().Close()
}

func (s *syncer) connected() bool {
	return s.current().Connected()
}

func (s *syncer) isPolling() bool {
	return s.polling.Load()
}
