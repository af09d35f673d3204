// Package server wires together the registry, shard queues, executor
// pool and session acceptor into Babble's process lifecycle (§4.F),
// grounded on the teacher's internal/shared/server.go Start/Shutdown
// pattern: a listener goroutine, a WaitGroup tracking live sessions, and
// a drain-then-close shutdown sequence.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/babblehq/babble/internal/business"
	"github.com/babblehq/babble/internal/config"
	"github.com/babblehq/babble/internal/executor"
	"github.com/babblehq/babble/internal/metrics"
	"github.com/babblehq/babble/internal/queue"
	"github.com/babblehq/babble/internal/registry"
	"github.com/babblehq/babble/internal/resourceguard"
	"github.com/babblehq/babble/internal/session"
	"github.com/babblehq/babble/internal/shard"
	"github.com/rs/zerolog"
)

// Server is the Babble TCP acceptor and owns the process's shard queues,
// executor pool and resource guard.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry *registry.Registry
	logic    *business.Logic
	queues   []*queue.Queue
	pool     *executor.Pool
	guard    *resourceguard.Guard
	metrics  *metrics.Collector

	listener net.Listener

	sessionsWG sync.WaitGroup
	cancel     context.CancelFunc
}

// New builds a Server ready to Start. m may be nil, in which case no
// metrics are recorded.
func New(cfg *config.Config, logger zerolog.Logger, m *metrics.Collector) *Server {
	reg := registry.New(cfg.MaxClients)
	logic := business.New(reg, cfg.MaxTimelineEntries)

	queues := make([]*queue.Queue, cfg.NumShards)
	for i := range queues {
		queues[i] = queue.New(cfg.QueueCapacity)
	}

	guard := resourceguard.New(logger, cfg.MaxDispatchPerSec)
	pool := executor.New(queues, logic, logger, m, cfg.RandomDelay)

	return &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		registry: reg,
		logic:    logic,
		queues:   queues,
		pool:     pool,
		guard:    guard,
		metrics:  m,
	}
}

// Start binds the listener, launches the executor pool and the resource
// guard, and begins accepting connections. It returns once the listener
// is bound; accepting happens on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pool.Start(runCtx)
	go s.guard.Run(runCtx, 5*time.Second)
	go s.acceptLoop(runCtx)

	s.logger.Info().Str("addr", addr).Int("shards", s.cfg.NumShards).Msg("babble server listening")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				return
			}
		}

		if s.registry.Len() >= s.cfg.MaxClients {
			s.logger.Debug().Msg("rejecting connection: registry at capacity")
			_ = conn.Close()
			continue
		}
		if s.metrics != nil {
			s.metrics.SessionsActive.Inc()
		}

		s.sessionsWG.Add(1)
		go func() {
			defer s.sessionsWG.Done()
			if s.metrics != nil {
				defer s.metrics.SessionsActive.Dec()
			}
			sess := session.New(conn, s.logger, s.queues, shard.Select, s.cfg.IDSize, s.cfg.PublicationSize)
			sess.Run()
		}()
	}
}

// Shutdown stops accepting new connections, waits for in-flight sessions
// to finish, shuts every shard queue down (waking any blocked
// producer/consumer), and waits for the executor pool to drain, matching
// the teacher's Start/Shutdown drain-loop structure.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down")

	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("error closing listener")
		}
	}

	done := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("timed out waiting for sessions to drain")
	}

	for _, q := range s.queues {
		q.Shutdown()
	}
	s.pool.Wait()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
