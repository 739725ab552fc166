// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package daemon serves scan requests on a unix socket.
package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/health"
	"grimm.is/sentinel/internal/ipc"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/metrics"
	"grimm.is/sentinel/internal/protocol"
	"grimm.is/sentinel/internal/ratelimit"
	"grimm.is/sentinel/internal/retry"
	"grimm.is/sentinel/internal/sentinel"
	"grimm.is/sentinel/internal/verdictcache"
)

// SocketMode is applied to the listening socket.
const SocketMode = 0o660

// UnknownPeer is the rate limit key for connections whose peer credentials
// cannot be read.
const UnknownPeer = "peer:unknown"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets the clock shared by breakers, limiters and the tracker.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clk = c }
}

// WithRegistry exports metrics to r.
func WithRegistry(r *metrics.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithPublisher publishes stored verdicts.
func WithPublisher(p verdictcache.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithSleeper replaces the retry backoff sleep, mainly for tests.
func WithSleeper(fn retry.Sleeper) Option {
	return func(s *Server) { s.sleeper = fn }
}

// Server is the scanning daemon.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	clk       clock.Clock
	registry  *metrics.Registry
	publisher verdictcache.Publisher
	sleeper   retry.Sleeper

	service  *sentinel.Service
	cache    *verdictcache.Cache
	limiter  *ratelimit.ClientLimiter
	tracker  *health.Tracker
	pipeline *Pipeline
	breakers []*breaker.Breaker

	mu       sync.Mutex
	listener net.Listener
	conns    map[*ipc.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup

	nextConn atomic.Uint64
	scans    atomic.Uint64
}

// New wires a server from cfg. static is required; sandbox may be nil, in
// which case every verdict is static-only.
func New(cfg *config.Config, static sentinel.StaticScanner, sandbox sentinel.Sandbox, opts ...Option) (*Server, error) {
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}

	s := &Server{cfg: cfg, conns: make(map[*ipc.Conn]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Or(s.logger, "daemon")
	s.clk = clock.Or(s.clk)

	var err error
	s.service, err = sentinel.New(cfg.Scoring.Policy, cfg.Scoring.Verdict, s.logger.WithComponent("sentinel"))
	if err != nil {
		return nil, err
	}

	cacheOpts := []verdictcache.Option{
		verdictcache.WithClock(s.clk),
		verdictcache.WithLogger(s.logger.WithComponent("verdictcache")),
	}
	if s.publisher != nil {
		cacheOpts = append(cacheOpts, verdictcache.WithPublisher(s.publisher))
	}
	if s.cache, err = verdictcache.New(cfg.Cache.Config, cacheOpts...); err != nil {
		return nil, err
	}

	s.tracker = health.NewTracker(health.WithClock(s.clk), health.WithLogger(s.logger.WithComponent("health")))

	limiterOpts := []ratelimit.Option{ratelimit.WithClock(s.clk), ratelimit.WithLogger(s.logger.WithComponent("ratelimit"))}
	if s.registry != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithObserver(s.registry))
		s.tracker.OnChange(func(health.Event) {
			s.registry.SetDegradationLevel(int(s.tracker.Level()))
		})
	}
	s.limiter = ratelimit.NewClientLimiter(cfg.RateLimit, limiterOpts...)

	staticTier, err := s.tier(config.StaticTier, health.ServiceStaticScanner, health.FallbackSkipWithLog, 0)
	if err != nil {
		return nil, err
	}
	s.pipeline = &Pipeline{
		service:    s.service,
		cache:      s.cache,
		tracker:    s.tracker,
		registry:   s.registry,
		logger:     s.logger.WithComponent("pipeline"),
		clk:        s.clk,
		static:     static,
		staticTier: staticTier,
	}
	if sandbox != nil {
		sandboxTier, err := s.tier(config.SandboxTier, health.ServiceSandbox, health.FallbackUseCache, cfg.Sandbox.Timeout)
		if err != nil {
			return nil, err
		}
		s.pipeline.sandbox = sandbox
		s.pipeline.sandboxTier = sandboxTier
	}
	s.tracker.Register(health.ServiceVerdictCache)
	return s, nil
}

// tier builds the breaker and retry policy for one analysis stage and hooks
// the breaker into the degradation tracker and metrics.
func (s *Server) tier(name, service string, fallback health.Fallback, timeout time.Duration) (Tier, error) {
	bopts := []breaker.Option{
		breaker.WithClock(s.clk),
		breaker.WithLogger(s.logger.WithComponent("breaker")),
		breaker.OnStateChange(s.tracker.BreakerHook(service, fallback)),
	}
	if s.registry != nil {
		bopts = append(bopts, breaker.OnStateChange(s.registry.BreakerHook()))
	}
	b := breaker.New(s.cfg.Breaker(name), bopts...)
	if s.registry != nil {
		s.registry.TrackBreaker(b)
	}
	s.breakers = append(s.breakers, b)

	ropts := []retry.Option{retry.WithClock(s.clk), retry.WithLogger(s.logger.WithComponent("retry"))}
	if s.registry != nil {
		ropts = append(ropts, retry.WithObserver(s.registry))
	}
	if s.sleeper != nil {
		ropts = append(ropts, retry.WithSleeper(s.sleeper))
	}
	p, err := s.cfg.RetryPolicy(name, ropts...)
	if err != nil {
		return Tier{}, err
	}
	return Tier{Breaker: b, Retry: p, Timeout: timeout}, nil
}

// Service returns the scoring service.
func (s *Server) Service() *sentinel.Service { return s.service }

// Cache returns the verdict cache.
func (s *Server) Cache() *verdictcache.Cache { return s.cache }

// Tracker returns the degradation tracker.
func (s *Server) Tracker() *health.Tracker { return s.tracker }

// Limiter returns the admission limiter.
func (s *Server) Limiter() *ratelimit.ClientLimiter { return s.limiter }

// Pipeline returns the scan pipeline.
func (s *Server) Pipeline() *Pipeline { return s.pipeline }

// Breakers returns the tier breakers.
func (s *Server) Breakers() []*breaker.Breaker { return s.breakers }

// ScanCount is the number of scans completed since start.
func (s *Server) ScanCount() uint64 { return s.scans.Load() }

// Listen creates the unix socket, replacing a stale one left by an unclean
// shutdown.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindPermission, "create socket directory for %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, errors.KindPermission, "remove stale socket %s", path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to listen on %s", path)
	}
	if err := os.Chmod(path, SocketMode); err != nil {
		l.Close()
		return nil, errors.Wrapf(err, errors.KindPermission, "failed to set socket permissions on %s", path)
	}
	return l, nil
}

// ListenAndServe listens on the configured socket and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := Listen(s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l, one goroutine per connection.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return errors.New(errors.KindClosed, "server closed")
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Shutdown(context.Background()) })
	defer stop()

	s.logger.Info("listening", "socket", l.Addr().String())
	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, errors.KindUnavailable, "accept")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("connection handler panicked", "panic", r)
				}
			}()
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) track(c *ipc.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *ipc.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	seq := s.nextConn.Add(1)
	id, ok := peerID(nc)
	if !ok {
		// Peers without an identity share one set of buckets so reconnecting
		// cannot refill them.
		id = UnknownPeer
	}
	copts := []ipc.ConnOption{ipc.WithReadTimeout(s.cfg.ReadTimeout), ipc.WithClock(s.clk)}
	if s.registry != nil {
		copts = append(copts, ipc.WithObserver(s.registry))
	}
	conn := ipc.NewConn(nc, copts...)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	log := s.logger.With("client", id, "conn", seq)
	log.Debug("client connected")
	for {
		msg, err := conn.Receive()
		if err != nil {
			switch errors.GetKind(err) {
			case errors.KindClosed:
				log.Debug("client disconnected")
			case errors.KindTimeout:
				log.Debug("idle client dropped", "error", err)
			default:
				// The stream position is unknown after a framing error.
				log.Warn("read failed, closing connection", "error", err)
			}
			return
		}

		resp := s.handleFrame(ctx, id, msg)
		data, err := protocol.Encode(resp)
		if err != nil {
			log.Error("encode response", "error", err)
			return
		}
		if err := conn.Send(data); err != nil {
			log.Warn("write failed, closing connection", "error", err)
			return
		}
	}
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.KindTimeout, "shutdown")
	}
}
