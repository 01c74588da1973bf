// Package status serves a polled temperature status level over HTTP.
package status

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ownetctl/internal/auth"
	"github.com/danmuck/ownetctl/internal/observability"
	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const nodeName = "status"

// Options configures the poller and the HTTP listener.
type Options struct {
	Listen      string
	Sensors     []string
	Limit       float64
	Step        float64
	Interval    time.Duration
	CorsOrigins []string

	// Token, when set, is required as a bearer token on every route
	// except /health.
	Token   string
	Backoff session.BackoffConfig
}

func DefaultOptions() Options {
	return Options{
		Listen:   "127.0.0.1:8304",
		Limit:    25.0,
		Step:     5.0,
		Interval: 30 * time.Second,
		Backoff:  session.DefaultConfig().Backoff,
	}
}

type Reading struct {
	Path  string  `json:"path"`
	Value float64 `json:"value"`
	Error string  `json:"error,omitempty"`
}

// Snapshot is the result of one polling pass.
type Snapshot struct {
	Status   int       `json:"status"`
	Updated  time.Time `json:"updated"`
	Readings []Reading `json:"readings"`
}

// Server polls Options.Sensors through one proxy and serves the result.
type Server struct {
	proxy  ownet.Proxy
	opts   Options
	router *gin.Engine

	started time.Time
	rng     *rand.Rand

	// serializes proxy use when the proxy holds a single connection
	proxyMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
}

func New(p ownet.Proxy, opts Options) *Server {
	observability.RegisterMetrics()
	observability.SetStatusLevel(-1)
	d := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.Step <= 0 {
		opts.Step = d.Step
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = d.Backoff
	}
	if strings.TrimSpace(opts.Listen) == "" {
		opts.Listen = d.Listen
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Instrument(nodeName, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if opts.Token != "" {
		r.Use(auth.Require(auth.StaticToken{Token: opts.Token}, "/health"))
	}

	s := &Server{
		proxy:   p,
		opts:    opts,
		router:  r,
		started: time.Now(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		snap:    Snapshot{Status: -1, Readings: []Reading{}},
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "%d\n", s.Snapshot().Status)
	})

	s.router.GET("/readings", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})

	s.router.GET("/health", func(c *gin.Context) {
		defer s.lockProxy()()
		if err := s.proxy.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unreachable",
				"server": s.proxy.Addr(),
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"server": s.proxy.Addr(),
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.GET("/server", func(c *gin.Context) {
		defer s.lockProxy()()
		ctx := c.Request.Context()
		version, err := s.proxy.Read(ctx, protocol.PathVersion)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		pid, err := s.proxy.Read(ctx, protocol.PathPID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"server":  s.proxy.Addr(),
			"version": strings.TrimSpace(string(version)),
			"pid":     strings.TrimSpace(string(pid)),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Poll reads every configured sensor once and publishes the result.
func (s *Server) Poll(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Updated: time.Now(), Readings: make([]Reading, 0, len(s.opts.Sensors))}
	values := make([]float64, 0, len(s.opts.Sensors))
	failures := 0
	var transportErr error
	for _, path := range s.opts.Sensors {
		v, err := s.read(ctx, path)
		if err != nil {
			failures++
			if protocol.IsTransport(err) {
				transportErr = err
			}
			snap.Readings = append(snap.Readings, Reading{Path: path, Error: err.Error()})
			continue
		}
		values = append(values, v)
		snap.Readings = append(snap.Readings, Reading{Path: path, Value: v})
	}
	snap.Status = Level(values, failures, s.opts.Limit, s.opts.Step)

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	observability.SetStatusLevel(snap.Status)
	log.Debug().Int("status", snap.Status).Int("readings", len(values)).Int("failures", failures).Msg("status poll")
	return snap, transportErr
}

func (s *Server) read(ctx context.Context, path string) (float64, error) {
	defer s.lockProxy()()
	raw, err := s.proxy.Read(ctx, path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("status: %s: %w", path, err)
	}
	return v, nil
}

// Level maps readings to a status: 0 when every value is within limit,
// 1+int((v-limit)/step) for the worst value above it, and at least 1 when
// any read failed.
func Level(values []float64, failures int, limit, step float64) int {
	level := 0
	if failures > 0 {
		level = 1
	}
	for _, v := range values {
		if v > limit {
			level = max(level, 1+int((v-limit)/step))
		}
	}
	return level
}

// Run polls until ctx is done. Passes that hit transport errors are
// retried on the backoff schedule instead of the regular interval.
func (s *Server) Run(ctx context.Context) error {
	attempt := 0
	for {
		_, err := s.Poll(ctx)
		wait := s.opts.Interval
		if err != nil {
			attempt++
			wait = min(s.opts.Backoff.Delay(attempt, s.rng), s.opts.Interval)
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("status poll failed")
		} else {
			attempt = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Serve runs the poller and the HTTP listener until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("listen", s.opts.Listen).Str("server", s.proxy.Addr()).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) lockProxy() func() {
	if !s.proxy.Persistent() {
		return func() {}
	}
	s.proxyMu.Lock()
	return s.proxyMu.Unlock
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
