package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/parrotalk/internal/profile"
	"github.com/hrygo/parrotalk/plugin/ai"
	"github.com/hrygo/parrotalk/plugin/ai/session"
	"github.com/hrygo/parrotalk/server/auth"
	"github.com/hrygo/parrotalk/server/finops"
	"github.com/hrygo/parrotalk/server/middleware"
	"github.com/hrygo/parrotalk/server/ratebudget"
	apiv1 "github.com/hrygo/parrotalk/server/router/api/v1"
	"github.com/hrygo/parrotalk/server/turn"
	"github.com/hrygo/parrotalk/store"
	storecache "github.com/hrygo/parrotalk/store/cache"
	"github.com/hrygo/parrotalk/store/db"
)

const (
	// throttlePruneInterval is how often idle per-IP limiters are dropped.
	throttlePruneInterval = 10 * time.Minute
	// bodyLimitSlack covers multipart framing and the text fields around the audio part.
	bodyLimitSlack = 1 << 20
)

// Server owns the HTTP surface and every process-scoped store behind it.
type Server struct {
	Profile *profile.Profile

	echoServer     *echo.Echo
	orchestrator   *turn.Orchestrator
	history        session.HistoryStore
	guard          ratebudget.Guard
	driver         store.Driver
	redisClient    *redis.Client
	throttle       *middleware.RateLimiter
	sessionCleanup *session.SessionCleanupJob
	guardCleanup   *ratebudget.CleanupJob

	mu       sync.Mutex
	listener net.Listener
	stop     chan struct{}
	done     chan struct{}
}

// NewServer wires the upstream provider, stores and routes from the profile.
// The profile must already be validated.
func NewServer(ctx context.Context, profile *profile.Profile) (*Server, error) {
	provider, err := ai.NewProvider(ai.NewConfigFromProfile(profile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upstream provider")
	}
	return NewServerWithProvider(ctx, profile, provider)
}

// Provider is the upstream surface a turn needs.
type Provider interface {
	ai.Transcriber
	ai.ChatCompleter
	ai.Synthesizer
}

// NewServerWithProvider is NewServer with an injected upstream provider.
func NewServerWithProvider(ctx context.Context, profile *profile.Profile, provider Provider) (*Server, error) {
	s := &Server{
		Profile:  profile,
		throttle: middleware.NewRateLimiter(profile.ThrottleRPS, profile.ThrottleBurst),
	}

	if cfg := storecache.RedisConfigFromProfile(profile); cfg != nil {
		client, err := storecache.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.redisClient = client
		s.history = session.NewRedisStore(client, cfg.KeyPrefix, profile.SessionIdleTTL)
		s.guard = ratebudget.NewRedisGuard(client, cfg.KeyPrefix)
	} else {
		s.history = session.NewMemoryStore()
		s.guard = ratebudget.NewMemoryGuard()
	}

	driver, err := db.NewDBDriver(profile)
	if err != nil {
		s.closeStores()
		return nil, errors.Wrap(err, "failed to create conversation store")
	}
	s.driver = driver

	var conversations store.ConversationStore
	if driver != nil {
		conversations = store.New(driver)
	} else {
		slog.Info("conversation persistence disabled")
	}

	s.orchestrator = turn.New(turn.Config{
		Transcriber:   provider,
		Chat:          provider,
		Synthesizer:   provider,
		History:       s.history,
		HistoryLimit:  profile.HistoryLimit,
		Conversations: conversations,
		Rates:         finops.RatesFromProfile(profile),
		Validation: turn.ValidationConfig{
			MaxBytes:       profile.MaxAudioBytes,
			CheckSignature: profile.ValidateAudioSignature,
		},
		MaxConcurrentTurns: profile.MaxConcurrentTurns,
	})

	resolver, err := newResolver(profile)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	s.sessionCleanup = session.NewSessionCleanupJob(s.history, session.CleanupConfig{IdleTTL: profile.SessionIdleTTL})
	s.guardCleanup = ratebudget.NewCleanupJob(s.guard, 0, 0)

	s.echoServer = s.newEcho(apiv1.NewAPIV1Service(profile, s.orchestrator, s.guard, resolver))
	return s, nil
}

func newResolver(profile *profile.Profile) (*auth.Resolver, error) {
	if profile.SupabaseJWTSecret != "" {
		return auth.NewResolver(profile.SupabaseJWTSecret, nil), nil
	}
	if profile.SupabaseURL != "" && profile.SupabaseKey != "" {
		lookup, err := auth.NewSupabaseLookup(profile.SupabaseURL, profile.SupabaseKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create identity lookup")
		}
		return auth.NewResolver("", lookup), nil
	}
	slog.Info("no identity verifier configured, all turns are anonymous")
	return auth.NewResolver("", nil), nil
}

func (s *Server) newEcho(service *apiv1.APIV1Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	maxBody := s.Profile.MaxAudioBytes
	if maxBody <= 0 {
		maxBody = turn.DefaultMaxAudioBytes
	}

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.BodyLimit(fmt.Sprintf("%dB", maxBody+bodyLimitSlack)))
	e.Use(s.throttle.Throttle())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": s.Profile.Version,
		})
	})
	service.RegisterRoutes(e)
	return e
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Orchestrator returns the turn pipeline the routes run.
func (s *Server) Orchestrator() *turn.Orchestrator {
	return s.orchestrator
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener, starts background jobs and serves in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = listener
	s.echoServer.Listener = listener

	if err := s.sessionCleanup.Start(ctx); err != nil {
		slog.Warn("session cleanup not started", "error", err)
	}
	s.guardCleanup.Start(ctx)

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pruneThrottle(s.stop, s.done)

	go func() {
		if err := s.echoServer.Start(""); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped unexpectedly", "error", err)
		}
	}()

	slog.Info("server started", "addr", listener.Addr().String(), "mode", s.Profile.Mode, "driver", s.Profile.Driver)
	return nil
}

func (s *Server) pruneThrottle(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(throttlePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.throttle.Prune(throttlePruneInterval); n > 0 {
				slog.Debug("pruned idle throttle entries", "count", n)
			}
		}
	}
}

// Shutdown drains in-flight requests, stops jobs and closes every store.
func (s *Server) Shutdown(ctx context.Context) {
	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown echo server", "error", err)
	}

	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	s.mu.Unlock()

	s.sessionCleanup.Stop()
	s.guardCleanup.Stop()
	s.closeStores()

	slog.Info("server stopped properly")
}

func (s *Server) closeStores() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			slog.Error("failed to close history store", "error", err)
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			slog.Error("failed to close conversation store", "error", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
}
