package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/plugin/chatbot/command"
	"github.com/hrygo/construkt/plugin/chatbot/session"
	"github.com/hrygo/construkt/server/auth"
	"github.com/hrygo/construkt/server/middleware"
	"github.com/hrygo/construkt/server/router"
	apiv1 "github.com/hrygo/construkt/server/router/api/v1"
	"github.com/hrygo/construkt/store"
)

// requestBodyLimit caps chatbot request bodies.
const requestBodyLimit = "1M"

type Server struct {
	Profile    *profile.Profile
	Store      *store.Store
	Sessions   *session.Store
	Dispatcher *command.Dispatcher
	Service    *apiv1.APIV1Service

	echoServer  *echo.Echo
	cleanup     *session.CleanupJob
	rateLimiter *middleware.RateLimiter
	closers     []func() error
}

// NewServer assembles the chatbot server. storeInstance may be nil when no
// database is configured; the sql session backend then cannot be selected.
func NewServer(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   storeInstance,
	}

	sessions, closeSessions, err := NewSessionStore(ctx, profile, storeInstance, session.WithEagerSweep())
	if err != nil {
		return nil, err
	}
	if closeSessions != nil {
		s.closers = append(s.closers, closeSessions)
	}
	s.Sessions = sessions
	s.cleanup = session.NewCleanupJob(s.Sessions, profile.CleanupInterval)

	cat, err := newCatalog(profile)
	if err != nil {
		return nil, err
	}
	opts := []command.Option{}
	if storeInstance != nil {
		opts = append(opts, command.WithChatLog(storeInstance))
	}
	s.Dispatcher = command.New(s.Sessions, newNLPClient(profile), cat, opts...)

	authenticator := auth.NewAuthenticator(profile.Secret)
	s.Service = apiv1.NewAPIV1Service(profile, authenticator, s.Dispatcher, s.Sessions)
	s.rateLimiter = middleware.NewRateLimiter(profile.RateLimitPerSecond, profile.RateLimitBurst)

	e := echo.New()
	e.Debug = profile.IsDev()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))
	e.Use(echomiddleware.BodyLimit(requestBodyLimit))
	e.Use(requestLogger())
	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	r := router.New()
	s.Service.RegisterRoutes(r)
	r.Mount(e, "/api", middleware.RateLimit(s.rateLimiter, middleware.CallerKey(authenticator)))
	s.echoServer = e

	return s, nil
}

// Handler exposes the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start begins background jobs and serves until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}

	s.cleanup.Start(ctx)
	go s.pruneRateLimits(ctx)

	slog.Info("construkt server started", slog.String("address", listener.Addr().String()), slog.String("mode", s.Profile.Mode))
	s.echoServer.Listener = listener
	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to start echo server")
	}
	return nil
}

// Shutdown stops serving, waits for background jobs and releases storage.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	s.cleanup.Stop()

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			slog.Error("failed to close session backend", slog.String("error", err.Error()))
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			slog.Error("failed to close database", slog.String("error", err.Error()))
		}
	}

	slog.Info("server stopped properly")
}

func (s *Server) pruneRateLimits(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.rateLimiter.Prune(); n > 0 {
				slog.Debug("pruned idle rate limit buckets", slog.Int("count", n))
			}
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

// errorHandler keeps the chatbot envelope for errors echo raises itself.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch status {
		case http.StatusNotFound:
			message = "Endpoint not found"
		case http.StatusRequestEntityTooLarge:
			message = "Request body too large"
		default:
			if text, ok := he.Message.(string); ok {
				message = text
			} else {
				message = http.StatusText(status)
			}
		}
	}
	if err := c.JSON(status, map[string]any{"status": "error", "message": message}); err != nil {
		slog.Error("failed to write error response", slog.String("error", err.Error()))
	}
}
