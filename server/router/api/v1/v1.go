package v1

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/plugin/chatbot/command"
	"github.com/hrygo/construkt/plugin/chatbot/session"
	"github.com/hrygo/construkt/server/auth"
	chaterrors "github.com/hrygo/construkt/server/internal/errors"
	"github.com/hrygo/construkt/server/internal/observability"
	"github.com/hrygo/construkt/server/middleware"
	"github.com/hrygo/construkt/server/router"
)

// Roles allowed to push catalog changes to the chatbot.
var productEditorRoles = []string{auth.RoleAdmin, auth.RoleSupplier}

// APIV1Service serves the chatbot HTTP surface.
type APIV1Service struct {
	Profile       *profile.Profile
	Authenticator *auth.Authenticator
	Dispatcher    *command.Dispatcher
	Sessions      *session.Store
	Metrics       *observability.Metrics

	logger *slog.Logger
}

// NewAPIV1Service creates the service.
func NewAPIV1Service(profile *profile.Profile, authenticator *auth.Authenticator, dispatcher *command.Dispatcher, sessions *session.Store) *APIV1Service {
	return &APIV1Service{
		Profile:       profile,
		Authenticator: authenticator,
		Dispatcher:    dispatcher,
		Sessions:      sessions,
		Metrics:       observability.NewMetrics(1000),
		logger:        slog.Default(),
	}
}

// RegisterRoutes declares every chatbot route on r. Order matters: the
// literal history route must precede its parameterized form.
func (s *APIV1Service) RegisterRoutes(r *router.Router) {
	requireAuth := middleware.RequireAuth(s.Authenticator)
	requireAdmin := func(h router.HandlerFunc) router.HandlerFunc {
		return requireAuth(middleware.RequireRole(auth.RoleAdmin)(h))
	}

	r.POST("/api/chatbot/message", requireAuth(s.SendMessage))
	r.POST("/api/chatbot/command", requireAuth(s.ExecuteCommand))
	r.GET("/api/chatbot/history", requireAuth(s.GetHistory))
	r.GET("/api/chatbot/history/{user_id}", requireAuth(s.GetHistory))
	r.POST("/api/chatbot/context/clear", requireAuth(s.ClearContext))
	r.GET("/api/chatbot/health", s.Health)
	r.GET("/api/chatbot/welcome", s.Welcome)
	r.POST("/api/chatbot/products/intents", requireAuth(middleware.RequireRole(productEditorRoles...)(s.UpdateProductIntents)))
	r.POST("/api/chatbot/sessions/sweep", requireAdmin(s.SweepSessions))
	r.GET("/api/system/metrics", requireAdmin(s.GetMetricsOverview))
}

// begin opens the per-request log context for one dispatch.
func (s *APIV1Service) begin(c echo.Context, route string) *observability.RequestContext {
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	rc := observability.NewRequestContextWithID(s.logger, requestID, route)
	req := c.Request()
	c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), rc)))
	rc.Stage(observability.StageReceived)
	return rc
}

// finish records metrics for a dispatch and logs its final stage.
func (s *APIV1Service) finish(rc *observability.RequestContext, kind string, failed bool) {
	duration := rc.Duration()
	s.Metrics.RecordRequest(kind)
	s.Metrics.RecordDuration(kind, duration)
	if failed {
		s.Metrics.RecordFailure(kind)
	}
	rc.Stage(observability.StageEnvelopeReturned, slog.Int64(observability.LogFieldDuration, duration.Milliseconds()))
}

// fail writes the envelope for err and logs it.
func (s *APIV1Service) fail(c echo.Context, rc *observability.RequestContext, err error) error {
	chatErr := toChatError(err)
	if chatErr.HTTPStatus() >= 500 {
		rc.Error("chatbot request failed", err, slog.String(observability.LogFieldErrorCode, string(chatErr.Code)))
	} else {
		rc.Debug("chatbot request rejected", slog.String(observability.LogFieldErrorCode, string(chatErr.Code)))
	}
	status, body := chaterrors.Envelope(chatErr)
	return c.JSON(status, body)
}

// toChatError maps domain errors onto the API error taxonomy.
func toChatError(err error) *chaterrors.ChatError {
	if chatErr, ok := chaterrors.AsChatError(err); ok {
		return chatErr
	}
	switch {
	case errors.Is(err, command.ErrEmptyMessage):
		return chaterrors.InvalidArgument("Missing required fields")
	case errors.Is(err, session.ErrInvalidOwner):
		return chaterrors.InvalidArgument("Invalid user id")
	case errors.Is(err, command.ErrUnavailable):
		return chaterrors.NLPUnavailable(err)
	case errors.Is(err, context.DeadlineExceeded):
		return chaterrors.Timeout(err)
	case errors.Is(err, session.ErrSweepThrottled):
		return chaterrors.RateLimitExceeded("Session sweep ran recently, try again later")
	default:
		return chaterrors.StorageFailure(err)
	}
}

// resolveOwner picks the owner a request acts on. The token subject is the
// owner unless the caller names another user, which only admins may do.
func resolveOwner(claims *auth.Claims, requested string) (string, error) {
	subject := claims.OwnerID()
	if requested == "" || requested == subject {
		return subject, nil
	}
	if auth.HasRole(claims, auth.RoleAdmin) {
		return requested, nil
	}
	return "", chaterrors.Forbidden("Cannot access another user's conversation")
}
