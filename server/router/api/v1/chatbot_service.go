package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/construkt/server/auth"
	chaterrors "github.com/hrygo/construkt/server/internal/errors"
	"github.com/hrygo/construkt/server/internal/observability"
	"github.com/hrygo/construkt/server/middleware"
	"github.com/hrygo/construkt/server/router"
)

// DefaultHistoryLimit is used when a history request names no limit.
const DefaultHistoryLimit = 20

type sendMessageRequest struct {
	Message string         `json:"message"`
	UserID  auth.SubjectID `json:"user_id"`
}

type executeCommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
	UserID  auth.SubjectID `json:"user_id"`
}

type clearContextRequest struct {
	UserID auth.SubjectID `json:"user_id"`
}

type productIntentsRequest struct {
	Product map[string]any `json:"product"`
	Action  string         `json:"action"`
}

// SendMessage forwards a free-text message to the assistant.
// POST /api/chatbot/message
func (s *APIV1Service) SendMessage(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "message")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		s.finish(rc, "message", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Invalid request body"))
	}
	if req.Message == "" {
		s.finish(rc, "message", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Missing required fields"))
	}

	owner, err := s.authorize(c, rc, string(req.UserID))
	if err != nil {
		s.finish(rc, "message", true)
		return s.fail(c, rc, err)
	}

	rc.Stage(observability.StageNLPForward, slog.Int(observability.LogFieldMessageLen, len(req.Message)))
	resp, err := s.Dispatcher.HandleMessage(c.Request().Context(), owner, req.Message)
	s.finish(rc, "message", err != nil)
	if err != nil {
		return s.fail(c, rc, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ExecuteCommand runs a structured command. Unknown command names are
// answered with the help envelope, so the status is 200 for any command.
// POST /api/chatbot/command
func (s *APIV1Service) ExecuteCommand(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "command")

	var req executeCommandRequest
	if err := c.Bind(&req); err != nil {
		s.finish(rc, "command", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Invalid request body"))
	}
	if req.Command == "" {
		s.finish(rc, "command", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Missing required fields"))
	}

	owner, err := s.authorize(c, rc, string(req.UserID))
	if err != nil {
		s.finish(rc, "command", true)
		return s.fail(c, rc, err)
	}

	rc.Stage(observability.StageCommandExecute, slog.String(observability.LogFieldCommand, req.Command))
	resp := s.Dispatcher.HandleCommand(c.Request().Context(), owner, req.Command, req.Params)
	s.finish(rc, "command:"+resp.Type, false)
	return c.JSON(http.StatusOK, resp)
}

// GetHistory returns the caller's recent conversation.
// GET /api/chatbot/history?user_id=&limit=
// GET /api/chatbot/history/{user_id}?limit=
func (s *APIV1Service) GetHistory(c echo.Context, params router.Params) error {
	rc := s.begin(c, "history")

	requested := params["user_id"]
	if requested == "" {
		requested = c.QueryParam("user_id")
	}
	owner, err := s.authorize(c, rc, requested)
	if err != nil {
		s.finish(rc, "history", true)
		return s.fail(c, rc, err)
	}

	limit := DefaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := s.Dispatcher.History(c.Request().Context(), owner, limit)
	s.finish(rc, "history", err != nil)
	if err != nil {
		return s.fail(c, rc, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"history": history,
	})
}

// ClearContext forgets the caller's conversation. It answers 200 whether or
// not clearing succeeded and reports the outcome in the body.
// POST /api/chatbot/context/clear
func (s *APIV1Service) ClearContext(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "clear")

	var req clearContextRequest
	if err := c.Bind(&req); err != nil {
		s.finish(rc, "clear", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Invalid request body"))
	}
	owner, err := s.authorize(c, rc, string(req.UserID))
	if err != nil {
		s.finish(rc, "clear", true)
		return s.fail(c, rc, err)
	}

	ok := s.Dispatcher.ClearContext(c.Request().Context(), owner)
	s.finish(rc, "clear", !ok)
	if !ok {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "error",
			"success": false,
			"message": "Failed to clear context",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"success": true,
		"message": "Context cleared successfully",
	})
}

// Health reports whether the assistant backend is reachable.
// GET /api/chatbot/health
func (s *APIV1Service) Health(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "health")

	health, err := s.Dispatcher.Health(c.Request().Context())
	s.finish(rc, "health", err != nil)
	if err != nil {
		rc.Warn("chatbot health check failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "error",
			"message": "Chatbot service is unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data":   health,
	})
}

// Welcome returns the greeting envelope for a new conversation.
// GET /api/chatbot/welcome
func (s *APIV1Service) Welcome(c echo.Context, _ router.Params) error {
	return c.JSON(http.StatusOK, s.Dispatcher.Welcome())
}

// UpdateProductIntents relays a catalog change to the assistant.
// POST /api/chatbot/products/intents
func (s *APIV1Service) UpdateProductIntents(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "product_intents")

	var req productIntentsRequest
	if err := c.Bind(&req); err != nil || len(req.Product) == 0 || req.Action == "" {
		s.finish(rc, "product_intents", true)
		return s.fail(c, rc, chaterrors.InvalidArgument("Missing required fields"))
	}

	ok := s.Dispatcher.NotifyProductChange(c.Request().Context(), req.Product, req.Action)
	s.finish(rc, "product_intents", !ok)
	status := "success"
	if !ok {
		status = "error"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  status,
		"success": ok,
	})
}

// SweepSessions purges expired sessions on demand.
// POST /api/chatbot/sessions/sweep
func (s *APIV1Service) SweepSessions(c echo.Context, _ router.Params) error {
	rc := s.begin(c, "sweep")

	purged, err := s.Sessions.TriggerSweep(c.Request().Context())
	s.finish(rc, "sweep", err != nil)
	if err != nil {
		return s.fail(c, rc, err)
	}
	rc.Info("manual session sweep completed", slog.Int("purged", purged))
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"purged": purged,
	})
}

// authorize resolves the owner for an authenticated request.
func (s *APIV1Service) authorize(c echo.Context, rc *observability.RequestContext, requested string) (string, error) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return "", chaterrors.Unauthorized()
	}
	owner, err := resolveOwner(claims, requested)
	if err != nil {
		return "", err
	}
	rc.OwnerID = owner
	rc.Stage(observability.StageAuthChecked)
	return owner, nil
}
