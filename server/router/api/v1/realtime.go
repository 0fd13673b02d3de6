package v1

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/parrotalk/plugin/ai/prompt"
	"github.com/hrygo/parrotalk/plugin/ai/timeout"
	"github.com/hrygo/parrotalk/server/auth"
	"github.com/hrygo/parrotalk/server/internal/errors"
	"github.com/hrygo/parrotalk/server/internal/observability"
	"github.com/hrygo/parrotalk/server/ratebudget"
	"github.com/hrygo/parrotalk/server/turn"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RealtimeResponse is the body of a successful turn.
type RealtimeResponse struct {
	SessionID     string `json:"sessionId"`
	UserText      string `json:"userText"`
	AssistantText string `json:"assistantText"`
	AudioData     string `json:"audioData"`
	AudioFormat   string `json:"audioFormat"`
}

// ClearSessionResponse is the body of a successful session clear.
type ClearSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PostRealtime runs one turn.
// POST /api/realtime
func (s *APIV1Service) PostRealtime(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	userID, err := s.Resolver.Resolve(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		// An unverifiable token degrades to an anonymous turn.
		slog.Warn("failed to resolve access token", observability.LogFieldRequestID, requestID, "error", err)
		userID = ""
	}

	if rejected, err := s.admit(c, userID); rejected || err != nil {
		return err
	}

	sessionID := c.FormValue("sessionId")
	if sessionID == "" {
		sessionID = "session-" + shortuuid.New()
	}
	reqCtx := observability.NewRequestContextWithID(slog.Default(), requestID, sessionID, userID)
	ctx = observability.WithRequestContext(auth.WithUserID(ctx, userID), reqCtx)

	audio, err := s.readAudio(c)
	if err != nil {
		s.Metrics.RecordRejection()
		return s.writeError(c, err)
	}

	req := turn.TurnRequest{
		SessionID:       sessionID,
		UserID:          userID,
		Title:           c.FormValue("sessionTitle"),
		Audio:           audio,
		DurationSeconds: parseDuration(c.FormValue("duration")),
	}
	if raw := c.FormValue("promptOptions"); raw != "" {
		opts, err := prompt.Parse(raw)
		if err != nil {
			reqCtx.Warn("ignoring malformed prompt options", slog.String("error", err.Error()))
		} else if !opts.IsZero() {
			req.PromptOptions = &opts
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, timeout.TurnTimeout)
	defer cancel()

	result, err := s.Turns.HandleTurn(turnCtx, req)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, RealtimeResponse{
		SessionID:     result.SessionID,
		UserText:      result.Transcript,
		AssistantText: result.Reply,
		AudioData:     result.AudioOut.Data,
		AudioFormat:   result.AudioOut.Format,
	})
}

// DeleteRealtime clears a session's history.
// DELETE /api/realtime?sessionId=...
func (s *APIV1Service) DeleteRealtime(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return s.writeError(c, errors.InvalidArgument("sessionId parameter required"))
	}
	ctx := observability.WithRequestContext(c.Request().Context(),
		observability.NewRequestContextWithID(slog.Default(), c.Response().Header().Get(echo.HeaderXRequestID), sessionID, ""))
	if err := s.Turns.ClearSession(ctx, sessionID); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, ClearSessionResponse{Success: true, Message: "Session cleared"})
}

// admit applies the request window and the cost budget. When the request is
// rejected the response has already been written.
func (s *APIV1Service) admit(c echo.Context, userID string) (bool, error) {
	ctx := c.Request().Context()
	key, limit := "ip:"+c.RealIP(), s.Profile.IPRequestsPerMinute
	if userID != "" {
		key, limit = "user:"+userID, s.Profile.UserRequestsPerMinute
	}

	rate, err := s.Guard.CheckRequestRate(ctx, key, limit, ratebudget.DefaultWindow)
	if err != nil {
		// Admission state is unavailable; serve rather than fail closed.
		slog.Error("rate check failed", "key", key, "error", err)
		return false, nil
	}
	for name, values := range ratebudget.Headers(rate, limit) {
		c.Response().Header()[name] = values
	}
	if !rate.Allowed {
		s.Metrics.RecordRejection()
		msg := fmt.Sprintf("Rate limit exceeded. Retry after %s", rate.ResetTime.UTC().Format(time.RFC3339))
		return true, s.writeError(c, errors.RateLimitExceeded(msg))
	}

	budget, err := s.Guard.CheckCostBudget(ctx, key, s.Profile.EstimatedTurnCostUSD, s.Profile.HourlyBudgetUSD)
	if err != nil {
		slog.Error("budget check failed", "key", key, "error", err)
		return false, nil
	}
	if !budget.Allowed {
		s.Metrics.RecordRejection()
		retry := int(max(1, time.Until(budget.ResetTime).Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		msg := fmt.Sprintf("Hourly budget exhausted. Resets at %s", budget.ResetTime.UTC().Format(time.RFC3339))
		return true, s.writeError(c, errors.BudgetExceeded(msg))
	}
	return false, nil
}

func (s *APIV1Service) readAudio(c echo.Context) (*turn.Audio, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		return nil, errors.InvalidArgument("No audio file provided")
	}
	maxBytes := s.Profile.MaxAudioBytes
	if maxBytes <= 0 {
		maxBytes = turn.DefaultMaxAudioBytes
	}
	if fh.Size > maxBytes {
		return nil, errors.InvalidArgument(fmt.Sprintf("File size exceeds limit (max: %dMB)", maxBytes/1024/1024))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errors.InvalidArgument("Failed to read audio file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, errors.InvalidArgument("Failed to read audio file")
	}
	return &turn.Audio{
		Data:     data,
		MIMEType: fh.Header.Get(echo.HeaderContentType),
		Filename: fh.Filename,
	}, nil
}

func (s *APIV1Service) writeError(c echo.Context, err error) error {
	status, code, msg := errors.Sanitize(err)
	return c.JSON(status, ErrorResponse{Code: string(code), Message: msg})
}

func parseDuration(raw string) float64 {
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return d
}
