package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/parrotalk/internal/profile"
	"github.com/hrygo/parrotalk/server/auth"
	"github.com/hrygo/parrotalk/server/internal/observability"
	"github.com/hrygo/parrotalk/server/ratebudget"
	"github.com/hrygo/parrotalk/server/turn"
)

// TurnService runs and clears conversation turns.
type TurnService interface {
	HandleTurn(ctx context.Context, req turn.TurnRequest) (*turn.TurnResult, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type APIV1Service struct {
	Profile  *profile.Profile
	Turns    TurnService
	Guard    ratebudget.Guard
	Resolver *auth.Resolver
	Metrics  *observability.Metrics
}

func NewAPIV1Service(profile *profile.Profile, turns TurnService, guard ratebudget.Guard, resolver *auth.Resolver) *APIV1Service {
	if guard == nil {
		guard = ratebudget.NewMemoryGuard()
	}
	if resolver == nil {
		resolver = auth.NewResolver("", nil)
	}
	return &APIV1Service{
		Profile:  profile,
		Turns:    turns,
		Guard:    guard,
		Resolver: resolver,
		Metrics:  observability.GlobalMetrics(),
	}
}

// RegisterRoutes registers the realtime endpoints with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	corsHandler := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
			echo.HeaderXRequestID,
		},
	})

	group := echoServer.Group("/api", corsHandler)
	group.POST("/realtime", s.PostRealtime)
	group.DELETE("/realtime", s.DeleteRealtime)
	// Preflight is answered by the CORS middleware; the route only has to exist.
	group.OPTIONS("/realtime", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	group.GET("/realtime/stats", s.GetRealtimeStats)
}
