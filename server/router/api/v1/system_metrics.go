package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/parrotalk/server/internal/observability"
	"github.com/hrygo/parrotalk/server/ratebudget"
)

// RealtimeStatsResponse combines admission state with turn metrics.
type RealtimeStatsResponse struct {
	Admission   ratebudget.Stats               `json:"admission"`
	Turns       *observability.MetricsSnapshot `json:"turns"`
	SuccessRate float64                        `json:"successRate"`
}

// GetRealtimeStats returns admission and turn statistics.
// GET /api/realtime/stats
func (s *APIV1Service) GetRealtimeStats(c echo.Context) error {
	stats, err := s.Guard.Stats(c.Request().Context())
	if err != nil {
		slog.Warn("failed to read admission stats", "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "admission stats unavailable"})
	}
	snapshot := s.Metrics.Snapshot()
	return c.JSON(http.StatusOK, RealtimeStatsResponse{
		Admission:   stats,
		Turns:       snapshot,
		SuccessRate: snapshot.SuccessRate(),
	})
}
