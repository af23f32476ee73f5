package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/construkt/server/internal/observability"
	"github.com/hrygo/construkt/server/router"
)

// MetricsOverviewResponse represents the overview response of dispatch metrics.
type MetricsOverviewResponse struct {
	TotalRequests int64                                  `json:"total_requests"`
	SuccessRate   float64                                `json:"success_rate"`
	ErrorCount    int64                                  `json:"error_count"`
	Kinds         map[string]*observability.KindSnapshot `json:"kinds"`
}

// GetMetricsOverview returns counters collected since the process started.
// GET /api/system/metrics
func (s *APIV1Service) GetMetricsOverview(c echo.Context, _ router.Params) error {
	snap := s.Metrics.Snapshot()
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		TotalRequests: snap.RequestTotal,
		SuccessRate:   snap.SuccessRate(),
		ErrorCount:    snap.RequestFailed,
		Kinds:         snap.Kinds,
	})
}
