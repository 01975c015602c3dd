package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/services"
	appErrors "github.com/charlesng35/flowcache/pkg/errors"
	"github.com/charlesng35/flowcache/pkg/response"
)

// ForecastHandler serves forecasts and return periods through the network-fallback service.
type ForecastHandler struct {
	svc *services.ForecastService
}

// NewForecastHandler constructs a forecast handler.
func NewForecastHandler(svc *services.ForecastService) *ForecastHandler {
	return &ForecastHandler{svc: svc}
}

// Forecast handles GET /api/reaches/:reachID/forecasts/:class.
func (h *ForecastHandler) Forecast(c *gin.Context) {
	class, err := models.ParseForecastClass(c.Param("class"))
	if err != nil {
		response.Error(c, appErrors.ErrInvalidForecastClass)
		return
	}

	result, err := h.svc.GetForecast(c.Request.Context(), c.Param("reachID"), class)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ReturnPeriods handles GET /api/reaches/:reachID/return-periods. The optional unit query
// converts the thresholds on output; the cached record keeps its own unit.
func (h *ForecastHandler) ReturnPeriods(c *gin.Context) {
	var target models.FlowUnit
	if raw := strings.TrimSpace(c.Query("unit")); raw != "" {
		unit, err := models.ParseFlowUnit(raw)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("unit must be cms or cfs"))
			return
		}
		target = unit
	}

	result, err := h.svc.GetReturnPeriods(c.Request.Context(), c.Param("reachID"))
	if err != nil {
		writeError(c, err)
		return
	}

	if target != "" && target != result.Unit {
		converted := make(map[int]float64, len(result.Thresholds))
		for year, flow := range result.Thresholds {
			converted[year] = result.Unit.Convert(flow, target)
		}
		result.Thresholds = converted
		result.Unit = target
	}

	response.Success(c, http.StatusOK, result)
}

type prefetchPayload struct {
	ReachIDs      []string `json:"reach_ids" validate:"required,min=1,max=200,dive,reach_id"`
	Classes       []string `json:"classes" validate:"max=3"`
	ReturnPeriods bool     `json:"return_periods"`
}

// Prefetch handles POST /api/reaches/prefetch.
func (h *ForecastHandler) Prefetch(c *gin.Context) {
	var payload prefetchPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	classes := make([]models.ForecastClass, 0, len(payload.Classes))
	for _, raw := range payload.Classes {
		class, err := models.ParseForecastClass(raw)
		if err != nil {
			response.Error(c, appErrors.ErrInvalidForecastClass)
			return
		}
		classes = append(classes, class)
	}

	report, err := h.svc.Prefetch(c.Request.Context(), services.PrefetchRequest{
		ReachIDs:      payload.ReachIDs,
		Classes:       classes,
		ReturnPeriods: payload.ReturnPeriods,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}
