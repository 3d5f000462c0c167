package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/webserver"
	"github.com/talkincode/wafleet/pkg/metrics"
)

func registerSettingsRoutes() {
	webserver.ApiGET("/settings", ListSettings)
	webserver.ApiPOST("/settings", SaveSettings)
	webserver.ApiGET("/metrics/:name", GetMetricSummary)
}

// ListSettings returns all configuration rows, optionally filtered by type
func ListSettings(c echo.Context) error {
	query := GetDB(c).Model(&domain.SysConfig{}).Order("sort ASC")
	if t := c.QueryParam("type"); t != "" {
		query = query.Where("type = ?", t)
	}
	var rows []domain.SysConfig
	if err := query.Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load settings", err.Error())
	}
	return ok(c, rows)
}

// SaveSettings upserts configuration values. Body: {"category.name": value}
func SaveSettings(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if len(payload) == 0 {
		return fail(c, http.StatusBadRequest, "EMPTY_REQUEST", "No settings provided", nil)
	}
	if err := GetApp(c).SaveSettings(payload); err != nil {
		return fail(c, http.StatusInternalServerError, "SAVE_FAILED", "Failed to save settings", err.Error())
	}
	return ok(c, map[string]interface{}{"saved": len(payload)})
}

// GetMetricSummary aggregates a named metric over a recent window.
// Query: hours (default 24)
func GetMetricSummary(c echo.Context) error {
	name := c.Param("name")
	hours := cast.ToInt(c.QueryParam("hours"))
	if hours <= 0 || hours > 24*7 {
		hours = 24
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	summary, err := metrics.Summarize(name, start, end)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_FAILED", "Failed to summarize metric", err.Error())
	}
	return ok(c, map[string]interface{}{
		"metric":  name,
		"hours":   hours,
		"summary": summary,
	})
}
