package adminapi

import (
	"net/http"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/webserver"
)

func registerExportRoutes() {
	webserver.ApiGET("/instances/export", ExportInstancesCSV)
}

type instanceCSVRow struct {
	ID             int64  `csv:"id"`
	Name           string `csv:"name"`
	PhoneNumber    string `csv:"phone_number"`
	Label          string `csv:"label"`
	Status         string `csv:"status"`
	Proxy          string `csv:"proxy"`
	LastSeen       string `csv:"last_seen"`
	DisconnectedAt string `csv:"disconnected_at"`
	CreatedAt      string `csv:"created_at"`
}

func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ExportInstancesCSV streams every instance as a CSV attachment, optionally
// filtered by status
func ExportInstancesCSV(c echo.Context) error {
	query := GetDB(c).Model(&domain.Instance{}).Order("id ASC")
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var instances []domain.Instance
	if err := query.Find(&instances).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load instances", err.Error())
	}

	rows := make([]instanceCSVRow, 0, len(instances))
	for i := range instances {
		inst := &instances[i]
		rows = append(rows, instanceCSVRow{
			ID:             inst.ID,
			Name:           inst.Name,
			PhoneNumber:    inst.PhoneNumber,
			Label:          inst.Label,
			Status:         inst.Status,
			Proxy:          inst.ProxyString,
			LastSeen:       csvTime(inst.LastSeen),
			DisconnectedAt: csvTime(inst.DisconnectedAt),
			CreatedAt:      inst.CreatedAt.Format(time.RFC3339),
		})
	}

	data, err := gocsv.MarshalString(&rows)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to render CSV", err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="instances.csv"`)
	return c.Blob(http.StatusOK, "text/csv", []byte(data))
}
