package adminapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wafleet/internal/app"
	"gorm.io/gorm"
)

// ListResponse is the paginated list envelope.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int64       `json:"total"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

// ok writes a 200 response with the payload.
func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// fail writes an error envelope with a machine-readable code.
func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"error": errorBody{Code: code, Message: message, Detail: detail},
	})
}

// GetApp extracts the application from the request context.
func GetApp(c echo.Context) *app.Application {
	return c.Get("app").(*app.Application)
}

// GetDB extracts the database handle from the request context.
func GetDB(c echo.Context) *gorm.DB {
	return GetApp(c).DB()
}

// handleValidationError maps validator failures to a 400 with field details.
func handleValidationError(c echo.Context, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", fields)
}

// RegisterRoutes attaches every admin API route group.
func RegisterRoutes() {
	registerInstanceRoutes()
	registerSchedulerRoutes()
	registerSettingsRoutes()
	registerExportRoutes()
}
