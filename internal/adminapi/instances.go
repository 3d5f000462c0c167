package adminapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/instance"
	"github.com/talkincode/wafleet/internal/webserver"
	"go.uber.org/zap"
)

// instancePayload represents the instance creation request
type instancePayload struct {
	Name  string `json:"name" validate:"required,min=1,max=64"`
	Label string `json:"label" validate:"omitempty,max=200"`
	Proxy string `json:"proxy" validate:"omitempty,max=500"`
}

// instanceUpdatePayload relaxes validation rules for partial updates
type instanceUpdatePayload struct {
	Label string `json:"label" validate:"omitempty,max=200"`
	Proxy string `json:"proxy" validate:"omitempty,max=500"`
}

func registerInstanceRoutes() {
	webserver.ApiGET("/instances", ListInstances)
	webserver.ApiPOST("/instances", CreateInstance)
	webserver.ApiGET("/instances/:id", GetInstance)
	webserver.ApiPUT("/instances/:id", UpdateInstance)
	webserver.ApiDELETE("/instances/:id", DeleteInstance)
	webserver.ApiPOST("/instances/:id/logout", LogoutInstance)
	webserver.ApiPOST("/instances/:id/restart", RestartInstance)
	webserver.ApiGET("/instances/:id/qr", GetInstanceQR)
	webserver.ApiPOST("/instances/:id/paircode", GetInstancePairCode)
	webserver.ApiGET("/instances/:id/proxy", GetInstanceProxy)
	webserver.ApiPOST("/instances/bulk-delete", BulkDeleteInstances)
	webserver.ApiPOST("/instances/retention-cleanup", RunRetentionCleanup)
	webserver.ApiPOST("/instances/orphan-scan", RunOrphanScan)
	webserver.ApiPOST("/instances/orphan-cleanup-remote", RunRemoteOrphanCleanup)
	webserver.ApiPOST("/instances/phone-sync", RunPhoneSync)
	webserver.ApiPOST("/proxy/test", TestProxy)
	webserver.ApiPOST("/webhook/enforce", RunWebhookSweep)
}

func instanceID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// ListInstances retrieves the instance list with filters and pagination
func ListInstances(c echo.Context) error {
	db := GetDB(c)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("perPage"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	sortField := c.QueryParam("sort")
	order := c.QueryParam("order")
	if sortField == "" {
		sortField = "id"
	}
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	var total int64
	var instances []domain.Instance

	query := db.Model(&domain.Instance{})

	if name := strings.TrimSpace(c.QueryParam("name")); name != "" {
		if strings.EqualFold(db.Name(), "postgres") {
			query = query.Where("name ILIKE ?", "%"+name+"%")
		} else {
			query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%")
		}
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if phone := strings.TrimSpace(c.QueryParam("phone")); phone != "" {
		query = query.Where("phone_number = ?", phone)
	}

	query.Count(&total)

	offset := (page - 1) * perPage
	query.Order(sortField + " " + order).Limit(perPage).Offset(offset).Find(&instances)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  instances,
		"total": total,
	})
}

// CreateInstance registers a new instance and returns any pairing payload
// the gateway produced synchronously
func CreateInstance(c echo.Context) error {
	var payload instancePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	a := GetApp(c)
	inst, pairing, err := a.Registry().Create(c.Request().Context(),
		payload.Name, payload.Label, payload.Proxy)
	if err != nil {
		if errors.Is(err, instance.ErrInvalidName) {
			return fail(c, http.StatusBadRequest, "INVALID_NAME", "Instance name must match [a-z0-9_]+", nil)
		}
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create instance", err.Error())
	}

	// start polling for the new pairing session
	a.Reconciler().Kick()

	return ok(c, map[string]interface{}{
		"instance": inst,
		"pairing":  pairing,
	})
}

// GetInstance fetches a single instance
func GetInstance(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	inst, err := GetApp(c).Registry().Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	}
	return ok(c, inst)
}

// UpdateInstance updates the label or proxy of an instance
func UpdateInstance(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}

	var payload instanceUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	a := GetApp(c)
	ctx := c.Request().Context()
	if payload.Label != "" {
		if err := a.Registry().UpdateLabel(ctx, id, payload.Label); err != nil {
			return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update label", err.Error())
		}
	}
	if payload.Proxy != "" {
		if err := a.Registry().UpdateProxy(ctx, id, payload.Proxy); err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_PROXY", "Proxy string rejected", err.Error())
		}
	}

	inst, err := a.Registry().Get(ctx, id)
	if err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	}
	return ok(c, inst)
}

// DeleteInstance removes one instance, remote first then local
func DeleteInstance(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	if err := GetApp(c).Registry().Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
		}
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete instance", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutInstance logs an instance out of its session
func LogoutInstance(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	if err := GetApp(c).Registry().Logout(c.Request().Context(), id); err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
		}
		return fail(c, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to logout instance", err.Error())
	}
	return ok(c, map[string]interface{}{"status": domain.InstanceDisconnected})
}

// RestartInstance restarts an instance; it must pair again afterwards
func RestartInstance(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	a := GetApp(c)
	if err := a.Registry().Restart(c.Request().Context(), id); err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
		}
		return fail(c, http.StatusInternalServerError, "RESTART_FAILED", "Failed to restart instance", err.Error())
	}
	a.Reconciler().Kick()
	return ok(c, map[string]interface{}{"status": domain.InstanceConnecting})
}

// GetInstanceQR returns a pairing QR payload. Pass force=true to discard any
// cached payload and mint a fresh one.
func GetInstanceQR(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	a := GetApp(c)
	ctx := c.Request().Context()
	inst, err := a.Registry().Get(ctx, id)
	if err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	}

	force := cast.ToBool(c.QueryParam("force"))
	payload, err := a.Pairing().FetchQR(ctx, inst.Name, force)
	if err != nil {
		return fail(c, http.StatusBadGateway, "QR_FAILED", "Failed to fetch QR code", err.Error())
	}
	a.Reconciler().Kick()
	return ok(c, payload)
}

// GetInstancePairCode returns a phone pairing code
func GetInstancePairCode(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}

	var payload struct {
		Phone string `json:"phone" validate:"required,min=5,max=20"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	a := GetApp(c)
	ctx := c.Request().Context()
	inst, err := a.Registry().Get(ctx, id)
	if err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	}

	code, err := a.Pairing().FetchPairCode(ctx, inst.Name, payload.Phone)
	if err != nil {
		return fail(c, http.StatusBadGateway, "PAIRCODE_FAILED", "Failed to fetch pairing code", err.Error())
	}
	a.Reconciler().Kick()
	return ok(c, map[string]interface{}{"pair_code": code})
}

// GetInstanceProxy reports the egress the gateway currently uses for the
// instance
func GetInstanceProxy(c echo.Context) error {
	id, err := instanceID(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	a := GetApp(c)
	ctx := c.Request().Context()
	inst, err := a.Registry().Get(ctx, id)
	if err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	}
	info, err := a.ProxyValidator().InstanceEgress(ctx, inst.Name)
	if err != nil {
		return fail(c, http.StatusBadGateway, "PROXY_INFO_FAILED", "Failed to fetch proxy info", err.Error())
	}
	return ok(c, info)
}

// TestProxy validates and probes a proxy string without touching any
// instance
func TestProxy(c echo.Context) error {
	var payload struct {
		Proxy string `json:"proxy" validate:"required,max=500"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	info, err := GetApp(c).ProxyValidator().Probe(c.Request().Context(), payload.Proxy)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PROXY", "Proxy rejected", err.Error())
	}
	return ok(c, info)
}

// BulkDeleteInstances tears down a set of instances sequentially
func BulkDeleteInstances(c echo.Context) error {
	var payload struct {
		IDs []int64 `json:"ids" validate:"required,min=1"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	result, err := GetApp(c).Teardown().TeardownAll(c.Request().Context(), payload.IDs,
		func(current, total int) {
			zap.L().Debug("bulk teardown progress",
				zap.Int("current", current), zap.Int("total", total))
		})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TEARDOWN_FAILED", "Bulk teardown interrupted", err.Error())
	}
	return ok(c, result)
}

// RunRetentionCleanup deletes instances past the retention window
func RunRetentionCleanup(c echo.Context) error {
	a := GetApp(c)
	days := cast.ToInt(c.QueryParam("days"))
	if days <= 0 {
		days = a.Config().Gateway.RetentionDays
	}
	result, err := a.Teardown().TeardownExpired(c.Request().Context(), days)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "CLEANUP_FAILED", "Retention cleanup failed", err.Error())
	}
	return ok(c, result)
}

// RunOrphanScan removes remote instances with no local record
func RunOrphanScan(c echo.Context) error {
	report, err := GetApp(c).OrphanScanner().Scan(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusBadGateway, "SCAN_FAILED", "Orphan scan failed", err.Error())
	}
	return ok(c, report)
}

// RunRemoteOrphanCleanup asks the gateway to clean its own orphans instead
// of diffing against the local registry
func RunRemoteOrphanCleanup(c echo.Context) error {
	result, err := GetApp(c).OrphanScanner().RemoteCleanup(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusBadGateway, "CLEANUP_FAILED", "Remote orphan cleanup failed", err.Error())
	}
	return ok(c, result)
}

// RunPhoneSync backfills phone numbers from the remote gateway
func RunPhoneSync(c echo.Context) error {
	a := GetApp(c)
	ctx := c.Request().Context()
	phones, err := a.Gateway().SyncPhoneNumbers(ctx)
	if err != nil {
		return fail(c, http.StatusBadGateway, "SYNC_FAILED", "Phone sync failed", err.Error())
	}

	updated := 0
	for name, phone := range phones {
		if phone == "" {
			continue
		}
		inst, err := a.Registry().GetByName(ctx, name)
		if err != nil || inst.PhoneNumber == phone {
			continue
		}
		if err := a.Registry().UpdatePhoneNumber(ctx, inst.ID, phone); err == nil {
			updated++
		}
	}
	return ok(c, map[string]interface{}{
		"remote":  len(phones),
		"updated": updated,
	})
}

// RunWebhookSweep pushes the expected webhook config to every connected
// instance immediately
func RunWebhookSweep(c echo.Context) error {
	if err := GetApp(c).WebhookEnforcer().EnforceAll(c.Request().Context()); err != nil {
		return fail(c, http.StatusInternalServerError, "SWEEP_FAILED", "Webhook sweep failed", err.Error())
	}
	return ok(c, map[string]interface{}{"swept": true})
}
