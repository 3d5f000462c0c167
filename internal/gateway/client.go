package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/wafleet/config"
	"github.com/talkincode/wafleet/internal/domain"
	"go.uber.org/zap"
)

// Client is the HTTP implementation of the API façade.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

var _ API = (*Client)(nil)

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.ApiKey,
		timeout: timeout,
	}
}

// request executes one gateway call and returns the HTTP status and raw body.
// Transport failures come back wrapped; HTTP-level failures are left to the
// caller so idempotent actions can normalize 404/410 to success.
func (c *Client) request(ctx context.Context, method, path string, query gout.H, body interface{}) (int, []byte, error) {
	url := c.baseURL + path

	var df *dataflow.DataFlow
	switch method {
	case http.MethodGet:
		df = gout.GET(url)
	case http.MethodPut:
		df = gout.PUT(url)
	case http.MethodDelete:
		df = gout.DELETE(url)
	default:
		df = gout.POST(url)
	}

	df = df.WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(gout.H{"apikey": c.apiKey})
	if query != nil {
		df = df.SetQuery(query)
	}
	if body != nil {
		df = df.SetJSON(body)
	}

	var (
		code int
		raw  []byte
	)
	if err := df.Code(&code).BindBody(&raw).Do(); err != nil {
		return 0, nil, errors.Wrapf(err, "gateway %s %s", method, path)
	}
	return code, raw, nil
}

func (c *Client) fail(action string, code int, raw []byte) error {
	msg := firstString(decodeMap(raw), "message", "error", "response.message")
	return &Error{Action: action, StatusCode: code, Message: msg}
}

func (c *Client) CreateInstance(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	payload := gout.H{
		"instanceName": req.Name,
		"qrcode":       req.QRCode,
	}
	if req.Proxy != nil {
		payload["proxy"] = req.Proxy.String()
	}
	code, raw, err := c.request(ctx, http.MethodPost, "/instance/create", nil, payload)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("create-instance", code, raw)
	}

	m := decodeMap(raw)
	res := &CreateResult{
		Name:   req.Name,
		Status: strings.ToLower(firstString(m, "instance.status", "status", "state")),
	}
	pairing := NormalizeQR(raw)
	if pairing.Base64 != "" || pairing.Code != "" || pairing.Connected {
		res.Pairing = pairing
	}
	return res, nil
}

func (c *Client) FetchQRCode(ctx context.Context, name string, forceNew bool) (*PairingPayload, error) {
	query := gout.H{}
	if forceNew {
		// the remote keeps its own QR cache; without this flag it may serve a
		// stale image the paired device silently rejects
		query["force"] = "true"
	}
	code, raw, err := c.request(ctx, http.MethodGet, "/instance/connect/"+name, query, nil)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("get-qrcode", code, raw)
	}
	return NormalizeQR(raw), nil
}

func (c *Client) FetchPairCode(ctx context.Context, name, phone string) (string, error) {
	query := gout.H{"number": phone}
	code, raw, err := c.request(ctx, http.MethodGet, "/instance/connect/"+name, query, nil)
	if err != nil {
		return "", err
	}
	if code >= 300 {
		return "", c.fail("get-pair-code", code, raw)
	}
	pair := NormalizePairCode(raw)
	if pair == "" {
		return "", &Error{Action: "get-pair-code", StatusCode: code, Message: "no pairing code in response"}
	}
	return pair, nil
}

func (c *Client) CheckStatus(ctx context.Context, name string) (*StatusDescriptor, error) {
	code, raw, err := c.request(ctx, http.MethodGet, "/instance/connectionState/"+name, nil, nil)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("check-status", code, raw)
	}
	return NormalizeStatus(raw), nil
}

func (c *Client) Logout(ctx context.Context, name string) error {
	code, raw, err := c.request(ctx, http.MethodDelete, "/instance/logout/"+name, nil, nil)
	if err != nil {
		return err
	}
	if code >= 300 {
		ferr := c.fail("logout-instance", code, raw)
		if IsNotFound(ferr) {
			// already gone on the remote side counts as logged out
			zap.L().Debug("gateway: logout on missing instance treated as success",
				zap.String("instance", name))
			return nil
		}
		return ferr
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, name string) error {
	code, raw, err := c.request(ctx, http.MethodPut, "/instance/restart/"+name, nil, nil)
	if err != nil {
		return err
	}
	if code >= 300 {
		return c.fail("restart-instance", code, raw)
	}
	return nil
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	code, raw, err := c.request(ctx, http.MethodDelete, "/instance/delete/"+name, nil, nil)
	if err != nil {
		return err
	}
	if code >= 300 {
		ferr := c.fail("delete-instance", code, raw)
		if IsNotFound(ferr) {
			zap.L().Debug("gateway: delete on missing instance treated as success",
				zap.String("instance", name))
			return nil
		}
		return ferr
	}
	return nil
}

func (c *Client) ListInstances(ctx context.Context) ([]RemoteInstance, error) {
	code, raw, err := c.request(ctx, http.MethodGet, "/instance/fetchInstances", nil, nil)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("list-instances", code, raw)
	}

	// the listing arrives either as a bare array or under an "instances" key,
	// each entry possibly wrapped in an "instance" envelope
	var entries []map[string]interface{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		wrapper := struct {
			Instances []map[string]interface{} `json:"instances"`
		}{}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, errors.Wrap(err, "decode instance listing")
		}
		entries = wrapper.Instances
	}

	out := make([]RemoteInstance, 0, len(entries))
	for _, e := range entries {
		name := firstString(e, "instanceName", "name", "instance.instanceName", "instance.name")
		if name == "" {
			continue
		}
		out = append(out, RemoteInstance{
			Name:        name,
			Status:      strings.ToLower(firstString(e, "status", "state", "instance.status")),
			PhoneNumber: normalizePhone(firstString(e, "phoneNumber", "owner", "instance.owner")),
		})
	}
	return out, nil
}

func (c *Client) SyncPhoneNumbers(ctx context.Context) (map[string]string, error) {
	instances, err := c.ListInstances(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "sync-phone-numbers")
	}
	phones := make(map[string]string, len(instances))
	for _, ri := range instances {
		if ri.PhoneNumber != "" {
			phones[ri.Name] = ri.PhoneNumber
		}
	}
	return phones, nil
}

func (c *Client) InstanceProxyInfo(ctx context.Context, name string) (*ProxyInfo, error) {
	code, raw, err := c.request(ctx, http.MethodGet, "/instance/proxy/"+name, nil, nil)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("get-instance-proxy", code, raw)
	}
	return decodeProxyInfo(raw), nil
}

func (c *Client) ProbeProxy(ctx context.Context, proxy *domain.ProxyDescriptor) (*ProxyInfo, error) {
	code, raw, err := c.request(ctx, http.MethodPost, "/proxy/check", nil, gout.H{
		"proxy": proxy.String(),
	})
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("proxy-check", code, raw)
	}
	return decodeProxyInfo(raw), nil
}

func decodeProxyInfo(raw []byte) *ProxyInfo {
	m := decodeMap(raw)
	valid, hasValid := firstBool(m, "valid", "ok", "reachable")
	info := &ProxyInfo{
		Valid:    valid,
		IP:       firstString(m, "ip", "egress_ip", "address"),
		Location: firstString(m, "location", "country", "geo"),
		Error:    firstString(m, "error", "message"),
	}
	if v, ok := lookup(m, "latencyMs"); ok {
		info.LatencyMs = int(cast.ToInt64(v))
	} else if v, ok := lookup(m, "latency_ms"); ok {
		info.LatencyMs = int(cast.ToInt64(v))
	} else if v, ok := lookup(m, "latency"); ok {
		info.LatencyMs = int(cast.ToInt64(v))
	}
	if !hasValid {
		info.Valid = info.IP != "" && info.Error == ""
	}
	return info
}

func (c *Client) ConfigureWebhook(ctx context.Context, name string, cfg WebhookConfig) error {
	code, raw, err := c.request(ctx, http.MethodPost, "/webhook/set/"+name, nil, gout.H{
		"url":     cfg.URL,
		"events":  cfg.Events,
		"enabled": cfg.Enabled,
	})
	if err != nil {
		return err
	}
	if code >= 300 {
		ferr := c.fail("configure-webhook", code, raw)
		if IsNotFound(ferr) {
			return nil
		}
		return ferr
	}
	return nil
}

func (c *Client) CleanupRemoteOrphans(ctx context.Context) (*OrphanCleanupResult, error) {
	code, raw, err := c.request(ctx, http.MethodPost, "/admin/cleanup-orphaned-instances", nil, nil)
	if err != nil {
		return nil, err
	}
	if code >= 300 {
		return nil, c.fail("admin-cleanup-orphaned-instances", code, raw)
	}
	m := decodeMap(raw)
	if strings.EqualFold(firstString(m, "status"), "started") {
		return &OrphanCleanupResult{Started: true}, nil
	}
	res := &OrphanCleanupResult{}
	if v, ok := lookup(m, "orphanedFound"); ok {
		res.OrphanedFound = int(cast.ToInt64(v))
	}
	if v, ok := lookup(m, "deleted"); ok {
		res.Deleted = int(cast.ToInt64(v))
	}
	if v, ok := lookup(m, "failed"); ok {
		res.Failed = int(cast.ToInt64(v))
	}
	return res, nil
}

// String describes the client target for startup logging.
func (c *Client) String() string {
	return fmt.Sprintf("gateway[%s]", c.baseURL)
}
