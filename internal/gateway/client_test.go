package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wafleet/config"
	"github.com/talkincode/wafleet/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.GatewayConfig{
		BaseURL: srv.URL,
		ApiKey:  "test-key",
		Timeout: 5,
	})
}

func TestCreateInstanceReturnsPairing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instance/create", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"instance":{"status":"created"},"qrcode":{"base64":"data:image/png;base64,AAAA"}}`))
	})

	res, err := client.CreateInstance(context.Background(), CreateRequest{
		Name:   "billing_01",
		QRCode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "billing_01", res.Name)
	require.NotNil(t, res.Pairing)
	assert.Equal(t, "data:image/png;base64,AAAA", res.Pairing.Base64)
}

func TestCreateInstanceRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"name already in use"}`))
	})

	_, err := client.CreateInstance(context.Background(), CreateRequest{Name: "dup"})
	require.Error(t, err)
	ge, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, ge.StatusCode)
	assert.Contains(t, ge.Message, "name already in use")
}

func TestFetchQRCodeForcePropagated(t *testing.T) {
	var sawForce string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawForce = r.URL.Query().Get("force")
		_, _ = w.Write([]byte(`{"base64":"data:image/png;base64,QQQQ"}`))
	})

	_, err := client.FetchQRCode(context.Background(), "billing_01", true)
	require.NoError(t, err)
	assert.Equal(t, "true", sawForce)

	_, err = client.FetchQRCode(context.Background(), "billing_01", false)
	require.NoError(t, err)
	assert.Empty(t, sawForce)
}

func TestFetchPairCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "628123456789", r.URL.Query().Get("number"))
		_, _ = w.Write([]byte(`{"pairingCode":"WXYZ-1234"}`))
	})

	code, err := client.FetchPairCode(context.Background(), "billing_01", "628123456789")
	require.NoError(t, err)
	assert.Equal(t, "WXYZ1234", code)
}

func TestDeleteInstanceMissingIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"instance not found"}`))
	})

	assert.NoError(t, client.DeleteInstance(context.Background(), "ghost"))
	assert.NoError(t, client.Logout(context.Background(), "ghost"))
	assert.NoError(t, client.ConfigureWebhook(context.Background(), "ghost", WebhookConfig{URL: "https://hook"}))
}

func TestDeleteInstanceServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Error(t, client.DeleteInstance(context.Background(), "billing_01"))
}

func TestListInstancesBareArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"instanceName":"a1","status":"open","owner":"551199@s.whatsapp.net"},
			{"instance":{"name":"a2","status":"close"}}
		]`))
	})

	list, err := client.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].Name)
	assert.Equal(t, "551199", list[0].PhoneNumber)
	assert.Equal(t, "a2", list[1].Name)
}

func TestListInstancesEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instances":[{"name":"b1","state":"connecting"}]}`))
	})

	list, err := client.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b1", list[0].Name)
	assert.Equal(t, "connecting", list[0].Status)
}

func TestSyncPhoneNumbersSkipsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"a1","owner":"628111@s.whatsapp.net"},
			{"name":"a2"}
		]`))
	})

	phones, err := client.SyncPhoneNumbers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a1": "628111"}, phones)
}

func TestProbeProxy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/proxy/check", r.URL.Path)
		_, _ = w.Write([]byte(`{"valid":true,"ip":"1.2.3.4","location":"BR","latencyMs":120}`))
	})

	proxy, err := domain.ParseProxy("socks5://u:p@proxy.example.com:1080")
	require.NoError(t, err)

	info, err := client.ProbeProxy(context.Background(), proxy)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Equal(t, "1.2.3.4", info.IP)
	assert.Equal(t, 120, info.LatencyMs)
}

func TestCleanupRemoteOrphans(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orphanedFound":3,"deleted":2,"failed":1}`))
	})

	res, err := client.CleanupRemoteOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.OrphanedFound)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Started)
}

func TestCleanupRemoteOrphansAsync(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"started"}`))
	})

	res, err := client.CleanupRemoteOrphans(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Started)
}
