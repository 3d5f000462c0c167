package instance

import (
	"context"
	"sync"

	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
)

// fakeGateway is a configurable in-memory gateway.API implementation.
type fakeGateway struct {
	mu sync.Mutex

	createFn    func(req gateway.CreateRequest) (*gateway.CreateResult, error)
	statusFn    func(name string) (*gateway.StatusDescriptor, error)
	qrFn        func(name string, forceNew bool) (*gateway.PairingPayload, error)
	pairCodeFn  func(name, phone string) (string, error)
	listFn      func() ([]gateway.RemoteInstance, error)
	deleteFn    func(name string) error
	logoutFn    func(name string) error
	restartFn   func(name string) error
	webhookFn   func(name string, cfg gateway.WebhookConfig) error
	probeFn     func(proxy *domain.ProxyDescriptor) (*gateway.ProxyInfo, error)
	proxyInfoFn func(name string) (*gateway.ProxyInfo, error)

	statusCalls  int
	qrCalls      int
	deleteCalls  []string
	logoutCalls  []string
	restartCalls []string
	webhookCalls []string
}

var _ gateway.API = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (f *fakeGateway) CreateInstance(ctx context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(req)
	}
	return &gateway.CreateResult{
		Name:    req.Name,
		Status:  "created",
		Pairing: &gateway.PairingPayload{Base64: "data:image/png;base64,FAKE"},
	}, nil
}

func (f *fakeGateway) FetchQRCode(ctx context.Context, name string, forceNew bool) (*gateway.PairingPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrCalls++
	if f.qrFn != nil {
		return f.qrFn(name, forceNew)
	}
	return &gateway.PairingPayload{Base64: "data:image/png;base64,FAKE"}, nil
}

func (f *fakeGateway) FetchPairCode(ctx context.Context, name, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairCodeFn != nil {
		return f.pairCodeFn(name, phone)
	}
	return "FAKE1234", nil
}

func (f *fakeGateway) CheckStatus(ctx context.Context, name string) (*gateway.StatusDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn(name)
	}
	return &gateway.StatusDescriptor{State: gateway.StateConnecting}, nil
}

func (f *fakeGateway) Logout(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, name)
	if f.logoutFn != nil {
		return f.logoutFn(name)
	}
	return nil
}

func (f *fakeGateway) Restart(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls = append(f.restartCalls, name)
	if f.restartFn != nil {
		return f.restartFn(name)
	}
	return nil
}

func (f *fakeGateway) DeleteInstance(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, name)
	if f.deleteFn != nil {
		return f.deleteFn(name)
	}
	return nil
}

func (f *fakeGateway) ListInstances(ctx context.Context) ([]gateway.RemoteInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFn != nil {
		return f.listFn()
	}
	return nil, nil
}

func (f *fakeGateway) SyncPhoneNumbers(ctx context.Context) (map[string]string, error) {
	list, err := f.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	phones := make(map[string]string)
	for _, ri := range list {
		if ri.PhoneNumber != "" {
			phones[ri.Name] = ri.PhoneNumber
		}
	}
	return phones, nil
}

func (f *fakeGateway) InstanceProxyInfo(ctx context.Context, name string) (*gateway.ProxyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proxyInfoFn != nil {
		return f.proxyInfoFn(name)
	}
	return &gateway.ProxyInfo{Valid: true, IP: "198.51.100.7"}, nil
}

func (f *fakeGateway) ProbeProxy(ctx context.Context, proxy *domain.ProxyDescriptor) (*gateway.ProxyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeFn != nil {
		return f.probeFn(proxy)
	}
	return &gateway.ProxyInfo{Valid: true, IP: "198.51.100.7", LatencyMs: 30}, nil
}

func (f *fakeGateway) ConfigureWebhook(ctx context.Context, name string, cfg gateway.WebhookConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookCalls = append(f.webhookCalls, name)
	if f.webhookFn != nil {
		return f.webhookFn(name, cfg)
	}
	return nil
}

func (f *fakeGateway) CleanupRemoteOrphans(ctx context.Context) (*gateway.OrphanCleanupResult, error) {
	return &gateway.OrphanCleanupResult{}, nil
}

func (f *fakeGateway) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleteCalls...)
}

func (f *fakeGateway) webhooked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.webhookCalls...)
}
