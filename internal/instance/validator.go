package instance

import (
	"context"

	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
)

// ProxyValidator checks proxy reachability through the gateway. It is
// strictly read-only: probing a proxy never changes any instance.
type ProxyValidator struct {
	gw gateway.API
}

func NewProxyValidator(gw gateway.API) *ProxyValidator {
	return &ProxyValidator{gw: gw}
}

// Probe validates the proxy string locally, then asks the gateway to test
// connectivity through it. A malformed string is rejected before any network
// call is made.
func (v *ProxyValidator) Probe(ctx context.Context, proxyString string) (*gateway.ProxyInfo, error) {
	desc, err := domain.ParseProxy(proxyString)
	if err != nil {
		return nil, err
	}
	return v.gw.ProbeProxy(ctx, desc)
}

// InstanceEgress reports the egress address the named instance currently
// uses, as seen by the gateway.
func (v *ProxyValidator) InstanceEgress(ctx context.Context, name string) (*gateway.ProxyInfo, error) {
	return v.gw.InstanceProxyInfo(ctx, name)
}
