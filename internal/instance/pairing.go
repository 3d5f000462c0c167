package instance

import (
	"context"
	"sync"

	"github.com/talkincode/wafleet/internal/gateway"
	"go.uber.org/zap"
)

// PairingCache holds the last-fetched QR payload or pairing code per
// instance name. Entries live only for the process lifetime and are
// explicitly invalidated before every refresh: a stale QR accepted by the
// gateway pairs nothing on the device, silently.
type PairingCache struct {
	mu      sync.RWMutex
	entries map[string]*gateway.PairingPayload
}

func NewPairingCache() *PairingCache {
	return &PairingCache{entries: make(map[string]*gateway.PairingPayload)}
}

func (c *PairingCache) Get(name string) (*gateway.PairingPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[name]
	return p, ok
}

func (c *PairingCache) Set(name string, payload *gateway.PairingPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = payload
}

func (c *PairingCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// PairingService fronts QR / pair-code fetches with the cache semantics the
// gateway requires.
type PairingService struct {
	cache *PairingCache
	gw    gateway.API
}

func NewPairingService(gw gateway.API) *PairingService {
	return &PairingService{cache: NewPairingCache(), gw: gw}
}

func (s *PairingService) Cache() *PairingCache {
	return s.cache
}

// FetchQR returns a pairing payload for the named instance. Non-forced
// fetches serve a still-valid cached payload as-is: the QR stays scannable
// across UI reloads until it expires or pairing completes. Invalidation
// happens on every fetch that reaches the gateway, and forceNew skips the
// cache entirely and is propagated so the remote does not serve its own
// cached QR either.
func (s *PairingService) FetchQR(ctx context.Context, name string, forceNew bool) (*gateway.PairingPayload, error) {
	if !forceNew {
		if p, ok := s.cache.Get(name); ok && !p.Connected {
			return p, nil
		}
	}

	s.cache.Invalidate(name)
	payload, err := s.gw.FetchQRCode(ctx, name, forceNew)
	if err != nil {
		return nil, err
	}
	if payload.Connected {
		// nothing to pair, drop any lingering payload
		s.cache.Invalidate(name)
		return payload, nil
	}
	s.cache.Set(name, payload)
	zap.L().Debug("pairing payload refreshed",
		zap.String("instance", name), zap.Bool("force_new", forceNew))
	return payload, nil
}

// FetchPairCode requests a phone pairing code. Codes are single-use, so the
// cache entry is always invalidated first and never reused.
func (s *PairingService) FetchPairCode(ctx context.Context, name, phone string) (string, error) {
	s.cache.Invalidate(name)
	code, err := s.gw.FetchPairCode(ctx, name, phone)
	if err != nil {
		return "", err
	}
	s.cache.Set(name, &gateway.PairingPayload{PairCode: code})
	return code, nil
}
