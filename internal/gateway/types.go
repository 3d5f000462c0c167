package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/talkincode/wafleet/internal/domain"
)

// Connection states reported by the remote gateway after normalization.
const (
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateUnknown    = "unknown"
)

// Error is a typed remote failure carrying the action and HTTP status.
type Error struct {
	Action     string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed: status=%d %s", e.Action, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a remote 404/410 style failure. Delete,
// logout and webhook upserts treat these as success (idempotent teardown).
func IsNotFound(err error) bool {
	ge, ok := err.(*Error)
	return ok && (ge.StatusCode == 404 || ge.StatusCode == 410)
}

// CreateRequest is the payload for create-instance.
type CreateRequest struct {
	Name  string
	Proxy *domain.ProxyDescriptor
	// QRCode asks the gateway to begin pairing immediately and return a
	// pairing payload in the create response.
	QRCode bool
}

// PairingPayload is the canonical pairing handshake payload. The remote may
// ship the QR image under several field names; normalization flattens them.
type PairingPayload struct {
	Base64    string `json:"base64"`    // QR image, data-url or raw base64
	Code      string `json:"code"`      // raw QR text, renderable client side
	PairCode  string `json:"pair_code"` // numeric/alnum phone pairing code
	Connected bool   `json:"connected"` // remote says the session is already open
}

// CreateResult is the normalized create-instance response.
type CreateResult struct {
	Name    string
	Status  string
	Pairing *PairingPayload // nil when the gateway did not start pairing
}

// StatusDescriptor is the normalized check-status response.
type StatusDescriptor struct {
	State       string // StateConnecting, StateConnected or StateUnknown
	PhoneNumber string
	LastSeen    *time.Time
}

// RemoteInstance is one entry of the remote gateway's instance listing.
type RemoteInstance struct {
	Name        string
	Status      string
	PhoneNumber string
}

// ProxyInfo is the result of an egress probe executed by the gateway runtime.
type ProxyInfo struct {
	Valid     bool   `json:"valid"`
	IP        string `json:"ip"`
	Location  string `json:"location"`
	LatencyMs int    `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// WebhookConfig is the expected webhook configuration pushed to every
// connected instance.
type WebhookConfig struct {
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Enabled bool     `json:"enabled"`
}

// OrphanCleanupResult is returned by the gateway's own orphan cleanup action.
// Started=true means the gateway acknowledged and completes asynchronously.
type OrphanCleanupResult struct {
	OrphanedFound int  `json:"orphaned_found"`
	Deleted       int  `json:"deleted"`
	Failed        int  `json:"failed"`
	Started       bool `json:"started"`
}

// API is the typed façade over the remote gateway's actions. All methods are
// safe to call concurrently. Logout, Restart, DeleteInstance and
// ConfigureWebhook are idempotent: an already-gone remote is success.
type API interface {
	CreateInstance(ctx context.Context, req CreateRequest) (*CreateResult, error)
	FetchQRCode(ctx context.Context, name string, forceNew bool) (*PairingPayload, error)
	FetchPairCode(ctx context.Context, name, phone string) (string, error)
	CheckStatus(ctx context.Context, name string) (*StatusDescriptor, error)
	Logout(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	ListInstances(ctx context.Context) ([]RemoteInstance, error)
	SyncPhoneNumbers(ctx context.Context) (map[string]string, error)
	InstanceProxyInfo(ctx context.Context, name string) (*ProxyInfo, error)
	ProbeProxy(ctx context.Context, proxy *domain.ProxyDescriptor) (*ProxyInfo, error)
	ConfigureWebhook(ctx context.Context, name string, cfg WebhookConfig) error
	CleanupRemoteOrphans(ctx context.Context) (*OrphanCleanupResult, error)
}
