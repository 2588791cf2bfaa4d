package tedapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gatewatch/gatewatch/pkg/common"
	"github.com/gatewatch/gatewatch/pkg/log"
	"github.com/gatewatch/gatewatch/pkg/types"
)

// legacyUser is the fixed service-account name the gateway expects for
// basic auth on the access point; the password is the gateway's WiFi
// password.
const legacyUser = "Tesla_Energy_Device"

// LegacyTransport speaks to the gateway over its WiFi access point using
// HTTP basic auth.
type LegacyTransport struct {
	client   *http.Client
	baseURL  string
	password string

	mu     sync.Mutex
	din    types.DIN
	newGen bool
}

// NewLegacyTransport builds a transport for the access point at host
// (usually the fixed AP address).
func NewLegacyTransport(host string, creds types.Credentials) *LegacyTransport {
	return &LegacyTransport{
		client:   common.GatewayHTTPClient(defaultHTTPTimeout),
		baseURL:  "https://" + host,
		password: creds.GatewayPassword,
	}
}

// Connect probes the gateway and fetches its DIN. A non-200 answer to the
// bare-host probe marks the gateway as newer-generation hardware; only a
// transport-level failure is fatal.
func (t *LegacyTransport) Connect(ctx context.Context) (types.DIN, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tedapi: gateway unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.mu.Lock()
		t.newGen = true
		t.mu.Unlock()
		log.Ctx(ctx).DebugContext(ctx, "probe refused, assuming newer-generation hardware",
			slog.Int("status", resp.StatusCode))
	}

	din, err := t.fetchDin(ctx)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.din = din
	t.mu.Unlock()
	return din, nil
}

// NewGeneration reports the generation flag set by Connect.
func (t *LegacyTransport) NewGeneration() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newGen
}

func (t *LegacyTransport) fetchDin(ctx context.Context) (types.DIN, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+endpointDin, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(legacyUser, t.password)
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tedapi: din request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkLegacyStatus(resp.StatusCode); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	din := types.DIN(strings.TrimSpace(string(body)))
	if !din.Valid() {
		return "", fmt.Errorf("tedapi: gateway returned malformed din %q", din)
	}
	log.Ctx(ctx).DebugContext(ctx, "connected to gateway", slog.String("din", din.String()))
	return din, nil
}

// Do posts the query envelope to the access point.
func (t *LegacyTransport) Do(ctx context.Context, kind QueryKind, scope types.DIN) (*Envelope, error) {
	t.mu.Lock()
	din := t.din
	t.mu.Unlock()
	if !din.Valid() {
		return nil, fmt.Errorf("tedapi: not connected")
	}

	env, err := buildRequest(kind, din, scope, false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpointV1, bytes.NewReader(env.Marshal()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", legacyContentType)
	req.SetBasicAuth(legacyUser, t.password)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tedapi: %s request failed: %w", kind, err)
	}
	defer resp.Body.Close()
	if err := checkLegacyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%w (query %s)", err, kind)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(body)
}

// checkLegacyStatus maps HTTP status codes onto the error taxonomy: 429 and
// 503 open a cooldown, 403 means bad credentials, anything else non-200 is
// a retryable request failure.
func checkLegacyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, status)
	default:
		return fmt.Errorf("tedapi: request failed: status %d", status)
	}
}
