package tedapi

import (
	"context"
	"time"

	"github.com/gatewatch/gatewatch/pkg/types"
)

const (
	endpointDin       = "/tedapi/din"
	endpointV1        = "/tedapi/v1"
	endpointV1Routed  = "/tedapi/v1r"
	endpointLogin     = "/api/login/Basic"
	legacyContentType = "application/octet-string"
	signedContentType = "application/octet-stream"

	defaultHTTPTimeout = 30 * time.Second
)

// Transport moves envelopes to and from one gateway. Implementations are
// safe for concurrent use; the request executor additionally guarantees at
// most one in-flight call per operation.
type Transport interface {
	// Connect establishes (or re-establishes) the session and returns
	// the gateway's DIN.
	Connect(ctx context.Context) (types.DIN, error)

	// Do sends the query and returns the parsed response envelope.
	// scope is only used by QueryBatteryComponents.
	Do(ctx context.Context, kind QueryKind, scope types.DIN) (*Envelope, error)

	// NewGeneration reports whether the gateway looks like
	// newer-generation hardware (named-signal telemetry, per-battery
	// component queries).
	NewGeneration() bool
}
