package common

import (
	"crypto/tls"
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the library version baked into the build.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "Gatewatch/" + Version(),
		},
		Timeout: timeout,
	}
}

// GatewayHTTPClient returns an http client for talking to the gateway
// itself. The gateway serves HTTPS with a self-signed certificate on a
// private address, so certificate verification is skipped.
func GatewayHTTPClient(timeout time.Duration) *http.Client {
	inner := http.DefaultTransport.(*http.Transport).Clone()
	inner.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{
		Transport: &userAgentTransport{
			transport: inner,
			userAgent: "Gatewatch/" + Version(),
		},
		Timeout: timeout,
	}
}
