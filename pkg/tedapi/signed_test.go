package tedapi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewatch/gatewatch/pkg/types"
)

func TestSignedPayloadLayout(t *testing.T) {
	inner := []byte{0xAA, 0xBB}
	got := signedPayload("D1", 1000, inner)
	want := []byte{
		0x00, 1, 7, // signature type RSA
		0x01, 1, 7, // energy-device domain
		0x02, 2, 'D', '1',
		0x04, 4, 0x00, 0x00, 0x03, 0xE8, // big-endian 1000
		0xFF,
		0xAA, 0xBB,
	}
	assert.Equal(t, want, got)
}

func TestOuterMessageRoundTrip(t *testing.T) {
	in := &outerMessage{
		RequestID: []byte{1, 2, 3, 4},
		Domain:    domainEnergyDevice,
		Payload:   []byte{0xAA},
		PublicKey: []byte{0xBB},
		Signature: []byte{0xCC},
		ExpiresAt: 1234,
	}
	out, err := parseOuterMessage(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func writeTestKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "gateway.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))
	return path, key
}

func TestNewSignedTransport(t *testing.T) {
	keyPath, _ := writeTestKey(t)

	t.Run("ok", func(t *testing.T) {
		_, err := NewSignedTransport("gw.local", types.Credentials{
			CustomerEmail:    "owner@example.com",
			CustomerPassword: "secret",
			RSAKeyPath:       keyPath,
		})
		assert.NoError(t, err)
	})

	t.Run("missing login", func(t *testing.T) {
		_, err := NewSignedTransport("gw.local", types.Credentials{RSAKeyPath: keyPath})
		assert.Error(t, err)
	})

	t.Run("missing key path", func(t *testing.T) {
		_, err := NewSignedTransport("gw.local", types.Credentials{
			CustomerEmail:    "owner@example.com",
			CustomerPassword: "secret",
		})
		assert.Error(t, err)
	})

	t.Run("not pem", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0o600))
		_, err := NewSignedTransport("gw.local", types.Credentials{
			CustomerEmail:    "owner@example.com",
			CustomerPassword: "secret",
			RSAKeyPath:       bad,
		})
		assert.Error(t, err)
	})
}

// signedGateway is a mock wired-LAN gateway that verifies signatures the
// way the real firmware does.
type signedGateway struct {
	t *testing.T

	mu         sync.Mutex
	logins     int
	validToken string
	fault      uint64
	din        string
}

func (g *signedGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case endpointLogin:
			var req loginRequest
			require.NoError(g.t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(g.t, signedLoginUser, req.Username)
			g.mu.Lock()
			g.logins++
			g.validToken = "tok-" + strings.Repeat("x", g.logins)
			token := g.validToken
			g.mu.Unlock()
			json.NewEncoder(w).Encode(loginResult{Token: token})
		case endpointDin:
			if !g.authorized(r) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			io.WriteString(w, g.din)
		case endpointV1Routed:
			if !g.authorized(r) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			g.serveRouted(w, r)
		default:
			g.t.Errorf("unexpected request to %s", r.URL.Path)
		}
	})
}

func (g *signedGateway) authorized(r *http.Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+g.validToken
}

func (g *signedGateway) serveRouted(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(g.t, err)
	outer, err := parseOuterMessage(body)
	require.NoError(g.t, err)
	require.NotEmpty(g.t, outer.RequestID)

	pub, err := x509.ParsePKIXPublicKey(outer.PublicKey)
	require.NoError(g.t, err)
	digest := sha512.Sum512(signedPayload(types.DIN(g.din), outer.ExpiresAt, outer.Payload))
	require.NoError(g.t, rsa.VerifyPKCS1v15(pub.(*rsa.PublicKey), crypto.SHA512, digest[:], outer.Signature))

	g.mu.Lock()
	fault := g.fault
	g.mu.Unlock()
	reply := &outerMessage{Domain: domainEnergyDevice, Fault: fault}
	if fault == faultNone {
		env := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Din: types.DIN(g.din)},
			Recipient:       Participant{Local: true},
			Query:           &QueryPayload{Reply: `{"control":{}}`},
		}
		reply.Payload = env.Marshal()
	}
	w.Write(reply.marshal())
}

func newSignedTestTransport(t *testing.T) (*SignedTransport, *signedGateway) {
	t.Helper()
	keyPath, _ := writeTestKey(t)
	gw := &signedGateway{t: t, din: "PART--SERIAL"}
	srv := httptest.NewTLSServer(gw.handler())
	t.Cleanup(srv.Close)
	tr, err := NewSignedTransport(strings.TrimPrefix(srv.URL, "https://"), types.Credentials{
		CustomerEmail:    "owner@example.com",
		CustomerPassword: "secret",
		RSAKeyPath:       keyPath,
	})
	require.NoError(t, err)
	return tr, gw
}

func TestSignedConnectAndDo(t *testing.T) {
	tr, gw := newSignedTestTransport(t)

	din, err := tr.Connect(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, "PART--SERIAL", din)
	assert.True(t, tr.NewGeneration())

	env, err := tr.Do(context.Background(), QueryStatus, "")
	require.NoError(t, err)
	reply, ok := env.QueryReply()
	require.True(t, ok)
	assert.Equal(t, `{"control":{}}`, reply)
	assert.Equal(t, 1, gw.logins)
}

func TestSignedDoRetriesLoginOnce(t *testing.T) {
	tr, gw := newSignedTestTransport(t)

	_, err := tr.Connect(context.Background())
	require.NoError(t, err)

	// expire the token server-side; the next request must re-login and retry
	gw.mu.Lock()
	gw.validToken = "revoked"
	gw.mu.Unlock()

	env, err := tr.Do(context.Background(), QueryStatus, "")
	require.NoError(t, err)
	_, ok := env.QueryReply()
	assert.True(t, ok)
	assert.Equal(t, 2, gw.logins)
}

func TestSignedDoFaults(t *testing.T) {
	tests := []struct {
		name    string
		fault   uint64
		wantErr error
	}{
		{"unknown key", faultUnknownKeyID, ErrKeyNotRegistered},
		{"route timeout", faultTimeout, ErrRouteTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, gw := newSignedTestTransport(t)
			_, err := tr.Connect(context.Background())
			require.NoError(t, err)

			gw.mu.Lock()
			gw.fault = tt.fault
			gw.mu.Unlock()

			_, err = tr.Do(context.Background(), QueryStatus, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("other faults are generic errors", func(t *testing.T) {
		tr, gw := newSignedTestTransport(t)
		_, err := tr.Connect(context.Background())
		require.NoError(t, err)

		gw.mu.Lock()
		gw.fault = faultBusy
		gw.mu.Unlock()

		_, err = tr.Do(context.Background(), QueryStatus, "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrKeyNotRegistered)
		assert.NotErrorIs(t, err, ErrRouteTimeout)
	})
}
