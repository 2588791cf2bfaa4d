package tedapi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gatewatch/gatewatch/pkg/common"
	"github.com/gatewatch/gatewatch/pkg/log"
	"github.com/gatewatch/gatewatch/pkg/types"
)

// signatureSkew is how far into the future each signature is stamped valid.
// Long enough to survive clock drift and the request round trip, short
// enough that a captured message is useless almost immediately.
const signatureSkew = 12 * time.Second

// signedLoginUser is the account role used for the local login endpoint.
const signedLoginUser = "customer"

// SignedTransport speaks to the gateway over the wired LAN. Requests carry
// a bearer token from the local login endpoint and are wrapped in an
// RSA-signed outer message; the signing key must have been registered with
// the gateway out of band.
type SignedTransport struct {
	client   *http.Client
	baseURL  string
	email    string
	password string
	key      *rsa.PrivateKey
	pubDER   []byte

	mu    sync.Mutex
	token string
	din   types.DIN
}

// NewSignedTransport builds a transport for the gateway at host. It loads
// and parses the RSA key immediately; a missing or malformed key file is a
// construction-time hard error, per the error-handling policy.
func NewSignedTransport(host string, creds types.Credentials) (*SignedTransport, error) {
	if creds.CustomerEmail == "" || creds.CustomerPassword == "" {
		return nil, fmt.Errorf("tedapi: wired transport requires the customer login")
	}
	key, err := loadRSAKey(creds.RSAKeyPath)
	if err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tedapi: encoding public key: %w", err)
	}
	return &SignedTransport{
		client:   common.GatewayHTTPClient(defaultHTTPTimeout),
		baseURL:  "https://" + host,
		email:    creds.CustomerEmail,
		password: creds.CustomerPassword,
		key:      key,
		pubDER:   pubDER,
	}, nil
}

func loadRSAKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("tedapi: wired transport requires an RSA key path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tedapi: reading RSA key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("tedapi: %s is not PEM encoded", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("tedapi: parsing RSA key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("tedapi: %s does not contain an RSA key", path)
	}
	return key, nil
}

type loginRequest struct {
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	Email      string          `json:"email"`
	ClientInfo loginClientInfo `json:"clientInfo"`
}

type loginClientInfo struct {
	Timezone string `json:"timezone"`
}

type loginResult struct {
	Token string `json:"token"`
}

func (t *SignedTransport) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		Username:   signedLoginUser,
		Password:   t.password,
		Email:      t.email,
		ClientInfo: loginClientInfo{Timezone: time.Local.String()},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpointLogin, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("tedapi: login failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: login status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tedapi: login failed: status %d", resp.StatusCode)
	}
	var res loginResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("tedapi: decoding login response: %w", err)
	}
	if res.Token == "" {
		return fmt.Errorf("tedapi: login returned no token")
	}
	t.mu.Lock()
	t.token = res.Token
	t.mu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "logged in to gateway")
	return nil
}

// Connect logs in and fetches the gateway's DIN.
func (t *SignedTransport) Connect(ctx context.Context) (types.DIN, error) {
	if err := t.login(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+endpointDin, nil)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+t.token)
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tedapi: din request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tedapi: din request failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	din := types.DIN(strings.TrimSpace(string(body)))
	if !din.Valid() {
		return "", fmt.Errorf("tedapi: gateway returned malformed din %q", din)
	}
	t.mu.Lock()
	t.din = din
	t.mu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "connected to gateway", slog.String("din", din.String()))
	return din, nil
}

// NewGeneration is always true for the wired transport; only
// newer-generation hardware accepts signed LAN requests.
func (t *SignedTransport) NewGeneration() bool { return true }

// signedPayload lays out the TLV byte string that gets signed: signature
// type, domain, DIN, big-endian expiry, the 0xFF terminator, then the raw
// inner envelope bytes.
func signedPayload(din types.DIN, expiresAt uint32, inner []byte) []byte {
	d := din.String()
	b := make([]byte, 0, 16+len(d)+len(inner))
	b = append(b, tagSignatureType, 1, signatureTypeRSA)
	b = append(b, tagDomain, 1, domainEnergyDevice)
	b = append(b, tagPersonalization, byte(len(d)))
	b = append(b, d...)
	b = append(b, tagExpiresAt, 4)
	b = binary.BigEndian.AppendUint32(b, expiresAt)
	b = append(b, tagTerminator)
	return append(b, inner...)
}

// outerMessage is the routable wrapper around a signed inner envelope.
type outerMessage struct {
	RequestID []byte
	Domain    uint64
	Payload   []byte
	PublicKey []byte
	Signature []byte
	ExpiresAt uint32
	Fault     uint64
}

func (o *outerMessage) marshal() []byte {
	var b []byte
	if len(o.RequestID) > 0 {
		b = appendBytesField(b, outerFieldRequestID, o.RequestID)
	}
	b = appendVarintField(b, outerFieldDomain, o.Domain)
	b = appendBytesField(b, outerFieldPayload, o.Payload)
	var sig []byte
	sig = appendBytesField(sig, sigFieldPublicKey, o.PublicKey)
	sig = appendBytesField(sig, sigFieldSignature, o.Signature)
	sig = appendVarintField(sig, sigFieldExpiresAt, uint64(o.ExpiresAt))
	b = appendSubmessage(b, outerFieldSignature, sig)
	return b
}

func parseOuterMessage(b []byte) (*outerMessage, error) {
	o := &outerMessage{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == outerFieldRequestID && typ == protowire.BytesType:
			o.RequestID = append([]byte(nil), s.bytes()...)
		case num == outerFieldDomain && typ == protowire.VarintType:
			o.Domain = s.varint()
		case num == outerFieldPayload && typ == protowire.BytesType:
			o.Payload = append([]byte(nil), s.bytes()...)
		case num == outerFieldSignature && typ == protowire.BytesType:
			sig := &fieldScanner{buf: s.bytes()}
			for {
				snum, styp, ok := sig.next()
				if !ok {
					break
				}
				switch {
				case snum == sigFieldPublicKey && styp == protowire.BytesType:
					o.PublicKey = append([]byte(nil), sig.bytes()...)
				case snum == sigFieldSignature && styp == protowire.BytesType:
					o.Signature = append([]byte(nil), sig.bytes()...)
				case snum == sigFieldExpiresAt && styp == protowire.VarintType:
					o.ExpiresAt = uint32(sig.varint())
				default:
					sig.skip(snum, styp)
				}
			}
			if sig.err != nil {
				return nil, fmt.Errorf("tedapi: malformed signature block: %w", sig.err)
			}
		case num == outerFieldFault && typ == protowire.VarintType:
			o.Fault = s.varint()
		default:
			s.skip(num, typ)
		}
	}
	if s.err != nil {
		return nil, fmt.Errorf("tedapi: malformed outer message: %w", s.err)
	}
	return o, nil
}

// Do signs and sends the query over the wired LAN. A 401/403 triggers one
// re-login and one retry; a second rejection fails the call.
func (t *SignedTransport) Do(ctx context.Context, kind QueryKind, scope types.DIN) (*Envelope, error) {
	t.mu.Lock()
	din := t.din
	t.mu.Unlock()
	if !din.Valid() {
		return nil, fmt.Errorf("tedapi: not connected")
	}

	env, err := buildRequest(kind, din, scope, true)
	if err != nil {
		return nil, err
	}
	inner := env.Marshal()

	expiresAt := uint32(time.Now().Add(signatureSkew).Unix())
	digest := sha512.Sum512(signedPayload(din, expiresAt, inner))
	sig, err := rsa.SignPKCS1v15(rand.Reader, t.key, crypto.SHA512, digest[:])
	if err != nil {
		return nil, fmt.Errorf("tedapi: signing request: %w", err)
	}

	id := uuid.New()
	outer := (&outerMessage{
		RequestID: id[:],
		Domain:    domainEnergyDevice,
		Payload:   inner,
		PublicKey: t.pubDER,
		Signature: sig,
		ExpiresAt: expiresAt,
	}).marshal()

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpointV1Routed, bytes.NewReader(outer))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", signedContentType)
		t.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+t.token)
		t.mu.Unlock()

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tedapi: %s request failed: %w", kind, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if attempt == 0 {
				log.Ctx(ctx).DebugContext(ctx, "gateway token expired, logging in again")
				if err := t.login(ctx); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("%w: status %d after re-login", ErrAuth, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("tedapi: request failed: status %d", resp.StatusCode)
		}
		if readErr != nil {
			return nil, readErr
		}
		return t.parseResponse(ctx, kind, body)
	}
	// unreachable; the loop either returns or retries once
	return nil, fmt.Errorf("%w: retries exhausted", ErrAuth)
}

func (t *SignedTransport) parseResponse(ctx context.Context, kind QueryKind, body []byte) (*Envelope, error) {
	outer, err := parseOuterMessage(body)
	if err != nil {
		return nil, err
	}
	switch outer.Fault {
	case faultNone:
		return UnmarshalEnvelope(outer.Payload)
	case faultUnknownKeyID:
		return nil, fmt.Errorf("%w (query %s)", ErrKeyNotRegistered, kind)
	case faultTimeout:
		return nil, fmt.Errorf("%w (query %s)", ErrRouteTimeout, kind)
	default:
		log.Ctx(ctx).WarnContext(ctx, "gateway returned fault",
			slog.Uint64("fault", outer.Fault), slog.String("query", kind.String()))
		return nil, fmt.Errorf("tedapi: gateway fault %d (query %s)", outer.Fault, kind)
	}
}
