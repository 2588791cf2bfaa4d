package tedapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewatch/gatewatch/pkg/types"
)

func newLegacyTestTransport(t *testing.T, handler http.Handler) *LegacyTransport {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	return NewLegacyTransport(strings.TrimPrefix(srv.URL, "https://"), types.Credentials{
		GatewayPassword: "WIFIPASS",
	})
}

func TestLegacyConnect(t *testing.T) {
	t.Run("older hardware", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case endpointDin:
				user, pass, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, legacyUser, user)
				assert.Equal(t, "WIFIPASS", pass)
				io.WriteString(w, "PART--SERIAL\n")
			default:
				t.Errorf("unexpected request to %s", r.URL.Path)
			}
		}))

		din, err := tr.Connect(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, "PART--SERIAL", din)
		assert.False(t, tr.NewGeneration())
	})

	t.Run("newer hardware refuses the probe", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusForbidden)
			case endpointDin:
				io.WriteString(w, "PART--SERIAL")
			}
		}))

		din, err := tr.Connect(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, "PART--SERIAL", din)
		assert.True(t, tr.NewGeneration())
	})

	t.Run("bad password", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == endpointDin {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		_, err := tr.Connect(context.Background())
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("malformed din", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == endpointDin {
				io.WriteString(w, "not a din")
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		_, err := tr.Connect(context.Background())
		assert.Error(t, err)
	})
}

func TestLegacyDo(t *testing.T) {
	t.Run("config round trip", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case endpointDin:
				io.WriteString(w, "PART--SERIAL")
			case endpointV1:
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, legacyContentType, r.Header.Get("Content-Type"))
				_, pass, _ := r.BasicAuth()
				assert.Equal(t, "WIFIPASS", pass)

				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				env, err := UnmarshalEnvelope(body)
				require.NoError(t, err)
				require.NotNil(t, env.Config)
				assert.Equal(t, "config.json", env.Config.Name)

				reply := &Envelope{
					DeliveryChannel: 1,
					Sender:          Participant{Din: "PART--SERIAL"},
					Recipient:       Participant{Local: true},
					Config:          &ConfigPayload{Name: "config.json", Text: `{"vin":"PART--SERIAL"}`},
				}
				w.Write(reply.Marshal())
			}
		}))

		_, err := tr.Connect(context.Background())
		require.NoError(t, err)

		env, err := tr.Do(context.Background(), QueryConfig, "")
		require.NoError(t, err)
		text, ok := env.ConfigText()
		require.True(t, ok)
		assert.Equal(t, `{"vin":"PART--SERIAL"}`, text)
	})

	t.Run("not connected", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected before connect")
		}))
		_, err := tr.Do(context.Background(), QueryStatus, "")
		assert.Error(t, err)
	})

	t.Run("rate limited", func(t *testing.T) {
		statuses := []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}
		for _, status := range statuses {
			tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/":
					w.WriteHeader(http.StatusOK)
				case endpointDin:
					io.WriteString(w, "PART--SERIAL")
				case endpointV1:
					w.WriteHeader(status)
				}
			}))
			_, err := tr.Connect(context.Background())
			require.NoError(t, err)

			_, err = tr.Do(context.Background(), QueryStatus, "")
			assert.ErrorIs(t, err, ErrRateLimited, "status %d", status)
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		tr := newLegacyTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case endpointDin:
				io.WriteString(w, "PART--SERIAL")
			case endpointV1:
				w.WriteHeader(http.StatusForbidden)
			}
		}))
		_, err := tr.Connect(context.Background())
		require.NoError(t, err)

		_, err = tr.Do(context.Background(), QueryStatus, "")
		assert.ErrorIs(t, err, ErrAuth)
	})
}
