package risk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildgate/pkg/platform/circuit"
)

func TestHTTPOracle(t *testing.T) {
	ctx := context.Background()

	t.Run("parses score and forwards address", func(t *testing.T) {
		var gotIP, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotIP = r.URL.Query().Get("ip")
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"score": 42}`))
		}))
		defer srv.Close()

		o, err := NewHTTPOracle(srv.URL+"/v1/score", WithAPIKey("k"))
		require.NoError(t, err)

		score, err := o.Score(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, 42, score)
		assert.Equal(t, "198.51.100.7", gotIP)
		assert.Equal(t, "Bearer k", gotAuth)
	})

	t.Run("slow provider times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		o, err := NewHTTPOracle(srv.URL, WithTimeout(20*time.Millisecond))
		require.NoError(t, err)

		_, err = o.Score(ctx, "198.51.100.7")
		require.Error(t, err)
		assert.Equal(t, ErrorTimeout, CategoryOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, IsRetryable(err))
	})

	t.Run("missing score is bad data", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"risk": 10}`))
		}))
		defer srv.Close()

		o, err := NewHTTPOracle(srv.URL)
		require.NoError(t, err)

		_, err = o.Score(ctx, "198.51.100.7")
		assert.Equal(t, ErrorBadData, CategoryOf(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("rate limiting is categorised", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		o, err := NewHTTPOracle(srv.URL)
		require.NoError(t, err)

		_, err = o.Score(ctx, "198.51.100.7")
		assert.Equal(t, ErrorRateLimited, CategoryOf(err))
	})

	t.Run("breaker opens after repeated outages and fails fast", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		var states []circuit.State
		o, err := NewHTTPOracle(srv.URL,
			WithBreaker(circuit.New("risk-oracle", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
			WithStateChangeHook(func(s circuit.State) { states = append(states, s) }),
		)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = o.Score(ctx, "198.51.100.7")
			assert.Equal(t, ErrorProviderOutage, CategoryOf(err))
		}
		_, err = o.Score(ctx, "198.51.100.7")
		assert.Equal(t, ErrorCircuitOpen, CategoryOf(err))
		assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the provider")
		assert.Equal(t, []circuit.State{circuit.StateOpen}, states)
	})

	t.Run("rejects relative endpoint", func(t *testing.T) {
		_, err := NewHTTPOracle("/score")
		assert.Error(t, err)
	})
}
