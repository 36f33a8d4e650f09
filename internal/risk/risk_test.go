package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHighRisk(t *testing.T) {
	assert.False(t, IsHighRisk(0))
	assert.False(t, IsHighRisk(74))
	assert.True(t, IsHighRisk(75))
	assert.True(t, IsHighRisk(100))
}

func TestIsTrustedNetwork(t *testing.T) {
	trusted := []string{"10.0.0.8", "192.168.1.20", "172.16.4.4", "172.31.0.1", "127.0.0.1", "::1", "fd00::1", "169.254.1.1", "::ffff:10.0.0.8"}
	for _, addr := range trusted {
		assert.True(t, IsTrustedNetwork(addr), addr)
	}

	untrusted := []string{"198.51.100.7", "203.0.113.5", "2001:db8::1", "0.0.0.0", "not-an-ip", ""}
	for _, addr := range untrusted {
		assert.False(t, IsTrustedNetwork(addr), addr)
	}
}

type countingOracle struct {
	score int
	err   error
	calls int
}

func (o *countingOracle) Score(context.Context, string) (int, error) {
	o.calls++
	return o.score, o.err
}

func TestTrustedNetworkBypass(t *testing.T) {
	ctx := context.Background()

	t.Run("private address short-circuits", func(t *testing.T) {
		inner := &countingOracle{score: 99}
		score, err := TrustedNetworkBypass(inner).Score(ctx, "192.168.0.10")
		require.NoError(t, err)
		assert.Equal(t, 0, score)
		assert.Equal(t, 0, inner.calls)
	})

	t.Run("public address reaches oracle", func(t *testing.T) {
		inner := &countingOracle{score: 80}
		score, err := TrustedNetworkBypass(inner).Score(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, 80, score)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("out of range scores are clamped", func(t *testing.T) {
		score, err := TrustedNetworkBypass(&countingOracle{score: 250}).Score(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, MaxScore, score)
	})

	t.Run("oracle failure propagates", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := TrustedNetworkBypass(&countingOracle{err: boom}).Score(ctx, "198.51.100.7")
		assert.ErrorIs(t, err, boom)
	})
}

func TestStub(t *testing.T) {
	score, err := NewStub().Score(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, DefaultStubScore, score)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStub().Score(ctx, "198.51.100.7")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOracleFunc(t *testing.T) {
	var o Oracle = OracleFunc(func(_ context.Context, addr string) (int, error) {
		return len(addr), nil
	})
	score, err := o.Score(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, score)
}
