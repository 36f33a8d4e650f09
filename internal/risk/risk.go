// Package risk defines the pluggable address risk oracle consumed by the
// verification gate and the trusted-network short-circuit in front of it.
package risk

import (
	"context"
	"net/netip"
)

const (
	// HighRiskThreshold is the inclusive score at which an address is denied.
	HighRiskThreshold = 75

	MinScore = 0
	MaxScore = 100
)

// Oracle scores an address in [0, 100]. Implementations may perform network
// I/O and must honour ctx cancellation.
type Oracle interface {
	Score(ctx context.Context, addr string) (int, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, addr string) (int, error)

func (f OracleFunc) Score(ctx context.Context, addr string) (int, error) {
	return f(ctx, addr)
}

// IsHighRisk reports whether score meets the denial threshold.
func IsHighRisk(score int) bool {
	return score >= HighRiskThreshold
}

// Clamp bounds score into [MinScore, MaxScore].
func Clamp(score int) int {
	return min(max(score, MinScore), MaxScore)
}

// IsTrustedNetwork reports whether addr is private, loopback or link-local.
// The unspecified placeholder address is not trusted.
func IsTrustedNetwork(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

type trustedBypass struct {
	next Oracle
}

// TrustedNetworkBypass scores trusted-network addresses as 0 without calling
// next.
func TrustedNetworkBypass(next Oracle) Oracle {
	return trustedBypass{next: next}
}

func (b trustedBypass) Score(ctx context.Context, addr string) (int, error) {
	if IsTrustedNetwork(addr) {
		return MinScore, nil
	}
	score, err := b.next.Score(ctx, addr)
	if err != nil {
		return 0, err
	}
	return Clamp(score), nil
}

// Stub returns a fixed score for every address. It stands in until a real
// provider is configured.
type Stub struct {
	DefaultScore int
}

// DefaultStubScore is the "normal risk" answer of the stub.
const DefaultStubScore = 35

func NewStub() Stub {
	return Stub{DefaultScore: DefaultStubScore}
}

func (s Stub) Score(ctx context.Context, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return Clamp(s.DefaultScore), nil
}
