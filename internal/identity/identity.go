// Package identity exchanges an OAuth authorization code for the caller's
// identity at the community platform.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrExchange means the provider rejected the authorization code.
	ErrExchange = errors.New("identity: code exchange failed")
	// ErrFetch means the access token did not yield an identity.
	ErrFetch = errors.New("identity: identity fetch failed")
)

// Identity is the provider account behind a completed OAuth flow.
type Identity struct {
	ID       string
	Username string
}

// Provider is the OAuth authorization-code collaborator.
type Provider interface {
	// AuthCodeURL returns the authorization redirect carrying state.
	AuthCodeURL(state string) string
	// Exchange redeems code and fetches the identity. Failures wrap ErrExchange
	// or ErrFetch; a context deadline stays visible through errors.Is.
	Exchange(ctx context.Context, code string) (*Identity, error)
}
