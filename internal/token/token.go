// Package token signs and verifies the HMAC-bound values that carry a
// community and subject through the invitation flow.
//
// Two shapes share one canonical serialization (compact JSON, fixed key order):
//
//	invite: {"g":"<community>","u":"<subject>"}
//	state:  {"g":"<community>","u":"<subject>","n":"<nonce>","t":<issued-at>}
//
// The invite shape is byte-compatible with links minted by the community bot.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"guildgate/pkg/platform/sentinel"
)

const (
	// SignatureLength is the hex length of an HMAC-SHA256 digest.
	SignatureLength = sha256.Size * 2

	// DefaultStateTTL bounds how long an OAuth round trip may take.
	DefaultStateTTL = 10 * time.Minute

	nonceBytes = 8
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrMalformed        = errors.New("token: malformed value")
	ErrExpired          = fmt.Errorf("token: %w", sentinel.ErrExpired)
)

// Claims are the ordered fields covered by a signature. Empty optional fields
// are omitted from the serialization.
type Claims struct {
	CommunityID string `json:"g"`
	SubjectID   string `json:"u,omitempty"`
	Nonce       string `json:"n,omitempty"`
	IssuedAt    int64  `json:"t,omitempty"`
}

// State is a decoded, signature-checked OAuth state value.
type State struct {
	CommunityID string
	SubjectID   string
	Nonce       string
	IssuedAt    time.Time
	Raw         string
}

// Codec holds the shared secret. It is immutable after construction and safe
// for concurrent use.
type Codec struct {
	secret   []byte
	stateTTL time.Duration
	random   io.Reader
}

type Option func(*Codec)

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.stateTTL = ttl
		}
	}
}

// WithRandom replaces crypto/rand as the nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		if r != nil {
			c.random = r
		}
	}
}

// New constructs a Codec. The secret is copied.
func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	c := &Codec{
		secret:   []byte(secret),
		stateTTL: DefaultStateTTL,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StateTTL reports the configured state lifetime.
func (c *Codec) StateTTL() time.Duration {
	return c.stateTTL
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical claims.
func (c *Codec) Sign(claims Claims) string {
	return hex.EncodeToString(c.mac(canonical(claims)))
}

// SignInvite signs the invite shape {g,u}.
func (c *Codec) SignInvite(communityID, subjectID string) string {
	return c.Sign(Claims{CommunityID: communityID, SubjectID: subjectID})
}

// Verify reports whether signature authenticates the invite (communityID,
// subjectID). Missing, malformed or mismatched input yields false.
func (c *Codec) Verify(communityID, subjectID, signature string) bool {
	if communityID == "" || signature == "" || len(signature) != SignatureLength {
		return false
	}
	expected := c.SignInvite(communityID, subjectID)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// InviteURL builds base?g=&u=&s= for a signed invitation.
func (c *Codec) InviteURL(base, communityID, subjectID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse invite base url: %w", err)
	}
	q := u.Query()
	q.Set("g", communityID)
	q.Set("u", subjectID)
	q.Set("s", c.SignInvite(communityID, subjectID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IssueState mints a fresh state value with a random nonce.
func (c *Codec) IssueState(communityID, subjectID string, now time.Time) (State, error) {
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return State{}, fmt.Errorf("generate state nonce: %w", err)
	}
	claims := Claims{
		CommunityID: communityID,
		SubjectID:   subjectID,
		Nonce:       hex.EncodeToString(buf),
		IssuedAt:    now.Unix(),
	}
	payload := canonical(claims)
	raw := base64.RawURLEncoding.EncodeToString(payload) + "." + hex.EncodeToString(c.mac(payload))
	return State{
		CommunityID: claims.CommunityID,
		SubjectID:   claims.SubjectID,
		Nonce:       claims.Nonce,
		IssuedAt:    time.Unix(claims.IssuedAt, 0).UTC(),
		Raw:         raw,
	}, nil
}

// ParseState decodes raw, re-verifies its signature and rejects states older
// than the configured TTL or issued in the future beyond a small skew.
func (c *Codec) ParseState(raw string, now time.Time) (State, error) {
	encoded, signature, ok := strings.Cut(raw, ".")
	if !ok || encoded == "" || len(signature) != SignatureLength {
		return State{}, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return State{}, ErrMalformed
	}

	var claims Claims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&claims); err != nil {
		return State{}, ErrMalformed
	}
	// Re-serialize so only the canonical form is ever accepted.
	if !bytes.Equal(canonical(claims), payload) {
		return State{}, ErrMalformed
	}
	expected := hex.EncodeToString(c.mac(payload))
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return State{}, ErrInvalidSignature
	}
	if claims.CommunityID == "" || claims.SubjectID == "" || claims.Nonce == "" || claims.IssuedAt == 0 {
		return State{}, ErrMalformed
	}

	issuedAt := time.Unix(claims.IssuedAt, 0).UTC()
	if now.Sub(issuedAt) > c.stateTTL || issuedAt.Sub(now) > time.Minute {
		return State{}, ErrExpired
	}

	return State{
		CommunityID: claims.CommunityID,
		SubjectID:   claims.SubjectID,
		Nonce:       claims.Nonce,
		IssuedAt:    issuedAt,
		Raw:         raw,
	}, nil
}

func (c *Codec) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(payload)
	return h.Sum(nil)
}

func canonical(claims Claims) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Claims holds only strings and an int64; encoding cannot fail.
	_ = enc.Encode(claims)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
