package main

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "guildgate/internal/jwt_token"
	"guildgate/internal/token"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestInviteCommand(t *testing.T) {
	out, err := execute(t, "invite", "--secret", "s3cret", "--guild", "guild1", "--user", "user1", "--base-url", "https://gate.example/")
	require.NoError(t, err)

	link, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "gate.example", link.Host)
	assert.Equal(t, "/v", link.Path)

	codec, err := token.New("s3cret")
	require.NoError(t, err)
	q := link.Query()
	assert.True(t, codec.Verify(q.Get("g"), q.Get("u"), q.Get("s")))
	assert.Equal(t, "user1", q.Get("u"))
}

func TestInviteCommandRequiresMember(t *testing.T) {
	_, err := execute(t, "invite", "--guild", "guild1")
	assert.Error(t, err)
}

func TestAdminTokenCommand(t *testing.T) {
	out, err := execute(t, "admin-token", "--secret", "s3cret", "--admin-secret", "review-key", "--subject", "moderator")
	require.NoError(t, err)

	svc, err := jwttoken.NewJWTService("review-key", "guildgate", "guildgate-admin")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(out)
	require.NoError(t, err)
	assert.Equal(t, "moderator", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestAdminTokenCommandTTLFromEnv(t *testing.T) {
	t.Setenv("ADMIN_TOKEN_TTL", "15m")
	out, err := execute(t, "admin-token", "--secret", "s3cret", "--admin-secret", "review-key", "--subject", "moderator")
	require.NoError(t, err)

	svc, err := jwttoken.NewJWTService("review-key", "guildgate", "guildgate-admin")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(out)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Minute)

	t.Setenv("ADMIN_TOKEN_TTL", "soon")
	_, err = execute(t, "admin-token", "--admin-secret", "review-key", "--subject", "moderator")
	assert.ErrorContains(t, err, "ADMIN_TOKEN_TTL")
}

func TestAdminTokenCommandRefusesInviteSecret(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	for _, args := range [][]string{
		{"admin-token", "--subject", "moderator"},
		{"admin-token", "--secret", "s3cret", "--admin-secret", "s3cret", "--subject", "moderator"},
		{"admin-token", "--admin-secret", "supersecret", "--subject", "moderator"},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}

func TestAdminTokenCommandRequiresSubject(t *testing.T) {
	_, err := execute(t, "admin-token")
	assert.Error(t, err)
}
