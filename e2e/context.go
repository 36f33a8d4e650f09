// Package e2e drives a running gate over HTTP with godog scenarios.
package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guildgate/internal/token"
)

// TestContext holds the HTTP client and the last response of a scenario.
type TestContext struct {
	BaseURL     string
	CommunityID string

	codec  *token.Codec
	client *http.Client

	lastStatus int
	lastHeader http.Header
	lastBody   []byte
}

// NewTestContext signs invites with secret the same way the bot does.
func NewTestContext(baseURL, secret, communityID string) (*TestContext, error) {
	codec, err := token.New(secret)
	if err != nil {
		return nil, err
	}
	return &TestContext{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CommunityID: communityID,
		codec:       codec,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects to the identity provider are asserted, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastHeader = nil
	tc.lastBody = nil
}

func (tc *TestContext) GET(ctx context.Context, path string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeader = resp.Header
	tc.lastBody = body
	return nil
}

func (tc *TestContext) InvitePath(communityID, subjectID string) (string, error) {
	return tc.codec.InviteURL("/invite", communityID, subjectID)
}

func (tc *TestContext) DefaultCommunity() string { return tc.CommunityID }

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.lastHeader == nil {
		return ""
	}
	return tc.lastHeader.Get(name)
}
