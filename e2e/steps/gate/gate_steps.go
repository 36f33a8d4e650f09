// Package gate covers the invite and callback endpoints up to the identity
// provider redirect. Completing OAuth needs a real provider and is left to
// the in-process handler suites.
package gate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cucumber/godog"
)

type TestContext interface {
	GET(ctx context.Context, path string, headers map[string]string) error
	InvitePath(communityID, subjectID string) (string, error)
	DefaultCommunity() string
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &gateSteps{tc: tc}
	ctx.Step(`^a signed invite for user "([^"]*)"$`, steps.signedInvite)
	ctx.Step(`^a signed invite for user "([^"]*)" in guild "([^"]*)"$`, steps.signedInviteIn)
	ctx.Step(`^I open the invite$`, steps.openInvite)
	ctx.Step(`^I open the invite with a tampered signature$`, steps.openTampered)
	ctx.Step(`^I should be redirected to the identity provider with a state$`, steps.redirectedWithState)
	ctx.Step(`^I call the callback with state "([^"]*)" and no code$`, steps.callbackNoCode)
	ctx.Step(`^I call the callback with a forged state$`, steps.callbackForged)
}

type gateSteps struct {
	tc         TestContext
	invitePath string
}

func (s *gateSteps) signedInvite(ctx context.Context, subject string) error {
	return s.signedInviteIn(ctx, subject, s.tc.DefaultCommunity())
}

func (s *gateSteps) signedInviteIn(_ context.Context, subject, community string) error {
	path, err := s.tc.InvitePath(community, subject)
	if err != nil {
		return err
	}
	s.invitePath = path
	return nil
}

func (s *gateSteps) openInvite(ctx context.Context) error {
	return s.tc.GET(ctx, s.invitePath, nil)
}

func (s *gateSteps) openTampered(ctx context.Context) error {
	u, err := url.Parse(s.invitePath)
	if err != nil {
		return err
	}
	q := u.Query()
	sig := q.Get("s")
	if sig == "" {
		return fmt.Errorf("invite has no signature")
	}
	flipped := "0"
	if sig[len(sig)-1] == '0' {
		flipped = "1"
	}
	q.Set("s", sig[:len(sig)-1]+flipped)
	u.RawQuery = q.Encode()
	return s.tc.GET(ctx, u.String(), nil)
}

func (s *gateSteps) redirectedWithState(context.Context) error {
	if got := s.tc.GetLastResponseStatus(); got != 302 {
		return fmt.Errorf("expected 302, got %d", got)
	}
	loc, err := url.Parse(s.tc.GetLastResponseHeader("Location"))
	if err != nil {
		return err
	}
	state := loc.Query().Get("state")
	if !strings.Contains(state, ".") {
		return fmt.Errorf("redirect carries no signed state: %q", state)
	}
	return nil
}

func (s *gateSteps) callbackNoCode(ctx context.Context, state string) error {
	return s.tc.GET(ctx, "/callback?state="+url.QueryEscape(state), nil)
}

func (s *gateSteps) callbackForged(ctx context.Context) error {
	return s.tc.GET(ctx, "/callback?code=abc&state=eyJnIjoiMSJ9.deadbeef", nil)
}
