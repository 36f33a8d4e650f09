package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(ctx context.Context, path string, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers rate-limiting step definitions. Addresses are
// simulated with X-Forwarded-For, so the gate must trust the test client's
// proxy headers.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}
	ctx.Step(`^I call the callback (\d+) times from "([^"]*)"$`, steps.callbackNTimesFrom)
	ctx.Step(`^I call the callback once from "([^"]*)"$`, steps.callbackOnceFrom)
	ctx.Step(`^the last response should be rate limited$`, steps.lastRateLimited)
	ctx.Step(`^the last response should not be rate limited$`, steps.lastNotRateLimited)
}

type ratelimitSteps struct {
	tc TestContext
}

func (s *ratelimitSteps) callbackNTimesFrom(ctx context.Context, n int, ip string) error {
	for i := 0; i < n; i++ {
		if err := s.callbackOnceFrom(ctx, ip); err != nil {
			return err
		}
	}
	return nil
}

func (s *ratelimitSteps) callbackOnceFrom(ctx context.Context, ip string) error {
	return s.tc.GET(ctx, "/callback", map[string]string{"X-Forwarded-For": ip})
}

func (s *ratelimitSteps) lastRateLimited(context.Context) error {
	if got := s.tc.GetLastResponseStatus(); got != 429 {
		return fmt.Errorf("expected 429, got %d", got)
	}
	if s.tc.GetLastResponseHeader("Retry-After") == "" {
		return fmt.Errorf("429 without Retry-After")
	}
	return nil
}

func (s *ratelimitSteps) lastNotRateLimited(context.Context) error {
	if got := s.tc.GetLastResponseStatus(); got == 429 {
		return fmt.Errorf("unexpected 429")
	}
	return nil
}
