package e2e

import (
	"github.com/cucumber/godog"

	"guildgate/e2e/steps/common"
	"guildgate/e2e/steps/gate"
	"guildgate/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	gate.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
