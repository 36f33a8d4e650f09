// Package models holds the rate limit vocabulary shared by the service,
// stores and middleware.
package models

import "time"

// EndpointClass groups endpoints that share one budget.
type EndpointClass string

const (
	// ClassInvite covers /invite and /v.
	ClassInvite EndpointClass = "invite"
	// ClassCallback covers /callback, which drives the external calls.
	ClassCallback EndpointClass = "callback"
)

// Limit is a request budget per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// IPKey is the bucket key for one client address within a class.
func IPKey(class EndpointClass, ip string) string {
	return "ip:" + string(class) + ":" + ip
}

// Denied builds a rejection that can be retried at resetAt.
func Denied(limit int, resetAt, now time.Time) *RateLimitResult {
	retry := int(resetAt.Sub(now).Seconds() + 0.999)
	if retry < 1 {
		retry = 1
	}
	return &RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}
