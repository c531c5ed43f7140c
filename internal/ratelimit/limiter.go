// Package ratelimit throttles outbound actions on the client so it never
// trips the server's own limits.
package ratelimit

import (
	"context"
	"time"
)

// Rule is a rate limiting policy: a key prefix, the maximum number of
// actions in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleMessage mirrors the server's message rule: 5 messages per 10 seconds.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

// RuleMedia throttles attachment uploads.
var RuleMedia = Rule{Key: "rl:media:", Limit: 3, Window: 30 * time.Second}

// Limiter decides whether identifier may act under rule.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}
