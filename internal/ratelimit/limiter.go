// Package ratelimit enforces the per-author posting cooldown on the server.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Limiter admits at most one action per key per cooldown window.
// When the key is still cooling down, ok is false and remaining reports the wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (remaining time.Duration, ok bool)
	// Release returns the window claimed by the last successful Allow, for actions that did not happen.
	Release(ctx context.Context, key string)
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
