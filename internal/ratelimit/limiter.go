package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultKeyPrefix = "pixelstudio:ratelimit"

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter spends one token for subject per call.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

// Options size a bucket: Capacity tokens refilled evenly over Window.
type Options struct {
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

func (o Options) validate() error {
	if o.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if o.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

func (o Options) prefix() string {
	if p := strings.TrimSpace(o.KeyPrefix); p != "" {
		return p
	}
	return defaultKeyPrefix
}

// Subject builds the bucket key for a caller on a route group.
func Subject(caller, route string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	if route == "" {
		return caller
	}
	return caller + ":" + route
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
