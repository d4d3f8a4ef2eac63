package bus

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidSubject = errors.New("invalid subject")
	ErrBusClosed      = errors.New("bus is closed")
)

// Handler processes a delivered event. Handlers may be invoked
// concurrently and must be idempotent per event ID: delivery is
// at-least-once.
type Handler func(ctx context.Context, event *Event)

// Subscription is an active pattern subscription.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription's handler.
	Unsubscribe() error
}

// Bus is the publish/subscribe substrate both services depend on.
// Subjects are dotted <domain>.<action> strings; patterns support the
// single-token wildcard "*" ("*.*" matches any two-token subject).
type Bus interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(pattern string, handler Handler) (Subscription, error)
	Close() error
}

// MatchSubject reports whether a subject matches a pattern. Each "*"
// token matches exactly one subject token; token counts must agree.
func MatchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	if len(patternTokens) != len(subjectTokens) {
		return false
	}

	for i, token := range patternTokens {
		if token == "*" {
			continue
		}
		if token != subjectTokens[i] {
			return false
		}
	}

	return true
}

// ValidSubject reports whether a subject is publishable: non-empty
// dotted tokens, no wildcards.
func ValidSubject(subject string) bool {
	if subject == "" {
		return false
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" || token == "*" || token == ">" {
			return false
		}
	}
	return true
}
