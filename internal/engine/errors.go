package engine

import "fmt"

// Kind enumerates the error taxonomy named in spec.md §7. Kind values are
// used both for sentinel comparison (errors.Is) and as the JobError.Kind
// string surfaced to callers.
type Kind string

const (
	KindInvalidParams      Kind = "invalid_params"
	KindNavigationError404 Kind = "navigation_error_404"
	KindChallengeUnresolved Kind = "challenge_unresolved"
	KindPatternNotFound    Kind = "pattern_not_found"
	KindTimeout            Kind = "timeout"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindOriginFailure      Kind = "origin_failure"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Error is the engine's typed error carrying a taxonomy Kind plus detail.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Debug   string
	wrapped error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Stage)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is lets errors.Is(err, &Error{Kind: KindTimeout}) match by Kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, stage, message string, wrapped error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, wrapped: wrapped}
}

// NavigationError404 builds the sentinel for an upstream hop-1 404, which
// the engine treats as a trigger for auto-switch rather than a terminal
// failure on first occurrence (spec.md §4.1, §7).
func NavigationError404(stage string) *Error {
	return newError(KindNavigationError404, stage, "upstream returned 404", nil)
}

// ChallengeUnresolved builds the sentinel for an anti-bot challenge that
// could not be passed within the stealth driver's poll window (§4.2).
func ChallengeUnresolved(stage string) *Error {
	return newError(KindChallengeUnresolved, stage, "challenge could not be resolved in time", nil)
}

// PatternNotFound builds the sentinel for a hop whose expected pattern was
// not present in the fetched body. The engine escalates a pure-fetch miss to
// the browser strategy, so it ends a job only once the browser misses too.
func PatternNotFound(stage string, wrapped error) *Error {
	return newError(KindPatternNotFound, stage, "expected pattern not found", wrapped)
}

// Timeout builds the sentinel for a hop or overall job timeout (§4.1, §5).
func Timeout(stage string) *Error {
	return newError(KindTimeout, stage, "timed out", nil)
}

// ResourceExhausted builds the sentinel for a browser pool acquisition that
// could not complete within its window (§4.2, §5).
func ResourceExhausted(stage string) *Error {
	return newError(KindResourceExhausted, stage, "no browser available within acquisition window", nil)
}

// OriginFailure builds the sentinel for a proxy-observed upstream 5xx (§4.4).
func OriginFailure(status int) *Error {
	return newError(KindOriginFailure, "proxy", fmt.Sprintf("origin returned status %d", status), nil)
}

// Canceled builds the sentinel for caller-initiated disconnect (§4.3, §5).
func Canceled(stage string) *Error {
	return newError(KindCanceled, stage, "canceled by caller", nil)
}

// Internal wraps an unexpected condition for logging + a 500 response.
func Internal(stage string, wrapped error) *Error {
	return newError(KindInternal, stage, "internal error", wrapped)
}
