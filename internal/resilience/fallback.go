package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ResultKind is the tag of a Result.
type ResultKind int

const (
	// KindOK means the unit produced a usable value.
	KindOK ResultKind = iota
	// KindRetry means the unit failed in a way another attempt may fix.
	KindRetry
	// KindFailed means further attempts of the same unit are pointless.
	KindFailed
)

func (k ResultKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetry:
		return "retry"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged value a unit of work hands back to the Controller.
type Result[T any] struct {
	Kind     ResultKind
	Value    T
	Taxonomy Taxonomy
	Reason   string
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Kind: KindOK, Value: v}
}

// Retry reports a failure that may succeed on another attempt.
func Retry[T any](kind Taxonomy, reason string) Result[T] {
	return Result[T]{Kind: KindRetry, Taxonomy: kind, Reason: reason}
}

// Fail reports a failure that should not be retried.
func Fail[T any](kind Taxonomy, reason string) Result[T] {
	return Result[T]{Kind: KindFailed, Taxonomy: kind, Reason: reason}
}

// FromError converts a conventional (value, error) pair into a Result.
// Retryable errors become Retry; everything else becomes Failed.
func FromError[T any](v T, err error) Result[T] {
	if err == nil {
		return Ok(v)
	}
	if IsRetryable(err) {
		return Retry[T](KindOf(err), err.Error())
	}
	return Fail[T](KindOf(err), err.Error())
}

// Unit is one attempt at a piece of work.
type Unit[T any] func(ctx context.Context) Result[T]

// Path records which unit produced an Outcome.
type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
	PathNone     Path = "none"
)

// Outcome is what the Controller returns. OK is false only when both the
// primary attempts and the fallback failed.
type Outcome[T any] struct {
	Value        T
	OK           bool
	Path         Path
	Attempts     int
	FallbackUsed bool
	Taxonomy     Taxonomy
	Reason       string
	Elapsed      time.Duration
}

// Controller runs a primary unit with fixed-interval retry and, once the
// primary is exhausted, a fallback unit exactly once.
type Controller struct {
	// Name labels log lines.
	Name string
	// MaxAttempts is the total number of primary attempts. Default: 2.
	MaxAttempts int
	// Backoff is the fixed pause between primary attempts.
	Backoff time.Duration
	// Sleep waits between attempts. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// NewController returns a Controller with the given attempt budget and pause.
func NewController(name string, maxAttempts int, backoff time.Duration) *Controller {
	return &Controller{Name: name, MaxAttempts: maxAttempts, Backoff: backoff}
}

func (c *Controller) attempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return 2
	}
	return c.MaxAttempts
}

func (c *Controller) backoff() time.Duration {
	if c == nil {
		return 5 * time.Second
	}
	return max(c.Backoff, 0)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c != nil && c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (c *Controller) clock() time.Time {
	if c != nil && c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Controller) name() string {
	if c == nil || c.Name == "" {
		return "controller"
	}
	return c.Name
}

// Run executes primary until it returns Ok, returns Failed, or the attempt
// budget is spent. If primary never succeeded, fallback (when non-nil) is
// invoked once. The returned Outcome tells which path produced the value.
func Run[T any](ctx context.Context, c *Controller, primary, fallback Unit[T]) Outcome[T] {
	start := c.clock()
	log := zap.L().With(zap.String("controller", c.name()))

	var out Outcome[T]
	var last Result[T]
	maxAttempts := c.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		last = primary(ctx)
		if last.Kind == KindOK {
			out.Value = last.Value
			out.OK = true
			out.Path = PathPrimary
			out.Elapsed = c.clock().Sub(start)
			return out
		}

		log.Warn("primary attempt failed",
			zap.Int("attempt", attempt),
			zap.Stringer("result", last.Kind),
			zap.String("error_kind", string(last.Taxonomy)),
			zap.String("reason", last.Reason),
		)

		if last.Kind == KindFailed || attempt == maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff()); err != nil {
			break
		}
	}

	if fallback != nil {
		out.FallbackUsed = true
		fb := fallback(ctx)
		if fb.Kind == KindOK {
			out.Value = fb.Value
			out.OK = true
			out.Path = PathFallback
			out.Elapsed = c.clock().Sub(start)
			return out
		}
		log.Warn("fallback failed",
			zap.String("error_kind", string(fb.Taxonomy)),
			zap.String("reason", fb.Reason),
		)
		last = fb
	}

	out.Path = PathNone
	out.Taxonomy = last.Taxonomy
	if out.Taxonomy == "" {
		out.Taxonomy = Unknown
	}
	out.Reason = last.Reason
	out.Elapsed = c.clock().Sub(start)
	return out
}
