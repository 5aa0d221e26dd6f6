package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Taxonomy tags a failure with the class that decides how it is handled.
type Taxonomy string

const (
	// TransientService covers rate limits, timeouts and 5xx replies. Retried
	// with backoff.
	TransientService Taxonomy = "TransientServiceError"
	// MalformedResponse means no structured object could be parsed from a
	// reply. Retried, then falls back.
	MalformedResponse Taxonomy = "MalformedResponse"
	// SemanticFailure means a reply parsed but carried no title or content.
	SemanticFailure Taxonomy = "SemanticFailure"
	// StorageTransient covers pool exhaustion and broken connections. Retried
	// with a connection reinit.
	StorageTransient Taxonomy = "StorageTransientError"
	// StorageFatal covers constraint and data errors. Never retried.
	StorageFatal Taxonomy = "StorageFatalError"
	// NotFound means a run or link identifier is absent.
	NotFound Taxonomy = "NotFound"
	// Unknown is any failure that does not fit the classes above.
	Unknown Taxonomy = "UnknownError"
)

// ErrNotFound is returned by lookups whose identifier is absent.
var ErrNotFound = errors.New("not found")

// Error attaches a Taxonomy to an underlying error.
type Error struct {
	Kind Taxonomy
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tag wraps err with the given taxonomy. A nil err stays nil.
func Tag(kind Taxonomy, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Malformed tags err as a MalformedResponse.
func Malformed(err error) error { return Tag(MalformedResponse, err) }

// Semantic tags err as a SemanticFailure.
func Semantic(err error) error { return Tag(SemanticFailure, err) }

// KindOf reports the taxonomy of err. Explicit tags win; otherwise transient
// network failures map to TransientService and ErrNotFound to NotFound.
func KindOf(err error) Taxonomy {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return NotFound
	}
	if IsTransient(err) {
		return TransientService
	}
	return Unknown
}

// IsRetryable reports whether a failed understanding-service call may be
// attempted again: transient, malformed and semantic failures are.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case TransientService, MalformedResponse, SemanticFailure:
		return true
	default:
		return false
	}
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a TransientService tag, or matches common transient
// network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == TransientService
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"rate limit",
	"too many requests",
}

// IsRateLimitOrTimeout is the narrower check used for homepage fetches: only
// 429/408/504 replies, timeouts and rate-limit messages qualify.
func IsRateLimitOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		switch te.StatusCode {
		case 408, 429, 504:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out")
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
