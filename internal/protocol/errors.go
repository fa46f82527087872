package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrOversizedResponse marks a response that exceeded the protocol size
// guards. Hostile or broken servers can pad their responses to waste
// resources, so such probes are abandoned without retry.
var ErrOversizedResponse = errors.New("oversized response")

// Kind classifies a probe failure for retry and logging decisions.
type Kind int

const (
	// KindTimeout is the only retryable failure class.
	KindTimeout Kind = iota
	// KindAnomaly covers oversized or malformed responses.
	KindAnomaly
	// KindTransport covers connection refused, DNS and generic I/O errors.
	KindTransport
	// KindUnexpected is everything else.
	KindUnexpected
)

// String returns the lowercase name of the failure class.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAnomaly:
		return "anomaly"
	case KindTransport:
		return "transport"
	default:
		return "unexpected"
	}
}

// ProbeError is a classified probe failure.
type ProbeError struct {
	Err  error
	Op   string
	Kind Kind
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried.
func (e *ProbeError) Retryable() bool {
	return e.Kind == KindTimeout
}

// Classify wraps err into a ProbeError with the failure class derived from
// the error chain.
func Classify(op string, err error) *ProbeError {
	if err == nil {
		return nil
	}

	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindUnexpected

	var netErr net.Error
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, ErrOversizedResponse):
		kind = KindAnomaly
	case errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &dnsErr):
		kind = KindTransport
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		kind = KindTransport
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			kind = KindTransport
		}
	}

	return &ProbeError{Op: op, Kind: kind, Err: err}
}

// RetryPolicy bounds retries for a single probe. Only timeout-class
// failures are retried; every other class is terminal for the attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// sleep is overridable in tests.
	sleep func(time.Duration)
}

// Do runs fn up to MaxAttempts times, retrying only retryable failures.
// The returned error is the classified failure of the last attempt, or nil.
func (p RetryPolicy) Do(op string, fn func() error) *ProbeError {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var last *ProbeError
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		last = Classify(op, err)
		if !last.Retryable() || attempt == attempts {
			return last
		}

		sleep(p.Delay)
	}

	return last
}
