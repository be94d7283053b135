// Package retry runs an operation a bounded number of times with a fixed delay.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second

	logMessageRetrying  = "operation failed, retrying"
	logMessageExhausted = "operation failed after final attempt"
	logMessageFatal     = "operation failed with non-retryable error"
	logFieldOperation   = "operation"
	logFieldAttempt     = "attempt"
	logFieldMaxAttempts = "max_attempts"
	logFieldDelay       = "delay"
)

// transientMarkers are matched case-sensitively against error text.
var transientMarkers = []string{"timeout", "connection", "network", "unavailable", "temporary", "retry"}

// Attempt describes one failed try. It only lives for the duration of Do.
type Attempt struct {
	Operation string
	Index     int
	Err       error
	Delay     time.Duration
}

// Observer is notified before each sleep between attempts.
type Observer interface {
	ObserveRetry(attempt Attempt)
}

// Policy configures retries.
type Policy struct {
	MaxAttempts    int
	Delay          time.Duration
	LoggingService *logging.Service
	Observer       Observer
	// Sleep waits for delay or ctx; nil means a real timer.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// NewPolicy constructs a Policy. A non-positive attempt count or a negative
// delay selects the default.
func NewPolicy(maxAttempts int, delay time.Duration, loggingService *logging.Service) Policy {
	policy := Policy{MaxAttempts: maxAttempts, Delay: delay, LoggingService: loggingService}
	return policy.normalized()
}

func (policy Policy) normalized() Policy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Delay < 0 {
		policy.Delay = DefaultDelay
	}
	if policy.Sleep == nil {
		policy.Sleep = sleepContext
	}
	return policy
}

// Do runs operation up to MaxAttempts times. The last failure, or the first
// non-retryable one, is returned unchanged. Cancellation while waiting
// returns an interrupted failure immediately.
func Do[T any](ctx context.Context, policy Policy, operationName string, operation func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()
	var zero T
	for attemptIndex := 1; ; attemptIndex++ {
		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		if attemptIndex >= policy.MaxAttempts {
			policy.log(logMessageExhausted, operationName, attemptIndex, err)
			return zero, err
		}
		if !IsRetryable(err) {
			policy.log(logMessageFatal, operationName, attemptIndex, err)
			return zero, err
		}
		attempt := Attempt{Operation: operationName, Index: attemptIndex, Err: err, Delay: policy.Delay}
		if policy.Observer != nil {
			policy.Observer.ObserveRetry(attempt)
		}
		if policy.LoggingService != nil {
			policy.LoggingService.Warn(
				logMessageRetrying,
				logging.String(logFieldOperation, operationName),
				logging.Int(logFieldAttempt, attemptIndex),
				logging.Int(logFieldMaxAttempts, policy.MaxAttempts),
				logging.Duration(logFieldDelay, policy.Delay),
				logging.ErrorField(err),
			)
		}
		if sleepErr := policy.Sleep(ctx, policy.Delay); sleepErr != nil {
			return zero, failure.Wrap(failure.KindInterrupted, operationName, "retry interrupted", sleepErr)
		}
	}
}

// IsRetryable classifies err. Typed failures decide first; untyped errors
// fall back to network error types and then to the transient text markers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if kind, found := failure.KindOf(err); found {
		switch kind {
		case failure.KindParse, failure.KindValidation, failure.KindInterrupted, failure.KindConfiguration:
			return false
		case failure.KindTimeout, failure.KindConnection, failure.KindSpawn:
			return true
		}
		if _, transient := failure.TransientOf(err); transient {
			return true
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var networkError net.Error
	if errors.As(err, &networkError) && networkError.Timeout() {
		return true
	}
	var dnsError *net.DNSError
	if errors.As(err, &dnsError) {
		return true
	}
	var operationError *net.OpError
	if errors.As(err, &operationError) {
		return true
	}
	message := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func (policy Policy) log(message string, operationName string, attemptIndex int, err error) {
	if policy.LoggingService == nil {
		return
	}
	policy.LoggingService.Error(
		message,
		err,
		logging.String(logFieldOperation, operationName),
		logging.Int(logFieldAttempt, attemptIndex),
		logging.Int(logFieldMaxAttempts, policy.MaxAttempts),
	)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
