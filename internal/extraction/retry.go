package extraction

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// MaxPageAttempts is the upper bound on tries per page, the first one included
const MaxPageAttempts = 3

// RetryPolicy retries transient page failures on a fixed backoff schedule
type RetryPolicy struct {
	// MaxAttempts counts every try of a page, the first one included
	MaxAttempts int

	// Delays is the wait before each retry. A schedule shorter than
	// MaxAttempts-1 ends the retries early.
	Delays []time.Duration

	// PageTimeout bounds a single page request; hitting it counts as transient
	PageTimeout time.Duration

	// Sleep is replaced in tests
	Sleep SleepFunc

	logger logger.Logger
}

// DefaultRetryPolicy tries a page at most three times on the 1s, 2s, 4s schedule
// with a 60s page timeout
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: MaxPageAttempts,
		Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		PageTimeout: 60 * time.Second,
		Sleep:       sleepContext,
	}
}

// WithLogger returns a copy of the policy that logs through log
func (rp *RetryPolicy) WithLogger(log logger.Logger) *RetryPolicy {
	clone := *rp
	clone.logger = log
	return &clone
}

// Validate checks the schedule
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 || rp.MaxAttempts > MaxPageAttempts {
		return fmt.Errorf("max attempts must be between 1 and %d: %d", MaxPageAttempts, rp.MaxAttempts)
	}
	for i, d := range rp.Delays {
		if d < 0 {
			return fmt.Errorf("retry delay %d is negative: %s", i, d)
		}
	}
	if rp.PageTimeout <= 0 {
		return fmt.Errorf("page timeout must be positive: %s", rp.PageTimeout)
	}
	return nil
}

// Do calls op until it succeeds, fails permanently, exhausts the schedule or
// ctx is cancelled. endpoint names the request in errors and logs.
func (rp *RetryPolicy) Do(ctx context.Context, endpoint string, op func(ctx context.Context) error) error {
	log := rp.logger
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("retry")
	}
	sleep := rp.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	maxAttempts := rp.MaxAttempts
	if maxAttempts < 1 || maxAttempts > MaxPageAttempts {
		maxAttempts = MaxPageAttempts
	}

	for attempt := 0; ; attempt++ {
		err := rp.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return err
		}
		if attempt+1 >= maxAttempts || attempt >= len(rp.Delays) {
			log.WithFields(logger.Fields{
				"endpoint": endpoint,
				"attempts": attempt + 1,
			}).WithError(err).Error("Retries exhausted")
			return errors.TransientError(transientCode(err), endpoint, err).
				WithContext("attempts", attempt+1)
		}

		delay := rp.Delays[attempt]
		if ra := retryAfter(err); ra > 0 {
			delay = ra
		}

		log.WithFields(logger.Fields{
			"endpoint": endpoint,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
		}).WithError(err).Warn("Transient failure, retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// attempt runs op under the page timeout. A page that times out while the
// parent context is still live is reported as a transient timeout.
func (rp *RetryPolicy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	pageCtx := ctx
	if rp.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, rp.PageTimeout)
		defer cancel()
	}

	err := op(pageCtx)
	if err != nil && ctx.Err() == nil && stderrors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return errors.TransientError(errors.CodeTimeout, "page", err)
	}
	return err
}

func isRetryable(err error) bool {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe.Temporary
	}
	return errors.IsTransient(err)
}

func retryAfter(err error) time.Duration {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

func transientCode(err error) errors.ErrorCode {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		if fe.StatusCode == http.StatusTooManyRequests {
			return errors.CodeRateLimited
		}
		return errors.CodeUpstreamUnavailable
	}
	if re, ok := errors.AsReconcilerError(err); ok {
		return re.Code
	}
	return errors.CodeUpstreamUnavailable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
