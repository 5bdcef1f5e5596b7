package pipeline

import (
	"context"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// backoff is the delay before attempt n+1: initial doubled per attempt,
// capped at max.
func (c Config) backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt runs fn under the stage deadline, retrying retryable failures. Each
// try is one audited attempt.
func (c *Coordinator) attempt(ctx context.Context, documentID string, stage models.Stage, scope string, fn func(ctx context.Context) error) error {
	var err error
	for n := 1; n <= c.cfg.MaxAttempts; n++ {
		span := c.audit.Begin(ctx, documentID, stage, scope, n)
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout(stage))
		err = fn(attemptCtx)
		cancel()
		span.End(err)
		c.metrics.ObserveStage(stage, time.Since(start), err)

		if err == nil || !models.IsRetryable(err) || n == c.cfg.MaxAttempts || ctx.Err() != nil {
			return err
		}
		delay := c.cfg.backoff(n)
		c.logger.Warn("Stage attempt failed, will retry.",
			"documentId", documentID,
			"stage", stage,
			"scope", scope,
			"attempt", n,
			"maxAttempts", c.cfg.MaxAttempts,
			"backoff", delay.String(),
			"error", err,
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			c.logger.Error("Context cancelled during backoff. Aborting retries.", "documentId", documentID, "stage", stage, "error", serr)
			return err
		}
	}
	return err
}
