package replication

import (
	"context"
	"math"
	"time"
)

// retryInterval grows the interval by backoffCoeff per retry and caps it at max.
func retryInterval(interval time.Duration, backoffCoeff, retryCount int, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	d := time.Duration(float64(interval) * coeff)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
