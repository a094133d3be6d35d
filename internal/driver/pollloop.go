package driver

import (
	"context"
	"fmt"
	"time"
)

// PollLoop calls step immediately and then every interval until ctx is
// done. Errors and panics from step are logged and the loop continues.
// It is the usual body of an AcquisitionLoop.
func PollLoop(ctx context.Context, interval time.Duration, logger Logger, step func(ctx context.Context) error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := safeStep(ctx, step); err != nil {
			logger.Warn("acquisition step failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func safeStep(ctx context.Context, step func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	return step(ctx)
}
