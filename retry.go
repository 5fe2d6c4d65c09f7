package sessionmesh

import (
	"context"
	"fmt"

	"github.com/hupe1980/sessionmesh/core"
)

// Retry runs fn until it succeeds, returns a non-retryable error, the context
// is done or attempts are exhausted. Only lost commit races are retried;
// invalid transitions, cycles and terminal sessions are returned at once.
// There is no sleep between attempts: fn re-reads the fresh snapshot.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last attempt: %v)", ctxErr, err)
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !core.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, err)
}
