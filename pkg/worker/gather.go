package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// SubjectOutcome is the value or error produced for one subject.
type SubjectOutcome[T any] struct {
	Subject string
	Value   T
	Err     error
}

// Gather calls fn once per subject concurrently and waits for all calls.
// A failing or panicking call only affects its own outcome; siblings are
// never cancelled. Outcomes are returned in subject order regardless of
// completion order. A limit <= 0 means no concurrency limit.
func Gather[T any](ctx context.Context, subjects []string, limit int, fn func(ctx context.Context, subject string) (T, error)) []SubjectOutcome[T] {
	outcomes := make([]SubjectOutcome[T], len(subjects))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, subject := range subjects {
		outcomes[i].Subject = subject
		g.Go(func() error {
			value, err := callSafely(ctx, subject, fn)
			outcomes[i].Value = value
			outcomes[i].Err = err
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

func callSafely[T any](ctx context.Context, subject string, fn func(ctx context.Context, subject string) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subject call panicked", "subject", subject, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, subject)
}
