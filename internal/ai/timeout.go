package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// timeoutProvider bounds every call with its own deadline.
type timeoutProvider struct {
	next    models.AIProvider
	timeout time.Duration
}

// WithTimeout wraps p so each call runs under timeout and a deadline hit is
// reported as ErrInferenceTimeout.
func WithTimeout(p models.AIProvider, timeout time.Duration) models.AIProvider {
	if timeout <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: timeout}
}

func call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
		err = fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return v, err
}

func (t *timeoutProvider) Name() string { return t.next.Name() }

func (t *timeoutProvider) Transcribe(ctx context.Context, audio models.AudioInput) (string, error) {
	return call(ctx, t.timeout, func(ctx context.Context) (string, error) { return t.next.Transcribe(ctx, audio) })
}

func (t *timeoutProvider) Summarize(ctx context.Context, transcript string) (string, error) {
	return call(ctx, t.timeout, func(ctx context.Context) (string, error) { return t.next.Summarize(ctx, transcript) })
}

func (t *timeoutProvider) GenerateReport(ctx context.Context, in models.LessonInput) (json.RawMessage, error) {
	return call(ctx, t.timeout, func(ctx context.Context) (json.RawMessage, error) { return t.next.GenerateReport(ctx, in) })
}

func (t *timeoutProvider) Evaluate(ctx context.Context, in models.LessonInput) (models.Evaluation, error) {
	return call(ctx, t.timeout, func(ctx context.Context) (models.Evaluation, error) { return t.next.Evaluate(ctx, in) })
}

func (t *timeoutProvider) GenerateCover(ctx context.Context, in models.CoverInput) ([]byte, error) {
	return call(ctx, t.timeout, func(ctx context.Context) ([]byte, error) { return t.next.GenerateCover(ctx, in) })
}

// Close forwards to the wrapped provider when it holds resources.
func (t *timeoutProvider) Close() error {
	if c, ok := t.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ models.AIProvider = (*timeoutProvider)(nil)
