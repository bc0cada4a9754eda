package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/ai/mock"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout_PassesThrough(t *testing.T) {
	p := ai.WithTimeout(mock.NewMockProvider(), time.Second)
	assert.Equal(t, "mock", p.Name())

	summary, err := p.Summarize(context.Background(), "transcript")
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
}

func TestWithTimeout_WrapsContextError(t *testing.T) {
	slow := &mock.MockProvider{
		SummarizeFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	p := ai.WithTimeout(slow, 10*time.Millisecond)

	_, err := p.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.True(t, ai.Retryable(err))
}

func TestWithTimeout_KeepsProviderError(t *testing.T) {
	p := ai.WithTimeout(mock.NewFailingProvider(ai.ErrRejected), time.Second)
	_, err := p.Evaluate(context.Background(), models.LessonInput{})
	assert.ErrorIs(t, err, ai.ErrRejected)
	assert.False(t, errors.Is(err, ai.ErrInferenceTimeout))
}

func TestWithTimeout_ZeroReturnsSameProvider(t *testing.T) {
	m := mock.NewMockProvider()
	assert.Same(t, m, ai.WithTimeout(m, 0))
}
