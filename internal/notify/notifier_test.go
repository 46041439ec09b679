package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sante/pkg/domain-errors"
)

type flakyNotifier struct {
	failures int
	calls    int
}

func (f *flakyNotifier) Publish(_ context.Context, _ string, _ any) error {
	f.calls++
	if f.calls <= f.failures {
		return dErrors.New(dErrors.CodeUnavailable, "broker unreachable")
	}
	return nil
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	flaky := &flakyNotifier{failures: 2}
	r := NewRetrying(flaky)
	r.minWait = 0

	err := r.Publish(context.Background(), TopicCreated, map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetrying_PropagatesExhaustion(t *testing.T) {
	flaky := &flakyNotifier{failures: 10}
	r := NewRetrying(flaky)
	r.minWait = 0

	err := r.Publish(context.Background(), TopicCreated, nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, 3, flaky.calls)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder(nil)
	ctx := context.Background()

	require.NoError(t, rec.Publish(ctx, TopicCreated, "a"))
	require.NoError(t, rec.Publish(ctx, TopicLogin, "b"))
	require.NoError(t, rec.Publish(ctx, TopicCreated, "c"))

	assert.Equal(t, 2, rec.TopicCount(TopicCreated))
	assert.Len(t, rec.Published(), 3)

	last, ok := rec.Last(TopicCreated)
	require.True(t, ok)
	assert.Equal(t, "c", last.Payload)

	_, ok = rec.Last(TopicAnonymized)
	assert.False(t, ok)
}
