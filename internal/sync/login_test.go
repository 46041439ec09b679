package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sante/internal/event"
	"sante/internal/notify"
	"sante/internal/platform/logger"
	dErrors "sante/pkg/domain-errors"
)

type failingNotifier struct{}

func (failingNotifier) Publish(context.Context, string, any) error {
	return dErrors.New(dErrors.CodeUnavailable, "bus down")
}

func TestLoginHandler(t *testing.T) {
	e := event.Inbound{
		Type:     event.TypeLogin,
		RealmID:  "sante",
		ClientID: "mobile-app",
		UserID:   uuid.NewString(),
		TimeMS:   time.Now().UnixMilli(),
	}

	t.Run("emits a login notification", func(t *testing.T) {
		recorder := notify.NewRecorder(nil)
		h := NewLoginHandler(recorder, logger.New("test"))

		res, err := h.Handle(context.Background(), e)
		require.NoError(t, err)
		assert.True(t, res.Success)

		last, ok := recorder.Last(notify.TopicLogin)
		require.True(t, ok)
		payload := last.Payload.(map[string]any)
		assert.Equal(t, e.UserID, payload["user_id"])
		assert.Equal(t, "mobile-app", payload["client_id"])
	})

	t.Run("still succeeds when the bus is down", func(t *testing.T) {
		h := NewLoginHandler(failingNotifier{}, logger.New("test"))

		res, err := h.Handle(context.Background(), e)
		require.NoError(t, err)
		assert.True(t, res.Success)
	})
}

func TestRegistry(t *testing.T) {
	login := NewLoginHandler(notify.NewRecorder(nil), logger.New("test"))
	r := NewRegistry(map[string]Handler{event.TypeLogin: login})

	h, ok := r.Lookup(event.TypeLogin)
	require.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Lookup(event.TypeRegister)
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{event.TypeLogin}, r.Types())
}
