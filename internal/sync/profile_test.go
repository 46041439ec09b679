package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sante/internal/event"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	id "sante/pkg/domain"
	"sante/pkg/platform/tx"
)

type UpdateSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.MemoryStore
	profile *ProfileHandler
	email   *EmailHandler
	record  *models.Record
}

func TestUpdateSuite(t *testing.T) {
	suite.Run(t, new(UpdateSuite))
}

func (s *UpdateSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.profile = NewProfileHandler(s.store, tx.Passthrough{})
	s.email = NewEmailHandler(s.store, tx.Passthrough{})

	s.record = models.NewRecord(id.UserID(uuid.New()), "sante", models.KindPatient, time.Now().UTC())
	s.record.FirstName = "Awa"
	s.record.LastName = "Diop"
	s.record.Email = "awa.diop@example.sn"
	s.record.Phone = "+221771234567"
	s.Require().NoError(s.store.Create(s.ctx, s.record))
}

func (s *UpdateSuite) updateEvent(eventType string, snap *event.Snapshot) event.Inbound {
	return event.Inbound{
		Type:     eventType,
		RealmID:  "sante",
		UserID:   s.record.UserID.String(),
		TimeMS:   time.Now().UnixMilli(),
		Snapshot: snap,
	}
}

func (s *UpdateSuite) TestProfileUpdate() {
	s.Run("applies only present fields", func() {
		e := s.updateEvent(event.TypeUpdateProfile, &event.Snapshot{
			FirstName: ptr("Aminata"),
			Phone:     ptr("+221770000000"),
		})

		res, err := s.profile.Handle(s.ctx, e)
		s.Require().NoError(err)
		s.True(res.Success)

		stored, err := s.store.Get(s.ctx, s.record.ID)
		s.Require().NoError(err)
		s.Equal("Aminata", stored.FirstName)
		s.Equal("+221770000000", stored.Phone)
		s.Equal("Diop", stored.LastName, "absent fields stay untouched")
		s.Equal("awa.diop@example.sn", stored.Email)
	})

	s.Run("reports no changes for an identical snapshot", func() {
		e := s.updateEvent(event.TypeUpdateProfile, &event.Snapshot{LastName: ptr("Diop")})

		res, err := s.profile.Handle(s.ctx, e)
		s.Require().NoError(err)
		s.True(res.Success)
		s.Contains(res.Message, "no changes")
	})

	s.Run("fails non-retryable for an unknown user", func() {
		e := s.updateEvent(event.TypeUpdateProfile, &event.Snapshot{FirstName: ptr("X")})
		e.UserID = uuid.NewString()

		res, err := s.profile.Handle(s.ctx, e)
		s.Require().NoError(err)
		s.False(res.Success)
		s.Contains(res.Message, "no record found")
	})
}

func (s *UpdateSuite) TestEmailUpdate() {
	s.Run("changes only the email", func() {
		e := s.updateEvent(event.TypeUpdateEmail, &event.Snapshot{
			Email:     ptr("new@example.sn"),
			FirstName: ptr("ShouldBeIgnored"),
		})

		res, err := s.email.Handle(s.ctx, e)
		s.Require().NoError(err)
		s.True(res.Success)

		stored, err := s.store.Get(s.ctx, s.record.ID)
		s.Require().NoError(err)
		s.Equal("new@example.sn", stored.Email)
		s.Equal("Awa", stored.FirstName)
	})

	s.Run("same email is a no-op", func() {
		e := s.updateEvent(event.TypeUpdateEmail, &event.Snapshot{Email: ptr("awa.diop@example.sn")})

		res, err := s.email.Handle(s.ctx, e)
		s.Require().NoError(err)
		s.True(res.Success)
		s.Contains(res.Message, "no changes")
	})
}

func (s *UpdateSuite) TestAnonymizedRecordsAreSkipped() {
	now := time.Now().UTC()
	s.record.ApplySoftDelete(models.ReasonUserRequest, now)
	s.record.AnonymizedAt = &now
	s.Require().NoError(s.store.Update(s.ctx, s.record))

	e := s.updateEvent(event.TypeUpdateProfile, &event.Snapshot{FirstName: ptr("Aminata")})
	res, err := s.profile.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Contains(res.Message, "no changes")

	stored, err := s.store.Get(s.ctx, s.record.ID)
	s.Require().NoError(err)
	s.NotEqual("Aminata", stored.FirstName)
}
