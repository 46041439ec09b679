package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sante/internal/event"
	"sante/internal/gdpr"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	"sante/internal/notify"
	"sante/internal/platform/logger"
	id "sante/pkg/domain"
	"sante/pkg/platform/tx"
)

func ptr(s string) *string { return &s }

func registerEvent(userID string) event.Inbound {
	return event.Inbound{
		Type:    event.TypeRegister,
		RealmID: "sante",
		UserID:  userID,
		TimeMS:  time.Now().UnixMilli(),
		Snapshot: &event.Snapshot{
			FirstName:   ptr("Awa"),
			LastName:    ptr("Diop"),
			Email:       ptr("awa.diop@example.sn"),
			DateOfBirth: ptr("1972-03-14"),
			Gender:      ptr("F"),
			SecondaryID: ptr("SN-1972-00042"),
		},
	}
}

type RegistrationSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.MemoryStore
	recorder *notify.Recorder
	engine   *gdpr.Engine
	handler  *RegistrationHandler
}

func TestRegistrationSuite(t *testing.T) {
	suite.Run(t, new(RegistrationSuite))
}

func (s *RegistrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.recorder = notify.NewRecorder(nil)
	s.engine = gdpr.NewEngine(s.store, tx.Passthrough{}, s.recorder, gdpr.NewHasher("salt"))
	s.handler = NewRegistrationHandler(s.store, tx.Passthrough{}, s.engine, s.recorder, logger.New("test"))
}

func (s *RegistrationSuite) TestCreatesRecord() {
	e := registerEvent(uuid.NewString())

	res, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.True(res.Success)
	s.NotEmpty(res.RecordID)

	recordID, err := id.ParseRecordID(res.RecordID)
	s.Require().NoError(err)
	record, err := s.store.Get(s.ctx, recordID)
	s.Require().NoError(err)
	s.Equal("awa.diop@example.sn", record.Email)
	s.Equal(models.KindPatient, record.Kind)
	s.True(record.IsActive)
	s.Equal(1, s.recorder.TopicCount(notify.TopicCreated))
}

func (s *RegistrationSuite) TestSpecialtySelectsProfessionalKind() {
	e := registerEvent(uuid.NewString())
	e.Snapshot.Specialty = ptr("cardiology")

	res, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.True(res.Success)

	recordID, err := id.ParseRecordID(res.RecordID)
	s.Require().NoError(err)
	record, err := s.store.Get(s.ctx, recordID)
	s.Require().NoError(err)
	s.Equal(models.KindProfessional, record.Kind)
}

func (s *RegistrationSuite) TestReplayIsIdempotent() {
	e := registerEvent(uuid.NewString())

	first, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.Require().True(first.Success)

	replay, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.True(replay.Success)
	s.Contains(replay.Message, "already synchronized")

	userID, err := id.ParseUserID(e.UserID)
	s.Require().NoError(err)
	records, err := s.store.GetByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Len(records, 1)
	s.Equal(1, s.recorder.TopicCount(notify.TopicCreated))
}

func (s *RegistrationSuite) TestMissingRequiredFieldsFailNonRetryable() {
	e := registerEvent(uuid.NewString())
	e.Snapshot.FirstName = nil
	e.Snapshot.Gender = ptr("")

	res, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err, "business failures must not trigger retries")
	s.False(res.Success)
	s.Contains(res.Message, "first_name")
	s.Contains(res.Message, "gender")

	userID, parseErr := id.ParseUserID(e.UserID)
	s.Require().NoError(parseErr)
	records, storeErr := s.store.GetByUser(s.ctx, userID)
	s.Require().NoError(storeErr)
	s.Empty(records)
}

func (s *RegistrationSuite) TestMalformedUserIDFailsNonRetryable() {
	e := registerEvent("not-a-uuid")
	res, err := s.handler.Handle(s.ctx, e)
	s.Require().NoError(err)
	s.False(res.Success)
}

func (s *RegistrationSuite) TestReturningUserCorrelation() {
	// Register, delete, and anonymize a first identity.
	original := registerEvent(uuid.NewString())
	res, err := s.handler.Handle(s.ctx, original)
	s.Require().NoError(err)
	recordID, err := id.ParseRecordID(res.RecordID)
	s.Require().NoError(err)

	s.Require().NoError(s.engine.SoftDelete(s.ctx, recordID, models.ReasonUserRequest, "user"))
	record, err := s.store.Get(s.ctx, recordID)
	s.Require().NoError(err)
	past := record.SoftDeletedAt.Add(-8 * 24 * time.Hour)
	record.SoftDeletedAt = &past
	s.Require().NoError(s.store.Update(s.ctx, record))
	count, err := s.engine.AnonymizeExpired(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Require().Equal(1, count)

	// The same person registers again under a fresh provider id.
	returning := registerEvent(uuid.NewString())
	res, err = s.handler.Handle(s.ctx, returning)
	s.Require().NoError(err)
	s.True(res.Success)

	s.Equal(1, s.recorder.TopicCount(notify.TopicReturningUser))
	last, ok := s.recorder.Last(notify.TopicReturningUser)
	s.Require().True(ok)
	payload := last.Payload.(map[string]any)
	s.Equal(recordID.String(), payload["stale_record_id"])
}
