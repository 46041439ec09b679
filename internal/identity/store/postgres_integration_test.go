//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sante/internal/identity/models"
	"sante/internal/identity/store"
	id "sante/pkg/domain"
	"sante/pkg/platform/sentinel"
	"sante/pkg/platform/tx"
	"sante/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "identity_records"))
}

func (s *PostgresStoreSuite) newRecord(kind models.Kind) *models.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	record := models.NewRecord(id.UserID(uuid.New()), "sante", kind, now)
	record.FirstName = "Awa"
	record.LastName = "Diop"
	record.Email = "awa.diop@example.sn"
	return record
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	record := s.newRecord(models.KindPatient)
	record.Phone = "+221771234567"
	record.SecondaryID = "SN-1972-00042"

	s.Require().NoError(s.store.Create(ctx, record))

	found, err := s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.UserID, found.UserID)
	s.Equal(record.Email, found.Email)
	s.Equal(record.SecondaryID, found.SecondaryID)
	s.True(found.IsActive)
	s.Nil(found.SoftDeletedAt)
	s.Empty(found.CorrelationHash)
}

func (s *PostgresStoreSuite) TestUniqueViolationMapsToConflict() {
	ctx := context.Background()
	record := s.newRecord(models.KindPatient)
	s.Require().NoError(s.store.Create(ctx, record))

	duplicate := s.newRecord(models.KindPatient)
	duplicate.UserID = record.UserID
	s.Require().ErrorIs(s.store.Create(ctx, duplicate), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestLifecycleFieldsPersist() {
	ctx := context.Background()
	record := s.newRecord(models.KindProfessional)
	s.Require().NoError(s.store.Create(ctx, record))

	now := time.Now().UTC().Truncate(time.Microsecond)
	record.CorrelationHash = "a2f198c45be7d3fa61c902de4b3a881f5f7e2ac94d07b6e3518cd2940ffa6c1b"
	record.ApplySoftDelete(models.ReasonUserRequest, now)
	s.Require().NoError(s.store.Update(ctx, record))

	found, err := s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.False(found.IsActive)
	s.Require().NotNil(found.SoftDeletedAt)
	s.Equal(models.ReasonUserRequest, found.DeletionReason)
	s.Equal(record.CorrelationHash, found.CorrelationHash)
}

func (s *PostgresStoreSuite) TestListAnonymizeDueBoundary() {
	ctx := context.Background()
	grace := 7 * 24 * time.Hour
	now := time.Now().UTC().Truncate(time.Microsecond)

	due := s.newRecord(models.KindPatient)
	due.ApplySoftDelete(models.ReasonUserRequest, now.Add(-grace))
	s.Require().NoError(s.store.Create(ctx, due))

	fresh := s.newRecord(models.KindPatient)
	fresh.ApplySoftDelete(models.ReasonUserRequest, now.Add(-grace).Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, fresh))

	listed, err := s.store.ListAnonymizeDue(ctx, now, grace, 100)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(due.ID, listed[0].ID)
}

func (s *PostgresStoreSuite) TestWritesJoinContextTransaction() {
	ctx := context.Background()
	record := s.newRecord(models.KindPatient)

	runner := tx.NewSQLRunner(s.postgres.DB)

	// A failed unit of work leaves no trace.
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, record); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Require().Error(err)
	_, err = s.store.Get(ctx, record.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// A committed one persists.
	s.Require().NoError(runner.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, record)
	}))
	_, err = s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
}
