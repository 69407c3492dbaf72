package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
)

// Note on SQL Query Matching in Tests:
// ----------------------------------
// GORM generates SQL with clauses that make exact string matching brittle,
// so these tests use sqlmock.QueryMatcherRegexp with partial patterns and
// sqlmock.AnyArg() for parameters that vary.

// AnyTime matches any time.Time argument
type AnyTime struct{}

// Match satisfies sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// newMockDB creates a mock DB and GORM instance for testing
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}

	return gormDB, mock, teardown
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "connection exception pg code", err: &pgconn.PgError{Code: "08006"}, expected: true},
		{name: "insufficient resources pg code", err: &pgconn.PgError{Code: "53300"}, expected: true},
		{name: "deadlock pg code", err: &pgconn.PgError{Code: "40P01"}, expected: true},
		{name: "unique violation pg code", err: &pgconn.PgError{Code: "23505"}, expected: false},
		{name: "connection refused string", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "generic error", err: errors.New("something else broke"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestCheckConstraintViolation(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "nil error", err: nil, expected: nil},
		{name: "record not found", err: gorm.ErrRecordNotFound, expected: apperrors.ErrNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "contacts_phone_key"}, expected: apperrors.ErrDuplicate},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}, expected: apperrors.ErrBadRequest},
		{name: "not null violation", err: &pgconn.PgError{Code: "23502", ColumnName: "phone"}, expected: apperrors.ErrBadRequest},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, expected: apperrors.ErrDatabase},
		{name: "generic error", err: errors.New("boom"), expected: apperrors.ErrDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := checkConstraintViolation(tc.err)
			if tc.expected == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.expected)
		})
	}
}

func TestIncrementCampaignCounter(t *testing.T) {
	t.Run("unknown counter rejected", func(t *testing.T) {
		gormDB, _, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		err := repo.IncrementCampaignCounter(context.Background(), "camp-1", "status")
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})

	t.Run("sent count incremented atomically", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "campaigns" SET "sent_count"=sent_count \+ \$1 WHERE id = \$2`).
			WithArgs(1, "camp-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.IncrementCampaignCounter(context.Background(), "camp-1", "sent_count")
		assert.NoError(t, err)
	})

	t.Run("missing campaign returns not found", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "campaigns" SET "failed_count"=failed_count \+ \$1 WHERE id = \$2`).
			WithArgs(1, "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.IncrementCampaignCounter(context.Background(), "missing", "failed_count")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestCompleteCampaignIfDone(t *testing.T) {
	now := time.Now().UTC()

	t.Run("transition applied once", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "campaigns" SET .+ WHERE id = \$\d+ AND status = \$\d+ AND total_recipients > 0 AND sent_count \+ failed_count >= total_recipients`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		completed, err := repo.CompleteCampaignIfDone(context.Background(), "camp-1", now)
		require.NoError(t, err)
		assert.True(t, completed)
	})

	t.Run("not yet done reports false without error", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "campaigns" SET .+ WHERE id = \$\d+ AND status = \$\d+ AND total_recipients > 0 AND sent_count \+ failed_count >= total_recipients`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		completed, err := repo.CompleteCampaignIfDone(context.Background(), "camp-1", now)
		require.NoError(t, err)
		assert.False(t, completed)
	})
}

func TestTransitionMessageStatus(t *testing.T) {
	now := time.Now().UTC()

	t.Run("empty allowed list rejected", func(t *testing.T) {
		gormDB, _, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		_, err := repo.TransitionMessageStatus(context.Background(), "msg-1", model.MessageStatusSent, nil, "sent_at", now)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})

	t.Run("unknown stamp column rejected", func(t *testing.T) {
		gormDB, _, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		_, err := repo.TransitionMessageStatus(context.Background(), "msg-1", model.MessageStatusSent, []string{model.MessageStatusQueued}, "status", now)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})

	t.Run("guarded transition applied", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "messages" SET .+ WHERE id = \$\d+ AND status IN \(.+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.TransitionMessageStatus(context.Background(), "msg-1", model.MessageStatusDelivered,
			[]string{model.MessageStatusQueued, model.MessageStatusSent}, "delivered_at", now)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("duplicate event reports not applied", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "messages" SET .+ WHERE id = \$\d+ AND status IN \(.+\)`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := repo.TransitionMessageStatus(context.Background(), "msg-1", model.MessageStatusDelivered,
			[]string{model.MessageStatusQueued, model.MessageStatusSent}, "delivered_at", now)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestMarkMessageSent(t *testing.T) {
	now := time.Now().UTC()

	t.Run("status and channel id written in one update", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "messages" SET .*"channel_message_id"=\$\d+.* WHERE id = \$\d+ AND status IN \(.+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.MarkMessageSent(context.Background(), "msg-1", "wamid.42", now)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("already acked row is left alone", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "messages" SET .+ WHERE id = \$\d+ AND status IN \(.+\)`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := repo.MarkMessageSent(context.Background(), "msg-1", "wamid.42", now)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestFindDueContactSequences(t *testing.T) {
	now := time.Now().UTC()

	t.Run("filters on active status and due time", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		rows := sqlmock.NewRows([]string{"id", "status", "current_step"}).
			AddRow("cs-1", model.ContactSequenceActive, 1)
		mock.ExpectQuery(`SELECT .+ FROM "contact_sequences" WHERE status = \$\d+ AND next_run_at IS NOT NULL AND next_run_at <= \$\d+ ORDER BY next_run_at ASC`).
			WithArgs(model.ContactSequenceActive, AnyTime{}, 50).
			WillReturnRows(rows)

		due, err := repo.FindDueContactSequences(context.Background(), now, 50)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "cs-1", due[0].ID)
	})

	t.Run("no due rows yields empty slice", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectQuery(`SELECT .+ FROM "contact_sequences"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		due, err := repo.FindDueContactSequences(context.Background(), now, 50)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestAdvanceContactSequence(t *testing.T) {
	next := time.Now().UTC().Add(24 * time.Hour)

	t.Run("guarded advance applied", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "contact_sequences" SET .+ WHERE id = \$\d+ AND current_step = \$\d+ AND status = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.AdvanceContactSequence(context.Background(), "cs-1", 1, &next)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("redelivered step reports not applied", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "contact_sequences" SET .+ WHERE id = \$\d+ AND current_step = \$\d+ AND status = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := repo.AdvanceContactSequence(context.Background(), "cs-1", 1, &next)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestUpdateContactSequenceStatus(t *testing.T) {
	t.Run("completion clears next run time", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "contact_sequences" SET .*"next_run_at"=NULL.* WHERE id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateContactSequenceStatus(context.Background(), "cs-1", model.ContactSequenceCompleted)
		assert.NoError(t, err)
	})

	t.Run("missing enrollment returns not found", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		defer teardown()
		repo := NewPostgresRepoWithDB(gormDB)

		mock.ExpectExec(`UPDATE "contact_sequences" SET .+ WHERE id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateContactSequenceStatus(context.Background(), "missing", model.ContactSequencePaused)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
