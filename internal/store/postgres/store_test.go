package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var visitRowColumns = []string{
	"visit_id", "request_id", "opd_number", "opd_year", "opd_sequence", "token_number", "doctor_id", "doctor_name",
	"phone", "patient_name", "sex", "age", "dob", "address", "allergies", "complaint", "visit_type", "status",
	"resolution", "duplicate_reason", "void_reason", "voided_at", "voided_by", "terminal_id", "registered_by",
	"visit_date", "created_at",
}

// anyArgs matches n placeholders; pgxmock treats a missing WithArgs as zero arguments.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

const (
	insertVisitArgs = 25
	outboxArgs      = 5
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func activeVisitRow(createdAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(visitRowColumns).AddRow(
		"visit-1", nil, "002/25", 2025, int64(2), 2, "doc-a", "Dr. Mehta",
		"9876543210", "Asha Rao", "female", nil, "", "", "", "", "new", "active",
		"", "", "", nil, "", "desk-1", "staff-1",
		"2025-03-04", createdAt,
	)
}

func TestIncrementYearCounterUpsert(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO opd_year_counters").
		WithArgs(2025).
		WillReturnRows(pgxmock.NewRows([]string{"last_number"}).AddRow(int64(3)))

	next, err := st.IncrementYearCounter(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementDoctorDayCounterUpsert(t *testing.T) {
	st, mock := newMockStore(t)

	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO doctor_day_counters").
		WithArgs("doc-a", day).
		WillReturnRows(pgxmock.NewRows([]string{"last_token"}).AddRow(int64(1)))

	next, err := st.IncrementDoctorDayCounter(context.Background(), "doc-a", "2025-03-04")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementDoctorDayCounterRejectsBadDay(t *testing.T) {
	st, _ := newMockStore(t)

	_, err := st.IncrementDoctorDayCounter(context.Background(), "doc-a", "04/03/2025")
	require.Error(t, err)
}

func TestIncrementYearCounterPropagatesFailure(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO opd_year_counters").
		WithArgs(2025).
		WillReturnError(errors.New("connection refused"))

	_, err := st.IncrementYearCounter(context.Background(), 2025)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertVisitWritesOutboxInSameTx(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO visits").
		WithArgs(anyArgs(insertVisitArgs)...).
		WillReturnRows(pgxmock.NewRows([]string{"visit_id"}).AddRow("visit-1"))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), store.EventVisitRegistered, "visit-1", "doc-a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, created, err := st.InsertVisit(context.Background(), models.Visit{
		VisitID:     "visit-1",
		OPDNumber:   "001/25",
		OPDYear:     2025,
		OPDSequence: 1,
		TokenNumber: 1,
		DoctorID:    "doc-a",
		Phone:       "9876543210",
		PatientName: "Asha Rao",
		Sex:         models.SexFemale,
		VisitType:   models.VisitTypeNew,
		Status:      models.StatusActive,
		VisitDate:   "2025-03-04",
		CreatedAt:   time.Date(2025, 3, 4, 4, 30, 0, 123456789, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "visit-1", visit.VisitID)
	assert.Equal(t, 123456000, visit.CreatedAt.Nanosecond())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertVisitMapsUniqueViolation(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO visits").
		WithArgs(anyArgs(insertVisitArgs)...).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "visits_token_unique"})
	mock.ExpectRollback()

	_, _, err := st.InsertVisit(context.Background(), models.Visit{
		OPDNumber:   "001/25",
		OPDYear:     2025,
		OPDSequence: 1,
		TokenNumber: 1,
		DoctorID:    "doc-a",
		VisitDate:   "2025-03-04",
	})
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVoidVisitLocksRowAndWritesEvent(t *testing.T) {
	st, mock := newMockStore(t)
	createdAt := time.Date(2025, 3, 4, 4, 30, 0, 0, time.UTC)
	voidedAt := time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = \\$1 FOR UPDATE").
		WithArgs("visit-1").
		WillReturnRows(activeVisitRow(createdAt))
	mock.ExpectExec("UPDATE visits").
		WithArgs("visit-1", models.StatusVoided, "patient left before consultation", voidedAt, "staff-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), store.EventVisitVoided, "visit-1", "doc-a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, err := st.VoidVisit(context.Background(), store.VoidVisitInput{
		VisitID:  "visit-1",
		Reason:   "patient left before consultation",
		VoidedBy: "staff-2",
		VoidedAt: voidedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusVoided, visit.Status)
	assert.Equal(t, "002/25", visit.OPDNumber)
	assert.Equal(t, 2, visit.TokenNumber)
	require.NotNil(t, visit.VoidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVoidVisitNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(visitRowColumns))
	mock.ExpectRollback()

	_, err := st.VoidVisit(context.Background(), store.VoidVisitInput{VisitID: "missing", Reason: "x"})
	assert.ErrorIs(t, err, store.ErrVisitNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestOutboxSeq(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(seq\\), 0\\) FROM outbox_events").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(42)))

	seq, err := st.LatestOutboxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapWriteError(t *testing.T) {
	assert.ErrorIs(t, mapWriteError(&pgconn.PgError{Code: pgForeignKeyViolation}), store.ErrDoctorNotFound)
	assert.ErrorIs(t, mapWriteError(&pgconn.PgError{Code: pgUniqueViolation}), store.ErrDuplicateNumber)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapWriteError(plain))
}
