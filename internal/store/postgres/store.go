package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const visitColumns = `
	visit_id, request_id, opd_number, opd_year, opd_sequence, token_number, doctor_id, doctor_name,
	phone, patient_name, sex, age, dob, address, allergies, complaint, visit_type, status,
	resolution, duplicate_reason, void_reason, voided_at, voided_by, terminal_id, registered_by,
	visit_date::text, created_at`

func (s *Store) IncrementYearCounter(ctx context.Context, year int) (int64, error) {
	var next int64
	row := s.db.QueryRow(ctx, `
		INSERT INTO opd_year_counters (year, last_number)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET last_number = opd_year_counters.last_number + 1, updated_at = NOW()
		RETURNING last_number
	`, year)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) IncrementDoctorDayCounter(ctx context.Context, doctorID, day string) (int64, error) {
	date, err := time.Parse(models.DateLayout, day)
	if err != nil {
		return 0, fmt.Errorf("parse counter day: %w", err)
	}
	var next int64
	row := s.db.QueryRow(ctx, `
		INSERT INTO doctor_day_counters (doctor_id, day, last_token)
		VALUES ($1, $2, 1)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET last_token = doctor_day_counters.last_token + 1, updated_at = NOW()
		RETURNING last_token
	`, doctorID, date)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) InsertVisit(ctx context.Context, visit models.Visit) (models.Visit, bool, error) {
	visitDate, err := time.Parse(models.DateLayout, visit.VisitDate)
	if err != nil {
		return models.Visit{}, false, fmt.Errorf("parse visit date: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if visit.RequestID != "" {
		var existing models.Visit
		var found bool
		existing, found, err = findVisitByRequestID(ctx, tx, visit.RequestID)
		if err != nil {
			return models.Visit{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Visit{}, false, err
			}
			return existing, false, nil
		}
	}

	if visit.VisitID == "" {
		visit.VisitID = uuid.NewString()
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	visit.CreatedAt = visit.CreatedAt.Truncate(time.Microsecond)

	var insertedID string
	row := tx.QueryRow(ctx, `
		INSERT INTO visits (
			visit_id, request_id, opd_number, opd_year, opd_sequence, token_number, doctor_id, doctor_name,
			phone, patient_name, name_key, sex, age, dob, address, allergies, complaint, visit_type, status,
			resolution, duplicate_reason, terminal_id, registered_by, visit_date, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING visit_id
	`, visit.VisitID, nullIfEmpty(visit.RequestID), visit.OPDNumber, visit.OPDYear, visit.OPDSequence, visit.TokenNumber,
		visit.DoctorID, visit.DoctorName, visit.Phone, visit.PatientName, store.NameKey(visit.PatientName), visit.Sex,
		nullIntPtr(visit.Age), visit.DOB, visit.Address, visit.Allergies, visit.Complaint, visit.VisitType, visit.Status,
		visit.Resolution, visit.DuplicateReason, visit.TerminalID, visit.RegisteredBy, visitDate, visit.CreatedAt)
	if err = row.Scan(&insertedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent request with the same request id won the insert.
			var existing models.Visit
			var found bool
			existing, found, err = findVisitByRequestID(ctx, tx, visit.RequestID)
			if err != nil {
				return models.Visit{}, false, err
			}
			if !found {
				err = store.ErrVisitNotFound
				return models.Visit{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Visit{}, false, err
			}
			return existing, false, nil
		}
		err = mapWriteError(err)
		return models.Visit{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventVisitRegistered, visit); err != nil {
		return models.Visit{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	row := s.db.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) FindVisitByRequestID(ctx context.Context, requestID string) (models.Visit, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE request_id = $1`, requestID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func (s *Store) VoidVisit(ctx context.Context, input store.VoidVisitInput) (models.Visit, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var visit models.Visit
	row := tx.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1 FOR UPDATE`, input.VisitID)
	visit, err = scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}

	var status string
	status, err = store.Apply(store.ActionVoid, visit.Status)
	if err != nil {
		return visit, err
	}

	voidedAt := input.VoidedAt
	if voidedAt.IsZero() {
		voidedAt = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		UPDATE visits
		SET status = $2, void_reason = $3, voided_at = $4, voided_by = $5
		WHERE visit_id = $1
	`, visit.VisitID, status, input.Reason, voidedAt, input.VoidedBy); err != nil {
		return models.Visit{}, err
	}
	visit.Status = status
	visit.VoidReason = input.Reason
	visit.VoidedAt = &voidedAt
	visit.VoidedBy = input.VoidedBy

	if err = insertOutboxEvent(ctx, tx, store.EventVisitVoided, visit); err != nil {
		return models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) ListVisitsByPhone(ctx context.Context, phone string) ([]models.Visit, error) {
	return s.queryVisits(ctx, `SELECT `+visitColumns+` FROM visits WHERE phone = $1 ORDER BY created_at ASC, opd_sequence ASC`, phone)
}

func (s *Store) ListVisitsByNameAndDOB(ctx context.Context, name, dob string) ([]models.Visit, error) {
	return s.queryVisits(ctx, `SELECT `+visitColumns+` FROM visits WHERE name_key = $1 AND dob = $2 AND dob <> '' ORDER BY created_at ASC, opd_sequence ASC`, store.NameKey(name), dob)
}

func (s *Store) ListVisits(ctx context.Context, filter store.VisitFilter) ([]models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE TRUE`
	var args []interface{}
	if filter.From != "" {
		from, err := time.Parse(models.DateLayout, filter.From)
		if err != nil {
			return nil, fmt.Errorf("parse from date: %w", err)
		}
		args = append(args, from)
		query += fmt.Sprintf(" AND visit_date >= $%d", len(args))
	}
	if filter.To != "" {
		to, err := time.Parse(models.DateLayout, filter.To)
		if err != nil {
			return nil, fmt.Errorf("parse to date: %w", err)
		}
		args = append(args, to)
		query += fmt.Sprintf(" AND visit_date <= $%d", len(args))
	}
	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if filter.VisitType != "" {
		args = append(args, filter.VisitType)
		query += fmt.Sprintf(" AND visit_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, opd_sequence ASC"
	return s.queryVisits(ctx, query, args...)
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	var doctor models.Doctor
	row := s.db.QueryRow(ctx, `
		SELECT doctor_id, name, department, active, created_at
		FROM doctors
		WHERE doctor_id = $1
	`, doctorID)
	if err := row.Scan(&doctor.DoctorID, &doctor.Name, &doctor.Department, &doctor.Active, &doctor.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Doctor{}, store.ErrDoctorNotFound
		}
		return models.Doctor{}, err
	}
	return doctor, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT doctor_id, name, department, active, created_at
		FROM doctors
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []models.Doctor
	for rows.Next() {
		var doctor models.Doctor
		if err := rows.Scan(&doctor.DoctorID, &doctor.Name, &doctor.Department, &doctor.Active, &doctor.CreatedAt); err != nil {
			return nil, err
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (s *Store) UpsertDoctor(ctx context.Context, doctor models.Doctor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO doctors (doctor_id, name, department, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id)
		DO UPDATE SET name = EXCLUDED.name, department = EXCLUDED.department, active = EXCLUDED.active
	`, doctor.DoctorID, doctor.Name, doctor.Department, doctor.Active)
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT seq, event_id, type, visit_id, doctor_id, payload, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &event.VisitID, &event.DoctorID, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) LatestOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox_events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) queryVisits(ctx context.Context, query string, args ...interface{}) ([]models.Visit, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func findVisitByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Visit, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE request_id = $1`, requestID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, visit models.Visit) error {
	payload, err := store.VisitEventPayload(visit)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, visit_id, doctor_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), eventType, visit.VisitID, visit.DoctorID, []byte(payload))
	return err
}

func scanVisit(row pgx.Row) (models.Visit, error) {
	var visit models.Visit
	var requestIDNull sql.NullString
	var ageNull sql.NullInt32
	var voidedAtNull sql.NullTime
	if err := row.Scan(
		&visit.VisitID, &requestIDNull, &visit.OPDNumber, &visit.OPDYear, &visit.OPDSequence, &visit.TokenNumber,
		&visit.DoctorID, &visit.DoctorName, &visit.Phone, &visit.PatientName, &visit.Sex, &ageNull, &visit.DOB,
		&visit.Address, &visit.Allergies, &visit.Complaint, &visit.VisitType, &visit.Status, &visit.Resolution,
		&visit.DuplicateReason, &visit.VoidReason, &voidedAtNull, &visit.VoidedBy, &visit.TerminalID,
		&visit.RegisteredBy, &visit.VisitDate, &visit.CreatedAt,
	); err != nil {
		return models.Visit{}, err
	}
	if requestIDNull.Valid {
		visit.RequestID = requestIDNull.String
	}
	if ageNull.Valid {
		age := int(ageNull.Int32)
		visit.Age = &age
	}
	visit.VoidedAt = nullTimePtr(voidedAtNull)
	return visit, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrDuplicateNumber, pgErr.ConstraintName)
	case pgForeignKeyViolation:
		return store.ErrDoctorNotFound
	default:
		return err
	}
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIntPtr(value *int) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
