package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"clinic/registration-service/internal/models"
)

// CounterStore owns the YearCounter and DoctorDayCounter tables. Each call
// increments the keyed counter by one, creating it at zero first when absent,
// and returns the new value. Implementations must be atomic per key.
type CounterStore interface {
	IncrementYearCounter(ctx context.Context, year int) (int64, error)
	IncrementDoctorDayCounter(ctx context.Context, doctorID, day string) (int64, error)
}

type VoidVisitInput struct {
	VisitID  string
	Reason   string
	VoidedBy string
	VoidedAt time.Time
}

type VisitFilter struct {
	From      string
	To        string
	DoctorID  string
	VisitType string
	Status    string
}

type VisitStore interface {
	// InsertVisit persists a new visit and its visit.registered event. When
	// the visit carries a request id that is already stored, the existing
	// visit is returned with created=false.
	InsertVisit(ctx context.Context, visit models.Visit) (models.Visit, bool, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, error)
	FindVisitByRequestID(ctx context.Context, requestID string) (models.Visit, bool, error)
	// VoidVisit applies the void transition and writes a visit.voided event.
	// It returns ErrAlreadyVoided together with the stored visit when the
	// visit is already terminal.
	VoidVisit(ctx context.Context, input VoidVisitInput) (models.Visit, error)
	ListVisitsByPhone(ctx context.Context, phone string) ([]models.Visit, error)
	ListVisitsByNameAndDOB(ctx context.Context, name, dob string) ([]models.Visit, error)
	ListVisits(ctx context.Context, filter VisitFilter) ([]models.Visit, error)
}

type DoctorDirectory interface {
	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
}

type DoctorWriter interface {
	UpsertDoctor(ctx context.Context, doctor models.Doctor) error
}

type OutboxReader interface {
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]OutboxEvent, error)
	LatestOutboxSeq(ctx context.Context) (int64, error)
}

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	VisitID   string          `json:"visit_id"`
	DoctorID  string          `json:"doctor_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NameKey is the case-insensitive form used for name matching.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
