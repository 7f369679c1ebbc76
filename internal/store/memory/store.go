// Package memory keeps every store contract in process memory. It backs the
// dev profile (STORE_DRIVER=memory) and the engine tests; nothing survives a
// restart, so it is not a durable counter store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	counters sync.Map

	mu        sync.RWMutex
	visits    map[string]models.Visit
	byRequest map[string]string
	byPhone   map[string][]string
	byNameDOB map[string][]string
	issued    map[string]string
	doctors   map[string]models.Doctor
	outbox    []store.OutboxEvent
	outboxSeq int64
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		visits:    make(map[string]models.Visit),
		byRequest: make(map[string]string),
		byPhone:   make(map[string][]string),
		byNameDOB: make(map[string][]string),
		issued:    make(map[string]string),
		doctors:   make(map[string]models.Doctor),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) counter(key string) *int64 {
	value, _ := s.counters.LoadOrStore(key, new(int64))
	return value.(*int64)
}

func (s *Store) IncrementYearCounter(ctx context.Context, year int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return atomic.AddInt64(s.counter(fmt.Sprintf("opd:%d", year)), 1), nil
}

func (s *Store) IncrementDoctorDayCounter(ctx context.Context, doctorID, day string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return atomic.AddInt64(s.counter("token:"+doctorID+":"+day), 1), nil
}

func (s *Store) InsertVisit(ctx context.Context, visit models.Visit) (models.Visit, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if visit.RequestID != "" {
		if id, ok := s.byRequest[visit.RequestID]; ok {
			return s.visits[id], false, nil
		}
	}

	opdKey := fmt.Sprintf("opd:%d:%d", visit.OPDYear, visit.OPDSequence)
	tokenKey := fmt.Sprintf("token:%s:%s:%d", visit.DoctorID, visit.VisitDate, visit.TokenNumber)
	if _, taken := s.issued[opdKey]; taken {
		return models.Visit{}, false, store.ErrDuplicateNumber
	}
	if _, taken := s.issued[tokenKey]; taken {
		return models.Visit{}, false, store.ErrDuplicateNumber
	}

	if visit.VisitID == "" {
		visit.VisitID = uuid.NewString()
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = s.now()
	}

	s.visits[visit.VisitID] = visit
	s.issued[opdKey] = visit.VisitID
	s.issued[tokenKey] = visit.VisitID
	if visit.RequestID != "" {
		s.byRequest[visit.RequestID] = visit.VisitID
	}
	s.byPhone[visit.Phone] = append(s.byPhone[visit.Phone], visit.VisitID)
	if visit.DOB != "" {
		key := nameDOBKey(visit.PatientName, visit.DOB)
		s.byNameDOB[key] = append(s.byNameDOB[key], visit.VisitID)
	}

	if err := s.appendEvent(store.EventVisitRegistered, visit); err != nil {
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visit, ok := s.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	return visit, nil
}

func (s *Store) FindVisitByRequestID(ctx context.Context, requestID string) (models.Visit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRequest[requestID]
	if !ok {
		return models.Visit{}, false, nil
	}
	return s.visits[id], true, nil
}

func (s *Store) VoidVisit(ctx context.Context, input store.VoidVisitInput) (models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	visit, ok := s.visits[input.VisitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	status, err := store.Apply(store.ActionVoid, visit.Status)
	if err != nil {
		return visit, err
	}

	voidedAt := input.VoidedAt
	if voidedAt.IsZero() {
		voidedAt = s.now()
	}
	visit.Status = status
	visit.VoidReason = input.Reason
	visit.VoidedBy = input.VoidedBy
	visit.VoidedAt = &voidedAt
	s.visits[visit.VisitID] = visit

	if err := s.appendEvent(store.EventVisitVoided, visit); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) ListVisitsByPhone(ctx context.Context, phone string) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byPhone[phone]), nil
}

func (s *Store) ListVisitsByNameAndDOB(ctx context.Context, name, dob string) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byNameDOB[nameDOBKey(name, dob)]), nil
}

func (s *Store) ListVisits(ctx context.Context, filter store.VisitFilter) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var visits []models.Visit
	for _, visit := range s.visits {
		if filter.From != "" && visit.VisitDate < filter.From {
			continue
		}
		if filter.To != "" && visit.VisitDate > filter.To {
			continue
		}
		if filter.DoctorID != "" && visit.DoctorID != filter.DoctorID {
			continue
		}
		if filter.VisitType != "" && visit.VisitType != filter.VisitType {
			continue
		}
		if filter.Status != "" && visit.Status != filter.Status {
			continue
		}
		visits = append(visits, visit)
	}
	sortByCreatedAt(visits)
	return visits, nil
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doctor, ok := s.doctors[doctorID]
	if !ok {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	return doctor, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doctors := make([]models.Doctor, 0, len(s.doctors))
	for _, doctor := range s.doctors {
		doctors = append(doctors, doctor)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors, nil
}

func (s *Store) UpsertDoctor(ctx context.Context, doctor models.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.doctors[doctor.DoctorID]; ok {
		doctor.CreatedAt = existing.CreatedAt
	}
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = s.now()
	}
	s.doctors[doctor.DoctorID] = doctor
	return nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if event.Seq <= afterSeq {
			continue
		}
		events = append(events, event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) LatestOutboxSeq(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outboxSeq, nil
}

// appendEvent requires s.mu held for writing.
func (s *Store) appendEvent(eventType string, visit models.Visit) error {
	payload, err := store.VisitEventPayload(visit)
	if err != nil {
		return err
	}
	s.outboxSeq++
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:       s.outboxSeq,
		EventID:   uuid.NewString(),
		Type:      eventType,
		VisitID:   visit.VisitID,
		DoctorID:  visit.DoctorID,
		Payload:   payload,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) collect(ids []string) []models.Visit {
	visits := make([]models.Visit, 0, len(ids))
	for _, id := range ids {
		visits = append(visits, s.visits[id])
	}
	sortByCreatedAt(visits)
	return visits
}

func sortByCreatedAt(visits []models.Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		if visits[i].CreatedAt.Equal(visits[j].CreatedAt) {
			return visits[i].OPDSequence < visits[j].OPDSequence
		}
		return visits[i].CreatedAt.Before(visits[j].CreatedAt)
	})
}

func nameDOBKey(name, dob string) string {
	return store.NameKey(name) + "|" + dob
}
