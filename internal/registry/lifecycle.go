// Package registry is the visit registration engine: number allocation,
// same-day duplicate detection and the Active to Voided lifecycle.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ResolutionKind string

const (
	ResolutionReuse      ResolutionKind = "reuse"
	ResolutionFollowUp   ResolutionKind = "follow_up"
	ResolutionProceedNew ResolutionKind = "proceed_new"
)

// Resolution is the front desk's answer to a same-day duplicate warning.
type Resolution struct {
	Kind         ResolutionKind `json:"kind"`
	ReuseVisitID string         `json:"reuse_visit_id,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

type RegisterRequest struct {
	RequestID   string
	Phone       string
	PatientName string
	Sex         string
	Age         *int
	DOB         string
	Address     string
	Allergies   string
	Complaint   string
	DoctorID    string
	TerminalID  string
	StaffID     string
}

type VoidRequest struct {
	VisitID string
	Reason  string
	StaffID string
}

type Options struct {
	Location *time.Location
	Clock    func() time.Time
	Logger   zerolog.Logger
	Metrics  *Metrics
	Tracer   trace.Tracer
}

// Manager owns every write to a visit. Registration is the only path that
// allocates numbers and void is the only mutation.
type Manager struct {
	allocator *SequenceAllocator
	index     *IdentityIndex
	detector  *DuplicateDetector
	visits    store.VisitStore
	doctors   store.DoctorDirectory
	location  *time.Location
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

func NewManager(counters store.CounterStore, visits store.VisitStore, doctors store.DoctorDirectory, opts Options) *Manager {
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("clinic.registration.registry")
	}
	index := NewIdentityIndex(visits)
	return &Manager{
		allocator: NewSequenceAllocator(counters, location),
		index:     index,
		detector:  NewDuplicateDetector(index, location),
		visits:    visits,
		doctors:   doctors,
		location:  location,
		now:       clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    tracer,
	}
}

// RegisterVisit validates, checks for same-day duplicates, allocates numbers
// and persists a new Active visit. created is false when an existing visit
// is returned, either by request id replay or a reuse resolution.
func (m *Manager) RegisterVisit(ctx context.Context, req RegisterRequest, resolution *Resolution) (visit models.Visit, created bool, err error) {
	ctx, span := m.tracer.Start(ctx, "registry.register_visit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := m.now()
	today, _ := time.Parse(models.DateLayout, m.allocator.Day(now))
	req, err = req.normalize(today)
	if err != nil {
		m.metrics.ObserveRegistration(outcomeInvalid, "")
		return models.Visit{}, false, err
	}
	if err = resolution.validate(); err != nil {
		m.metrics.ObserveRegistration(outcomeInvalid, "")
		return models.Visit{}, false, err
	}
	span.SetAttributes(attribute.String("doctor_id", req.DoctorID))

	if req.RequestID != "" {
		existing, found, findErr := m.visits.FindVisitByRequestID(ctx, req.RequestID)
		if findErr != nil {
			err = findErr
			m.metrics.ObserveRegistration(outcomeError, "")
			return models.Visit{}, false, err
		}
		if found {
			m.metrics.ObserveRegistration(outcomeReplayed, existing.VisitType)
			return existing, false, nil
		}
	}

	doctor, err := m.doctors.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, store.ErrDoctorNotFound) {
			err = invalid("doctor_id", "doctor does not exist")
			m.metrics.ObserveRegistration(outcomeInvalid, "")
		} else {
			m.metrics.ObserveRegistration(outcomeError, "")
		}
		return models.Visit{}, false, err
	}
	if !doctor.Active {
		m.metrics.ObserveRegistration(outcomeInvalid, "")
		return models.Visit{}, false, invalid("doctor_id", "doctor is not accepting patients")
	}

	duplicates, err := m.detector.Detect(ctx, Candidate{Phone: req.Phone, Name: req.PatientName, DOB: req.DOB}, now)
	if err != nil {
		m.metrics.ObserveRegistration(outcomeError, "")
		return models.Visit{}, false, err
	}
	if resolution != nil && resolution.Kind == ResolutionReuse {
		reused, reuseErr := pickReuseTarget(duplicates.Candidates, resolution.ReuseVisitID)
		if reuseErr != nil {
			err = reuseErr
			m.metrics.ObserveRegistration(outcomeInvalid, "")
			return models.Visit{}, false, err
		}
		m.metrics.ObserveRegistration(outcomeReused, reused.VisitType)
		m.logger.Info().
			Str("visit_id", reused.VisitID).
			Str("opd_number", reused.OPDNumber).
			Msg("reused same-day visit")
		return reused, false, nil
	}
	if duplicates.HasDuplicates() && resolution == nil {
		m.metrics.ObserveRegistration(outcomeDuplicate, "")
		return models.Visit{}, false, &DuplicateError{Candidates: duplicates.Candidates}
	}

	visitType, err := m.visitType(ctx, req.Phone, resolution)
	if err != nil {
		m.metrics.ObserveRegistration(outcomeError, "")
		return models.Visit{}, false, err
	}

	opd, err := m.allocateOPD(ctx, now)
	if err != nil {
		m.metrics.ObserveRegistration(outcomeAllocation, visitType)
		m.logger.Error().Err(err).Str("doctor_id", req.DoctorID).Msg("opd allocation failed")
		return models.Visit{}, false, err
	}
	token, err := m.allocateToken(ctx, req.DoctorID, now)
	if err != nil {
		m.metrics.ObserveRegistration(outcomeAllocation, visitType)
		m.logger.Error().Err(err).Str("doctor_id", req.DoctorID).Str("opd_number", opd.String()).Msg("token allocation failed; opd number skipped")
		return models.Visit{}, false, err
	}

	visit = models.Visit{
		VisitID:      uuid.NewString(),
		RequestID:    req.RequestID,
		OPDNumber:    opd.String(),
		OPDYear:      opd.Year,
		OPDSequence:  opd.Sequence,
		TokenNumber:  token,
		DoctorID:     doctor.DoctorID,
		DoctorName:   doctor.Name,
		Phone:        req.Phone,
		PatientName:  req.PatientName,
		Sex:          req.Sex,
		Age:          req.Age,
		DOB:          req.DOB,
		Address:      req.Address,
		Allergies:    req.Allergies,
		Complaint:    req.Complaint,
		VisitType:    visitType,
		Status:       models.StatusActive,
		TerminalID:   req.TerminalID,
		RegisteredBy: req.StaffID,
		VisitDate:    m.allocator.Day(now),
		// Microsecond precision, the same as timestamptz.
		CreatedAt:    now.UTC().Truncate(time.Microsecond),
	}
	if resolution != nil {
		visit.Resolution = string(resolution.Kind)
		visit.DuplicateReason = resolution.Reason
	}

	stored, inserted, err := m.visits.InsertVisit(ctx, visit)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateNumber) {
			err = &AllocationError{Counter: CounterOPD, Err: err}
			m.metrics.ObserveRegistration(outcomeAllocation, visitType)
		} else {
			m.metrics.ObserveRegistration(outcomeError, visitType)
		}
		m.logger.Error().Err(err).
			Str("opd_number", visit.OPDNumber).
			Int("token_number", visit.TokenNumber).
			Msg("visit write failed; allocated numbers skipped")
		return models.Visit{}, false, err
	}
	if !inserted {
		m.metrics.ObserveRegistration(outcomeReplayed, stored.VisitType)
		return stored, false, nil
	}

	m.metrics.ObserveRegistration(outcomeCreated, stored.VisitType)
	span.SetAttributes(attribute.String("opd_number", stored.OPDNumber), attribute.Int("token_number", stored.TokenNumber))
	m.logger.Info().
		Str("visit_id", stored.VisitID).
		Str("opd_number", stored.OPDNumber).
		Int("token_number", stored.TokenNumber).
		Str("doctor_id", stored.DoctorID).
		Str("visit_type", stored.VisitType).
		Str("resolution", stored.Resolution).
		Msg("visit registered")
	return stored, true, nil
}

func (m *Manager) visitType(ctx context.Context, phone string, resolution *Resolution) (string, error) {
	if resolution != nil {
		switch resolution.Kind {
		case ResolutionFollowUp:
			return models.VisitTypeFollowUp, nil
		case ResolutionProceedNew:
			return models.VisitTypeNew, nil
		}
	}
	count, err := m.index.VisitCount(ctx, phone)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return models.VisitTypeNew, nil
	}
	return models.VisitTypeFollowUp, nil
}

func (m *Manager) allocateOPD(ctx context.Context, now time.Time) (OPDNumber, error) {
	start := time.Now()
	opd, err := m.allocator.AllocateOPDNumber(ctx, now)
	m.metrics.ObserveAllocation(CounterOPD, err, time.Since(start).Seconds())
	return opd, err
}

func (m *Manager) allocateToken(ctx context.Context, doctorID string, now time.Time) (int, error) {
	start := time.Now()
	token, err := m.allocator.AllocateTokenNumber(ctx, doctorID, now)
	m.metrics.ObserveAllocation(CounterToken, err, time.Since(start).Seconds())
	return token, err
}

func pickReuseTarget(candidates []models.Visit, visitID string) (models.Visit, error) {
	for _, candidate := range candidates {
		if candidate.VisitID != visitID {
			continue
		}
		if candidate.Status != models.StatusActive {
			return models.Visit{}, invalid("resolution.reuse_visit_id", "a voided visit cannot be reopened")
		}
		return candidate, nil
	}
	return models.Visit{}, invalid("resolution.reuse_visit_id", "visit is not a same-day match for this patient")
}

// VoidVisit moves an Active visit to Voided. Its numbers stay on the record
// and are never reissued.
func (m *Manager) VoidVisit(ctx context.Context, req VoidRequest) (visit models.Visit, err error) {
	ctx, span := m.tracer.Start(ctx, "registry.void_visit", trace.WithAttributes(attribute.String("visit_id", req.VisitID)))
	defer func() {
		if err != nil && !errors.Is(err, ErrAlreadyVoided) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	current, err := m.visits.GetVisit(ctx, strings.TrimSpace(req.VisitID))
	if err != nil {
		if errors.Is(err, store.ErrVisitNotFound) {
			m.metrics.ObserveVoid(outcomeNotFound)
			return models.Visit{}, ErrNotFound
		}
		m.metrics.ObserveVoid(outcomeError)
		return models.Visit{}, err
	}
	if current.Status == models.StatusVoided {
		m.metrics.ObserveVoid(outcomeNoop)
		return current, &AlreadyVoidedError{Visit: current}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		m.metrics.ObserveVoid(outcomeInvalid)
		return models.Visit{}, invalid("reason", "a void reason is required")
	}

	voided, err := m.visits.VoidVisit(ctx, store.VoidVisitInput{
		VisitID:  current.VisitID,
		Reason:   reason,
		VoidedBy: strings.TrimSpace(req.StaffID),
		VoidedAt: m.now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyVoided):
			m.metrics.ObserveVoid(outcomeNoop)
			return voided, &AlreadyVoidedError{Visit: voided}
		case errors.Is(err, store.ErrVisitNotFound):
			m.metrics.ObserveVoid(outcomeNotFound)
			return models.Visit{}, ErrNotFound
		}
		m.metrics.ObserveVoid(outcomeError)
		m.logger.Error().Err(err).Str("visit_id", current.VisitID).Msg("void write failed")
		return models.Visit{}, err
	}

	m.metrics.ObserveVoid(outcomeVoided)
	m.logger.Info().
		Str("visit_id", voided.VisitID).
		Str("opd_number", voided.OPDNumber).
		Int("token_number", voided.TokenNumber).
		Str("voided_by", voided.VoidedBy).
		Msg("visit voided")
	return voided, nil
}

func (m *Manager) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	visit, err := m.visits.GetVisit(ctx, strings.TrimSpace(visitID))
	if errors.Is(err, store.ErrVisitNotFound) {
		return models.Visit{}, ErrNotFound
	}
	return visit, err
}

// LookupForAutofill returns the most recent visit for phone. Its fields are
// suggestions for the form; nothing is written.
func (m *Manager) LookupForAutofill(ctx context.Context, phone string) (models.Visit, bool, error) {
	canonical, err := CanonicalPhone(phone)
	if err != nil {
		return models.Visit{}, false, err
	}
	return m.index.Latest(ctx, canonical)
}

type PatientHistory struct {
	Phone       string         `json:"phone"`
	TotalVisits int            `json:"total_visits"`
	Visits      []models.Visit `json:"visits"`
}

func (m *Manager) History(ctx context.Context, phone string) (PatientHistory, error) {
	canonical, err := CanonicalPhone(phone)
	if err != nil {
		return PatientHistory{}, err
	}
	visits, err := m.index.FindByPhone(ctx, canonical)
	if err != nil {
		return PatientHistory{}, err
	}
	if visits == nil {
		visits = []models.Visit{}
	}
	return PatientHistory{Phone: canonical, TotalVisits: len(visits), Visits: visits}, nil
}
