package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinic/registration-service/internal/hub"
	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/registry"
	"clinic/registration-service/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry is the engine surface the handlers call.
type Registry interface {
	RegisterVisit(ctx context.Context, req registry.RegisterRequest, resolution *registry.Resolution) (models.Visit, bool, error)
	VoidVisit(ctx context.Context, req registry.VoidRequest) (models.Visit, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, error)
	QueryVisits(ctx context.Context, query registry.VisitQuery) ([]models.Visit, error)
	LookupForAutofill(ctx context.Context, phone string) (models.Visit, bool, error)
	History(ctx context.Context, phone string) (registry.PatientHistory, error)
}

type Handler struct {
	registry Registry
	doctors  store.DoctorDirectory
	hub      *hub.Hub
	limiter  *RateLimiter
	logger   zerolog.Logger
}

type Options struct {
	Hub     *hub.Hub
	Limiter *RateLimiter
	Logger  zerolog.Logger
}

type registerVisitRequest struct {
	RequestID   string               `json:"request_id"`
	Phone       string               `json:"phone"`
	PatientName string               `json:"patient_name"`
	Sex         string               `json:"sex"`
	Age         *int                 `json:"age"`
	DOB         string               `json:"dob"`
	Address     string               `json:"address"`
	Allergies   string               `json:"allergies"`
	Complaint   string               `json:"complaint"`
	DoctorID    string               `json:"doctor_id"`
	Resolution  *registry.Resolution `json:"resolution"`
}

type voidVisitRequest struct {
	Reason string `json:"reason"`
}

type visitListResponse struct {
	Visits []models.Visit `json:"visits"`
	Count  int            `json:"count"`
}

type doctorListResponse struct {
	Doctors []models.Doctor `json:"doctors"`
}

type autofillResponse struct {
	Found         bool       `json:"found"`
	Phone         string     `json:"phone"`
	PatientName   string     `json:"patient_name,omitempty"`
	Sex           string     `json:"sex,omitempty"`
	Age           *int       `json:"age,omitempty"`
	DOB           string     `json:"dob,omitempty"`
	Address       string     `json:"address,omitempty"`
	Allergies     string     `json:"allergies,omitempty"`
	LastVisitID   string     `json:"last_visit_id,omitempty"`
	LastOPDNumber string     `json:"last_opd_number,omitempty"`
	LastVisitAt   *time.Time `json:"last_visit_at,omitempty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Field      string         `json:"field,omitempty"`
	Candidates []models.Visit `json:"candidates,omitempty"`
	Visit      *models.Visit  `json:"visit,omitempty"`
}

func NewHandler(reg Registry, doctors store.DoctorDirectory, options Options) *Handler {
	return &Handler{
		registry: reg,
		doctors:  doctors,
		hub:      options.Hub,
		limiter:  options.Limiter,
		logger:   options.Logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(h.logger))
	r.Use(TerminalMiddleware)
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/visits", h.handleRegisterVisit)
		r.Get("/visits", h.handleQueryVisits)
		if h.hub != nil {
			r.Get("/visits/stream", h.handleStream)
		}
		r.Get("/visits/{visitID}", h.handleGetVisit)
		r.Patch("/visits/{visitID}/void", h.handleVoidVisit)
		r.Get("/patients/{phone}/autofill", h.handleAutofill)
		r.Get("/patients/{phone}/visits", h.handlePatientVisits)
		r.Get("/doctors", h.handleDoctors)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRegisterVisit(w http.ResponseWriter, r *http.Request) {
	var req registerVisitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusUnprocessableEntity, responseError{
			Code: "validation_failed", Message: "request_id must be a UUID", Field: "request_id",
		})
		return
	}

	terminal := terminalFromContext(r.Context())
	visit, created, err := h.registry.RegisterVisit(r.Context(), registry.RegisterRequest{
		RequestID:   req.RequestID,
		Phone:       req.Phone,
		PatientName: req.PatientName,
		Sex:         req.Sex,
		Age:         req.Age,
		DOB:         req.DOB,
		Address:     req.Address,
		Allergies:   req.Allergies,
		Complaint:   req.Complaint,
		DoctorID:    req.DoctorID,
		TerminalID:  terminal.TerminalID,
		StaffID:     terminal.StaffID,
	}, req.Resolution)
	if err != nil {
		h.writeEngineError(w, r, req.RequestID, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, visit)
}

func (h *Handler) handleVoidVisit(w http.ResponseWriter, r *http.Request) {
	var req voidVisitRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	visit, err := h.registry.VoidVisit(r.Context(), registry.VoidRequest{
		VisitID: chi.URLParam(r, "visitID"),
		Reason:  req.Reason,
		StaffID: terminalFromContext(r.Context()).StaffID,
	})
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	visit, err := h.registry.GetVisit(r.Context(), chi.URLParam(r, "visitID"))
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleQueryVisits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	visits, err := h.registry.QueryVisits(r.Context(), registry.VisitQuery{
		Date:      q.Get("date"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		DoctorID:  q.Get("doctor_id"),
		VisitType: q.Get("visit_type"),
		Status:    q.Get("status"),
		Search:    q.Get("q"),
		Sort:      q.Get("sort"),
	})
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	if visits == nil {
		visits = []models.Visit{}
	}
	writeJSON(w, http.StatusOK, visitListResponse{Visits: visits, Count: len(visits)})
}

func (h *Handler) handleAutofill(w http.ResponseWriter, r *http.Request) {
	latest, found, err := h.registry.LookupForAutofill(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, autofillResponse{Found: false, Phone: chi.URLParam(r, "phone")})
		return
	}
	lastVisitAt := latest.CreatedAt
	writeJSON(w, http.StatusOK, autofillResponse{
		Found:         true,
		Phone:         latest.Phone,
		PatientName:   latest.PatientName,
		Sex:           latest.Sex,
		Age:           latest.Age,
		DOB:           latest.DOB,
		Address:       latest.Address,
		Allergies:     latest.Allergies,
		LastVisitID:   latest.VisitID,
		LastOPDNumber: latest.OPDNumber,
		LastVisitAt:   &lastVisitAt,
	})
}

func (h *Handler) handlePatientVisits(w http.ResponseWriter, r *http.Request) {
	history, err := h.registry.History(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.doctors.ListDoctors(r.Context())
	if err != nil {
		h.writeEngineError(w, r, requestIDFromRequest(r), err)
		return
	}
	if doctors == nil {
		doctors = []models.Doctor{}
	}
	writeJSON(w, http.StatusOK, doctorListResponse{Doctors: doctors})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestID).
			Msg("request failed")
	}
	writeError(w, requestID, status, body)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, responseError{Code: "invalid_json", Message: "invalid JSON payload"})
		return false
	}
	return true
}

func mapError(err error) (int, responseError) {
	var validation *registry.ValidationError
	var duplicate *registry.DuplicateError
	var voided *registry.AlreadyVoidedError
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, responseError{Code: "validation_failed", Message: validation.Message, Field: validation.Field}
	case errors.As(err, &duplicate):
		return http.StatusConflict, responseError{
			Code:       "duplicate_requires_resolution",
			Message:    "patient already registered today; choose reuse, follow_up or proceed_new",
			Candidates: duplicate.Candidates,
		}
	case errors.As(err, &voided):
		visit := voided.Visit
		return http.StatusConflict, responseError{Code: "already_voided", Message: "visit is already voided", Visit: &visit}
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, responseError{Code: "visit_not_found", Message: "visit not found"}
	case errors.Is(err, registry.ErrAllocationFailure):
		return http.StatusServiceUnavailable, responseError{Code: "allocation_failed", Message: "could not allocate visit numbers; retry"}
	default:
		return http.StatusInternalServerError, responseError{Code: "internal_error", Message: "internal server error"}
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, body responseError) {
	writeJSON(w, status, errorResponse{RequestID: requestID, Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
