package store

import (
	"encoding/json"
	"time"

	"clinic/registration-service/internal/models"
)

const (
	EventVisitRegistered = "visit.registered"
	EventVisitVoided     = "visit.voided"
)

type eventPayload struct {
	VisitID     string     `json:"visit_id"`
	OPDNumber   string     `json:"opd_number"`
	TokenNumber int        `json:"token_number"`
	DoctorID    string     `json:"doctor_id"`
	DoctorName  string     `json:"doctor_name,omitempty"`
	PatientName string     `json:"patient_name"`
	VisitType   string     `json:"visit_type"`
	Status      string     `json:"status"`
	VoidReason  string     `json:"void_reason,omitempty"`
	VisitDate   string     `json:"visit_date"`
	CreatedAt   time.Time  `json:"created_at"`
	VoidedAt    *time.Time `json:"voided_at,omitempty"`
}

// VisitEventPayload is the outbox body for a visit event. Phone and
// demographic free text stay out of it because the feed reaches display boards.
func VisitEventPayload(visit models.Visit) (json.RawMessage, error) {
	return json.Marshal(eventPayload{
		VisitID:     visit.VisitID,
		OPDNumber:   visit.OPDNumber,
		TokenNumber: visit.TokenNumber,
		DoctorID:    visit.DoctorID,
		DoctorName:  visit.DoctorName,
		PatientName: visit.PatientName,
		VisitType:   visit.VisitType,
		Status:      visit.Status,
		VoidReason:  visit.VoidReason,
		VisitDate:   visit.VisitDate,
		CreatedAt:   visit.CreatedAt,
		VoidedAt:    visit.VoidedAt,
	})
}
