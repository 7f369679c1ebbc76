package models

import "time"

// Visit is one registration event. OPDNumber and TokenNumber never change
// once assigned; only Status, VoidReason, VoidedAt and VoidedBy move, and only
// on the Active -> Voided transition.
type Visit struct {
	VisitID         string     `json:"visit_id"`
	RequestID       string     `json:"request_id,omitempty"`
	OPDNumber       string     `json:"opd_number"`
	OPDYear         int        `json:"opd_year"`
	OPDSequence     int64      `json:"opd_sequence"`
	TokenNumber     int        `json:"token_number"`
	DoctorID        string     `json:"doctor_id"`
	DoctorName      string     `json:"doctor_name,omitempty"`
	Phone           string     `json:"phone"`
	PatientName     string     `json:"patient_name"`
	Sex             string     `json:"sex"`
	Age             *int       `json:"age,omitempty"`
	DOB             string     `json:"dob,omitempty"`
	Address         string     `json:"address,omitempty"`
	Allergies       string     `json:"allergies,omitempty"`
	Complaint       string     `json:"complaint,omitempty"`
	VisitType       string     `json:"visit_type"`
	Status          string     `json:"status"`
	Resolution      string     `json:"resolution,omitempty"`
	DuplicateReason string     `json:"duplicate_reason,omitempty"`
	VoidReason      string     `json:"void_reason,omitempty"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
	VoidedBy        string     `json:"voided_by,omitempty"`
	TerminalID      string     `json:"terminal_id,omitempty"`
	RegisteredBy    string     `json:"registered_by,omitempty"`
	VisitDate       string     `json:"visit_date"`
	CreatedAt       time.Time  `json:"created_at"`
}

const (
	StatusActive = "active"
	StatusVoided = "voided"
)

const (
	VisitTypeNew      = "new"
	VisitTypeFollowUp = "follow_up"
)

const (
	SexMale   = "male"
	SexFemale = "female"
	SexOther  = "other"
)

// DateLayout is the layout of VisitDate and DOB.
const DateLayout = "2006-01-02"
