package models

import "time"

type Doctor struct {
	DoctorID   string    `json:"doctor_id"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
