package store

import (
	"encoding/json"
	"testing"
	"time"

	"clinic/registration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitEventPayloadOmitsPhone(t *testing.T) {
	visit := models.Visit{
		VisitID:     "v-1",
		OPDNumber:   "001/25",
		TokenNumber: 1,
		DoctorID:    "d-1",
		Phone:       "9876543210",
		PatientName: "Asha Rao",
		Address:     "12 Lake Road",
		VisitType:   models.VisitTypeNew,
		Status:      models.StatusActive,
		VisitDate:   "2025-03-04",
		CreatedAt:   time.Date(2025, 3, 4, 4, 30, 0, 0, time.UTC),
	}

	raw, err := VisitEventPayload(visit)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "001/25", decoded["opd_number"])
	assert.Equal(t, float64(1), decoded["token_number"])
	assert.NotContains(t, decoded, "phone")
	assert.NotContains(t, decoded, "address")
	assert.NotContains(t, decoded, "voided_at")
}
