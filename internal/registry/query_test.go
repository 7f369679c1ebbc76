package registry

import (
	"context"
	"testing"

	"clinic/registration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQueryVisits(t *testing.T, env *testEnv) []models.Visit {
	t.Helper()
	var visits []models.Visit
	env.clock.Set(at(2025, 3, 3, 9, 0))
	visits = append(visits, env.register(t, request(phoneFor(1), "Ravi Kumar", "doc-d"), nil))
	env.clock.Set(at(2025, 3, 4, 9, 0))
	visits = append(visits, env.register(t, request(phoneFor(2), "Sunita Iyer", "doc-d"), nil))
	env.clock.Set(at(2025, 3, 4, 9, 30))
	visits = append(visits, env.register(t, request(phoneFor(3), "Kiran Shah", "doc-e"), nil))
	env.clock.Set(at(2025, 3, 4, 10, 0))
	visits = append(visits, env.register(t, request(phoneFor(1), "Ravi Kumar", "doc-e"), nil))
	_, err := env.manager.VoidVisit(context.Background(), VoidRequest{VisitID: visits[2].VisitID, Reason: "duplicate entry"})
	require.NoError(t, err)
	return visits
}

func opdNumbers(visits []models.Visit) []string {
	numbers := make([]string, 0, len(visits))
	for _, visit := range visits {
		numbers = append(numbers, visit.OPDNumber)
	}
	return numbers
}

func TestQueryVisitsFilters(t *testing.T) {
	env := newTestEnv(t)
	seedQueryVisits(t, env)
	ctx := context.Background()

	tests := []struct {
		name  string
		query VisitQuery
		want  []string
	}{
		{"defaults to today", VisitQuery{}, []string{"002/25", "003/25", "004/25"}},
		{"single date", VisitQuery{Date: "2025-03-03"}, []string{"001/25"}},
		{"range", VisitQuery{From: "2025-03-03", To: "2025-03-04"}, []string{"001/25", "002/25", "003/25", "004/25"}},
		{"open ended range", VisitQuery{From: "2025-03-04"}, []string{"002/25", "003/25", "004/25"}},
		{"doctor", VisitQuery{DoctorID: "doc-e"}, []string{"003/25", "004/25"}},
		{"active only", VisitQuery{Status: "active"}, []string{"002/25", "004/25"}},
		{"voided only", VisitQuery{Status: "voided"}, []string{"003/25"}},
		{"all statuses", VisitQuery{Status: "all"}, []string{"002/25", "003/25", "004/25"}},
		{"follow ups", VisitQuery{VisitType: models.VisitTypeFollowUp}, []string{"004/25"}},
		{"search name", VisitQuery{From: "2025-03-03", Search: "ravi"}, []string{"001/25", "004/25"}},
		{"search phone", VisitQuery{Search: phoneFor(2)[4:]}, []string{"002/25"}},
		{"search opd", VisitQuery{Search: "003/"}, []string{"003/25"}},
		{"search full opd", VisitQuery{Search: "004/25"}, []string{"004/25"}},
		{"search phone as typed", VisitQuery{Search: "98000 00002"}, []string{"002/25"}},
		{"search phone with dashes", VisitQuery{Search: "98000-00002"}, []string{"002/25"}},
		{"visit type any case", VisitQuery{VisitType: "Follow_Up"}, []string{"004/25"}},
		{"status any case", VisitQuery{Status: "Active"}, []string{"002/25", "004/25"}},
		{"time desc", VisitQuery{Sort: SortTimeDesc}, []string{"004/25", "003/25", "002/25"}},
		{"doctor name", VisitQuery{Sort: SortDoctor}, []string{"003/25", "004/25", "002/25"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			visits, err := env.manager.QueryVisits(ctx, tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, opdNumbers(visits))
		})
	}
}

func TestQueryVisitsRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, query := range []VisitQuery{
		{Date: "04-03-2025"},
		{Date: "2025-03-04", From: "2025-03-01"},
		{From: "2025-03-05", To: "2025-03-04"},
		{Status: "deleted"},
		{VisitType: "walk_in"},
		{Sort: "name"},
	} {
		_, err := env.manager.QueryVisits(ctx, query)
		assert.ErrorIs(t, err, ErrValidation, "%+v", query)
	}
}

func TestSortVisitsByOPD(t *testing.T) {
	visits := []models.Visit{
		{OPDNumber: "010/25", OPDYear: 2025, OPDSequence: 10},
		{OPDNumber: "002/26", OPDYear: 2026, OPDSequence: 2},
		{OPDNumber: "002/25", OPDYear: 2025, OPDSequence: 2},
		{OPDNumber: "1000/25", OPDYear: 2025, OPDSequence: 1000},
		{OPDNumber: "009/25", OPDYear: 2025, OPDSequence: 9},
	}
	SortVisits(visits, SortOPD)
	assert.Equal(t, []string{"002/25", "002/26", "009/25", "010/25", "1000/25"}, opdNumbers(visits))
}

func TestMatchesSearchTokenIsExact(t *testing.T) {
	visit := models.Visit{PatientName: "Asha Rao", Phone: "9800000000", OPDNumber: "017/25", TokenNumber: 14}

	assert.True(t, matchesSearch(visit, "14"))
	assert.False(t, matchesSearch(visit, "4"), "partial token numbers do not match")
	assert.True(t, matchesSearch(visit, "asha"))
	assert.True(t, matchesSearch(visit, "017/"))
	assert.True(t, matchesSearch(visit, "017/25"))
	assert.False(t, matchesSearch(visit, "017/26"))
	assert.True(t, matchesSearch(visit, "(980) 000-0000"))
	assert.False(t, matchesSearch(visit, "- ."), "separators alone match nothing")
}

func TestRegisteredPhoneFoundAsTyped(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, request("98765 43210", "Asha Rao", "doc-d"), nil)

	for _, term := range []string{"9876543210", "98765 43210", "98765-43210", "98765.43210"} {
		visits, err := env.manager.QueryVisits(context.Background(), VisitQuery{Search: term})
		require.NoError(t, err)
		assert.Len(t, visits, 1, term)
	}
}
