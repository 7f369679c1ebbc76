package registry

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const (
	SortTimeAsc  = "time_asc"
	SortTimeDesc = "time_desc"
	SortDoctor   = "doctor"
	SortOPD      = "opd"

	StatusAll = "all"
)

// VisitQuery filters the visit log. Date selects one day; From/To select an
// inclusive range. With no date bounds the clinic's current day is used.
type VisitQuery struct {
	Date      string
	From      string
	To        string
	DoctorID  string
	VisitType string
	Status    string
	Search    string
	Sort      string
}

func (m *Manager) QueryVisits(ctx context.Context, query VisitQuery) ([]models.Visit, error) {
	ctx, span := m.tracer.Start(ctx, "registry.query_visits")
	defer span.End()

	filter, err := m.buildFilter(query)
	if err != nil {
		return nil, err
	}
	order, err := sortOrder(query.Sort)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("from", filter.From), attribute.String("to", filter.To), attribute.String("sort", order))

	visits, err := m.visits.ListVisits(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	matched := make([]models.Visit, 0, len(visits))
	search := strings.ToLower(strings.TrimSpace(query.Search))
	for _, visit := range visits {
		if search == "" || matchesSearch(visit, search) {
			matched = append(matched, visit)
		}
	}
	SortVisits(matched, order)
	return matched, nil
}

func (m *Manager) buildFilter(query VisitQuery) (store.VisitFilter, error) {
	var filter store.VisitFilter
	date := strings.TrimSpace(query.Date)
	from := strings.TrimSpace(query.From)
	to := strings.TrimSpace(query.To)

	switch {
	case date != "":
		if from != "" || to != "" {
			return filter, invalid("date", "date cannot be combined with from/to")
		}
		if err := checkDate("date", date); err != nil {
			return filter, err
		}
		filter.From, filter.To = date, date
	case from != "" || to != "":
		if from != "" {
			if err := checkDate("from", from); err != nil {
				return filter, err
			}
		}
		if to != "" {
			if err := checkDate("to", to); err != nil {
				return filter, err
			}
		}
		if from != "" && to != "" && from > to {
			return filter, invalid("from", "from must not be after to")
		}
		filter.From, filter.To = from, to
	default:
		today := m.allocator.Day(m.now())
		filter.From, filter.To = today, today
	}

	filter.DoctorID = strings.TrimSpace(query.DoctorID)

	switch visitType := strings.ToLower(strings.TrimSpace(query.VisitType)); visitType {
	case "", StatusAll:
	case models.VisitTypeNew, models.VisitTypeFollowUp:
		filter.VisitType = visitType
	default:
		return filter, invalid("visit_type", "visit_type must be new, follow_up or all")
	}

	switch status := strings.ToLower(strings.TrimSpace(query.Status)); status {
	case "", StatusAll:
	case models.StatusActive, models.StatusVoided:
		filter.Status = status
	default:
		return filter, invalid("status", "status must be active, voided or all")
	}
	return filter, nil
}

func checkDate(field, value string) error {
	if _, err := time.Parse(models.DateLayout, value); err != nil {
		return invalid(field, field+" must be YYYY-MM-DD")
	}
	return nil
}

func sortOrder(raw string) (string, error) {
	switch order := strings.TrimSpace(raw); order {
	case "":
		return SortTimeAsc, nil
	case SortTimeAsc, SortTimeDesc, SortDoctor, SortOPD:
		return order, nil
	default:
		return "", invalid("sort", "sort must be time_asc, time_desc, doctor or opd")
	}
}

// matchesSearch expects search already lowercased. Phone terms are compared
// in canonical form so "98765-43210" finds 9876543210. A full NNN/YY term
// matches that OPD number only. Token numbers match exactly so "1" does not
// pull in tokens 10 through 19.
func matchesSearch(visit models.Visit, search string) bool {
	if strings.Contains(strings.ToLower(visit.PatientName), search) {
		return true
	}
	if digits := phoneSeparators.Replace(search); digits != "" && strings.Contains(visit.Phone, digits) {
		return true
	}
	if opd, err := ParseOPDNumber(search); err == nil {
		return opd.Sequence == visit.OPDSequence && opd.Year == visit.OPDYear%100
	}
	if strings.Contains(visit.OPDNumber, search) {
		return true
	}
	return strconv.Itoa(visit.TokenNumber) == search
}

// SortVisits orders in place. SortOPD compares the numeric sequence first and
// the year second.
func SortVisits(visits []models.Visit, order string) {
	byTime := func(a, b models.Visit) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.OPDSequence < b.OPDSequence
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	var less func(a, b models.Visit) bool
	switch order {
	case SortTimeDesc:
		less = func(a, b models.Visit) bool { return byTime(b, a) }
	case SortDoctor:
		less = func(a, b models.Visit) bool {
			an, bn := strings.ToLower(a.DoctorName), strings.ToLower(b.DoctorName)
			if an != bn {
				return an < bn
			}
			return byTime(a, b)
		}
	case SortOPD:
		less = func(a, b models.Visit) bool {
			if a.OPDSequence != b.OPDSequence {
				return a.OPDSequence < b.OPDSequence
			}
			if a.OPDYear != b.OPDYear {
				return a.OPDYear < b.OPDYear
			}
			return byTime(a, b)
		}
	default:
		less = byTime
	}
	sort.SliceStable(visits, func(i, j int) bool { return less(visits[i], visits[j]) })
}
