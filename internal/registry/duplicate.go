package registry

import (
	"context"
	"sort"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"
)

// Candidate is the identifying part of a registration request.
type Candidate struct {
	Phone string
	Name  string
	DOB   string
}

// DuplicateResult is empty when nothing registered today matches.
type DuplicateResult struct {
	Candidates []models.Visit
}

func (r DuplicateResult) HasDuplicates() bool {
	return len(r.Candidates) > 0
}

type DuplicateDetector struct {
	index    *IdentityIndex
	location *time.Location
}

func NewDuplicateDetector(index *IdentityIndex, location *time.Location) *DuplicateDetector {
	if location == nil {
		location = time.UTC
	}
	return &DuplicateDetector{index: index, location: location}
}

func (d *DuplicateDetector) Detect(ctx context.Context, candidate Candidate, now time.Time) (DuplicateResult, error) {
	history, err := d.index.FindByPhone(ctx, candidate.Phone)
	if err != nil {
		return DuplicateResult{}, err
	}
	if candidate.DOB != "" {
		byName, err := d.index.FindByNameAndDOB(ctx, candidate.Name, candidate.DOB)
		if err != nil {
			return DuplicateResult{}, err
		}
		history = append(history, byName...)
	}
	day := now.In(d.location).Format(models.DateLayout)
	return DuplicateResult{Candidates: MatchSameDay(candidate, history, day, d.location)}, nil
}

// MatchSameDay keeps the visits created on day that share the phone, or the
// case-insensitive name together with the dob. Status is ignored. The result
// is de-duplicated and ordered by creation time.
func MatchSameDay(candidate Candidate, history []models.Visit, day string, location *time.Location) []models.Visit {
	nameKey := store.NameKey(candidate.Name)
	seen := make(map[string]bool, len(history))
	var matches []models.Visit
	for _, visit := range history {
		if seen[visit.VisitID] {
			continue
		}
		if visit.CreatedAt.In(location).Format(models.DateLayout) != day {
			continue
		}
		samePhone := candidate.Phone != "" && visit.Phone == candidate.Phone
		sameIdentity := candidate.DOB != "" && nameKey != "" &&
			visit.DOB == candidate.DOB && store.NameKey(visit.PatientName) == nameKey
		if !samePhone && !sameIdentity {
			continue
		}
		seen[visit.VisitID] = true
		matches = append(matches, visit)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches
}
