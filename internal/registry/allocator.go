package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"
)

const (
	CounterOPD   = "opd_number"
	CounterToken = "token_number"
)

// OPDNumber is the NNN/YY registration identifier. Sequences above 999 keep
// growing in width rather than wrapping.
type OPDNumber struct {
	Year     int
	Sequence int64
}

func (n OPDNumber) String() string {
	return fmt.Sprintf("%03d/%02d", n.Sequence, n.Year%100)
}

// ParseOPDNumber reads NNN/YY. Only the two-digit year survives formatting, so
// the parsed Year is in 0..99.
func ParseOPDNumber(value string) (OPDNumber, error) {
	seqPart, yearPart, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || len(seqPart) < 3 || len(yearPart) != 2 {
		return OPDNumber{}, fmt.Errorf("opd number %q is not NNN/YY", value)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil || seq <= 0 {
		return OPDNumber{}, fmt.Errorf("opd number %q has invalid sequence", value)
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil || year < 0 {
		return OPDNumber{}, fmt.Errorf("opd number %q has invalid year", value)
	}
	return OPDNumber{Year: year, Sequence: seq}, nil
}

// SequenceAllocator buckets by calendar year and day in the clinic's zone and
// delegates the atomic increment to the counter store. It never hands a
// number back.
type SequenceAllocator struct {
	counters store.CounterStore
	location *time.Location
}

func NewSequenceAllocator(counters store.CounterStore, location *time.Location) *SequenceAllocator {
	if location == nil {
		location = time.UTC
	}
	return &SequenceAllocator{counters: counters, location: location}
}

func (a *SequenceAllocator) AllocateOPDNumber(ctx context.Context, now time.Time) (OPDNumber, error) {
	year := now.In(a.location).Year()
	seq, err := a.counters.IncrementYearCounter(ctx, year)
	if err != nil {
		return OPDNumber{}, &AllocationError{Counter: CounterOPD, Err: err}
	}
	if seq <= 0 {
		return OPDNumber{}, &AllocationError{Counter: CounterOPD, Err: fmt.Errorf("counter returned %d", seq)}
	}
	return OPDNumber{Year: year, Sequence: seq}, nil
}

func (a *SequenceAllocator) AllocateTokenNumber(ctx context.Context, doctorID string, now time.Time) (int, error) {
	token, err := a.counters.IncrementDoctorDayCounter(ctx, doctorID, a.Day(now))
	if err != nil {
		return 0, &AllocationError{Counter: CounterToken, Err: err}
	}
	if token <= 0 {
		return 0, &AllocationError{Counter: CounterToken, Err: fmt.Errorf("counter returned %d", token)}
	}
	return int(token), nil
}

// Day is the calendar day of now in the clinic's zone.
func (a *SequenceAllocator) Day(now time.Time) string {
	return now.In(a.location).Format(models.DateLayout)
}
