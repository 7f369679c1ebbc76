package registry

import (
	"context"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"
)

// IdentityIndex groups visits into people by phone. It reads through the
// store's indexed lookups, so a persisted visit is visible on the next call.
type IdentityIndex struct {
	visits store.VisitStore
}

func NewIdentityIndex(visits store.VisitStore) *IdentityIndex {
	return &IdentityIndex{visits: visits}
}

// FindByPhone returns every visit with the phone, any status, oldest first.
func (i *IdentityIndex) FindByPhone(ctx context.Context, phone string) ([]models.Visit, error) {
	return i.visits.ListVisitsByPhone(ctx, phone)
}

func (i *IdentityIndex) FindByNameAndDOB(ctx context.Context, name, dob string) ([]models.Visit, error) {
	if store.NameKey(name) == "" || dob == "" {
		return nil, nil
	}
	return i.visits.ListVisitsByNameAndDOB(ctx, name, dob)
}

func (i *IdentityIndex) Latest(ctx context.Context, phone string) (models.Visit, bool, error) {
	visits, err := i.FindByPhone(ctx, phone)
	if err != nil {
		return models.Visit{}, false, err
	}
	if len(visits) == 0 {
		return models.Visit{}, false, nil
	}
	return visits[len(visits)-1], true, nil
}

// VisitCount counts voided visits too; a voided registration still happened.
func (i *IdentityIndex) VisitCount(ctx context.Context, phone string) (int, error) {
	visits, err := i.FindByPhone(ctx, phone)
	if err != nil {
		return 0, err
	}
	return len(visits), nil
}
