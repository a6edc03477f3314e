package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

// FacilityInput is what a listing tells us about its facility.
type FacilityInput struct {
	Name         string
	City         string
	State        string
	AddressLine1 string
	ZipCode      string
}

type Resolution struct {
	FacilityID uuid.UUID
	Created    bool
}

// FacilityResolver maps (provider, name, city, state) to a stable facility id.
type FacilityResolver struct {
	store storage.Store
	now   func() time.Time
}

func NewFacilityResolver(store storage.Store) *FacilityResolver {
	return &FacilityResolver{store: store, now: time.Now}
}

// Resolve returns the facility for the exact composite key, creating it when
// absent. An existing facility is returned untouched even if in carries a
// more complete address. Under preview nothing is written.
func (r *FacilityResolver) Resolve(ctx context.Context, providerID uuid.UUID, in FacilityInput, preview *Preview) (Resolution, error) {
	key := models.FacilityKey{
		ProviderID:   providerID,
		FacilityName: in.Name,
		City:         in.City,
		State:        in.State,
	}

	existing, err := r.store.GetFacilityByKey(ctx, key)
	if err != nil {
		return Resolution{}, persistenceErr("get facility", err)
	}
	if existing != nil {
		return Resolution{FacilityID: existing.ID}, nil
	}

	if preview != nil {
		id, created := preview.facility(key)
		return Resolution{FacilityID: id, Created: created}, nil
	}

	f := &models.Facility{
		ID:           uuid.New(),
		ProviderID:   providerID,
		FacilityName: in.Name,
		AddressLine1: optString(in.AddressLine1),
		City:         in.City,
		State:        in.State,
		ZipCode:      optString(in.ZipCode),
		CreatedAt:    r.now().UTC(),
	}
	err = r.store.InsertFacility(ctx, f)
	if err == nil {
		return Resolution{FacilityID: f.ID, Created: true}, nil
	}
	if !storage.IsConflict(err) {
		return Resolution{}, persistenceErr("insert facility", err)
	}

	// Lost the race: another run inserted the same key between get and insert.
	existing, err = r.store.GetFacilityByKey(ctx, key)
	if err != nil {
		return Resolution{}, persistenceErr("get facility after conflict", err)
	}
	if existing == nil {
		return Resolution{}, &storage.PersistenceError{
			Op:  "resolve facility",
			Err: fmt.Errorf("conflict on insert but no facility %q in %s, %s", in.Name, in.City, in.State),
		}
	}
	return Resolution{FacilityID: existing.ID}, nil
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
