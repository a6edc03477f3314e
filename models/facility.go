package models

import (
	"time"

	"github.com/google/uuid"
)

type Facility struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ProviderID   uuid.UUID `json:"provider_id" db:"provider_id"`
	FacilityName string    `json:"facility_name" db:"facility_name"`
	AddressLine1 *string   `json:"address_line1" db:"address_line1"`
	City         string    `json:"city" db:"city"`
	State        string    `json:"state" db:"state"`
	ZipCode      *string   `json:"zip_code" db:"zip_code"`
	Latitude     *float64  `json:"latitude" db:"latitude"`
	Longitude    *float64  `json:"longitude" db:"longitude"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FacilityKey is the natural key of a facility. Matching is exact.
type FacilityKey struct {
	ProviderID   uuid.UUID
	FacilityName string
	City         string
	State        string
}

func (f *Facility) Key() FacilityKey {
	return FacilityKey{
		ProviderID:   f.ProviderID,
		FacilityName: f.FacilityName,
		City:         f.City,
		State:        f.State,
	}
}
