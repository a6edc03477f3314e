package services

import (
	"errors"
	"sync"

	"auction_scraper/identity"
	"auction_scraper/models"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

// Preview holds the decisions of one dry run so repeated sightings within the
// run see earlier would-be writes. A nil *Preview means writes are applied.
type Preview struct {
	mu         sync.Mutex
	facilities map[string]uuid.UUID
	auctions   map[string]*models.Auction
}

func NewPreview() *Preview {
	return &Preview{
		facilities: make(map[string]uuid.UUID),
		auctions:   make(map[string]*models.Auction),
	}
}

// facility returns the provisional id for key and whether this call created it.
func (p *Preview) facility(key models.FacilityKey) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fp := identity.FacilityFingerprint(key)
	if id, ok := p.facilities[fp]; ok {
		return id, false
	}
	id := uuid.New()
	p.facilities[fp] = id
	return id, true
}

func (p *Preview) auction(providerID uuid.UUID, externalID string) *models.Auction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.auctions[providerID.String()+"|"+externalID]; ok {
		cp := *a
		return &cp
	}
	return nil
}

func (p *Preview) remember(a *models.Auction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *a
	p.auctions[a.ProviderID.String()+"|"+a.ExternalAuctionID] = &cp
}

func persistenceErr(op string, err error) error {
	var pe *storage.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &storage.PersistenceError{Op: op, Err: err}
}
