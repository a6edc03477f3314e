package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

type UpsertResult struct {
	Action    models.UpsertAction
	AuctionID uuid.UUID
	Changes   []models.FieldChange
}

// AuctionUpserter writes parsed listings keyed by (external_auction_id, provider_id).
type AuctionUpserter struct {
	store storage.Store
	now   func() time.Time
}

func NewAuctionUpserter(store storage.Store) *AuctionUpserter {
	return &AuctionUpserter{store: store, now: time.Now}
}

// Upsert inserts the listing on first sighting and otherwise overwrites every
// scraped field of the stored row. Changes lists the fields that differ from
// what was stored, so an unchanged re-scrape reports none. Under preview the
// decision is computed against current state but nothing is written.
func (u *AuctionUpserter) Upsert(ctx context.Context, providerID uuid.UUID, l *models.ParsedListing, facilityID uuid.UUID, preview *Preview) (*UpsertResult, error) {
	now := u.now().UTC()

	var existing *models.Auction
	if preview != nil {
		existing = preview.auction(providerID, l.ExternalAuctionID)
	}
	if existing == nil {
		var err error
		existing, err = u.store.GetAuctionByExternalID(ctx, providerID, l.ExternalAuctionID)
		if err != nil {
			return nil, persistenceErr("get auction", err)
		}
	}

	if existing == nil {
		a := newAuction(providerID, l, facilityID, now)
		result := &UpsertResult{
			Action:    models.ActionInserted,
			AuctionID: a.ID,
			Changes:   diffAuction(nil, a),
		}
		if preview != nil {
			preview.remember(a)
			return result, nil
		}

		err := u.store.InsertAuction(ctx, a)
		if err == nil {
			u.queueImages(ctx, a)
			return result, nil
		}
		if !storage.IsConflict(err) {
			return nil, persistenceErr("insert auction", err)
		}

		// Someone inserted this external id first; retry once as an update.
		existing, err = u.store.GetAuctionByExternalID(ctx, providerID, l.ExternalAuctionID)
		if err != nil {
			return nil, persistenceErr("get auction after conflict", err)
		}
		if existing == nil {
			return nil, &storage.PersistenceError{
				Op:  "upsert auction",
				Err: fmt.Errorf("conflict on insert but no auction %s", l.ExternalAuctionID),
			}
		}
	}

	next := applyListing(*existing, l, facilityID, now)
	result := &UpsertResult{
		Action:    models.ActionUpdated,
		AuctionID: existing.ID,
		Changes:   diffAuction(existing, &next),
	}
	if preview != nil {
		preview.remember(&next)
		return result, nil
	}

	if err := u.store.UpdateAuction(ctx, &next); err != nil {
		return nil, persistenceErr("update auction", err)
	}
	u.queueImages(ctx, &next)
	return result, nil
}

func (u *AuctionUpserter) queueImages(ctx context.Context, a *models.Auction) {
	if len(a.ImageURLs) == 0 {
		return
	}
	if err := u.store.EnqueueAuctionImages(ctx, a.ID, a.ImageURLs); err != nil {
		log.Printf("Warning: failed to queue images for auction %s: %v", a.ExternalAuctionID, err)
	}
}

func newAuction(providerID uuid.UUID, l *models.ParsedListing, facilityID uuid.UUID, now time.Time) *models.Auction {
	a := models.Auction{
		ID:                uuid.New(),
		ProviderID:        providerID,
		ExternalAuctionID: l.ExternalAuctionID,
		StartsAt:          now,
		BidIncrement:      models.DefaultBidIncrement,
		CreatedAt:         now,
	}
	a = applyListing(a, l, facilityID, now)
	return &a
}

// applyListing overwrites the scraped fields of a with l. Location fields come
// from the listing itself, never from the facility row.
func applyListing(a models.Auction, l *models.ParsedListing, facilityID uuid.UUID, now time.Time) models.Auction {
	a.FacilityID = uuid.NullUUID{UUID: facilityID, Valid: facilityID != uuid.Nil}
	a.UnitNumber = l.UnitNumber
	a.UnitSize = optString(l.UnitSize)
	a.Description = optString(l.Description)
	a.FacilityName = l.FacilityName
	a.AddressLine1 = optString(l.AddressLine1)
	a.City = l.City
	a.State = l.State
	a.ZipCode = optString(l.ZipCode)
	a.ClosesAt = l.ClosesAt.UTC()
	a.CurrentBid = l.CurrentBid
	a.MinimumBid = l.CurrentBid
	a.Status = models.StatusAt(l.ClosesAt, now)
	a.ImageURLs = append([]string(nil), l.ImageURLs...)
	a.SourceURL = l.SourceURL
	a.LastScrapedAt = now
	a.UpdatedAt = now
	return a
}

type fieldValue struct {
	name  string
	value string
}

func auctionFields(a *models.Auction) []fieldValue {
	facility := ""
	if a.FacilityID.Valid {
		facility = a.FacilityID.UUID.String()
	}
	closes := ""
	if !a.ClosesAt.IsZero() {
		closes = a.ClosesAt.UTC().Format(time.RFC3339)
	}
	return []fieldValue{
		{"facility_id", facility},
		{"unit_number", a.UnitNumber},
		{"unit_size", deref(a.UnitSize)},
		{"description", deref(a.Description)},
		{"facility_name", a.FacilityName},
		{"address_line1", deref(a.AddressLine1)},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", deref(a.ZipCode)},
		{"closes_at", closes},
		{"current_bid", formatAmount(a.CurrentBid)},
		{"minimum_bid", formatAmount(a.MinimumBid)},
		{"status", string(a.Status)},
		{"image_urls", strings.Join(a.ImageURLs, " ")},
		{"source_url", a.SourceURL},
	}
}

// diffAuction lists fields whose value differs between old and next. A nil
// old reports every populated field of next.
func diffAuction(old, next *models.Auction) []models.FieldChange {
	nextFields := auctionFields(next)
	var oldFields []fieldValue
	if old != nil {
		oldFields = auctionFields(old)
	}

	changes := []models.FieldChange{}
	for i, nf := range nextFields {
		ov := ""
		if oldFields != nil {
			ov = oldFields[i].value
		}
		if ov != nf.value {
			changes = append(changes, models.FieldChange{Field: nf.name, Old: ov, New: nf.value})
		}
	}
	return changes
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
