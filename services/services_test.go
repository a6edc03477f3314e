package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) (*storage.SQLiteStore, *models.Provider) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &models.Provider{Name: "Bid13", SourceURL: "https://bid13.com", ScraperType: "bid13", IsActive: true}
	if err := store.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return store, p
}

func testListing(id string) *models.ParsedListing {
	return &models.ParsedListing{
		ExternalAuctionID: id,
		UnitNumber:        "Unit " + id,
		UnitSize:          "10x10",
		FacilityName:      "Public Storage Midtown",
		City:              "Sacramento",
		State:             "CA",
		ZipCode:           "95814",
		ClosesAt:          time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentBid:        450,
		SourceURL:         "https://bid13.com/auctions/" + id,
		ImageURLs:         []string{"https://bid13.com/" + id + ".jpg"},
	}
}

// racingStore runs hook once, right after the first lookup it intercepts,
// standing in for a concurrent run that wins the insert.
type racingStore struct {
	storage.Store
	hook  func()
	fired bool
}

func (s *racingStore) GetFacilityByKey(ctx context.Context, key models.FacilityKey) (*models.Facility, error) {
	f, err := s.Store.GetFacilityByKey(ctx, key)
	s.fire()
	return f, err
}

func (s *racingStore) GetAuctionByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*models.Auction, error) {
	a, err := s.Store.GetAuctionByExternalID(ctx, providerID, externalID)
	s.fire()
	return a, err
}

func (s *racingStore) fire() {
	if !s.fired && s.hook != nil {
		s.fired = true
		s.hook()
	}
}

type brokenStore struct {
	storage.Store
}

func (brokenStore) GetFacilityByKey(context.Context, models.FacilityKey) (*models.Facility, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) GetAuctionByExternalID(context.Context, uuid.UUID, string) (*models.Auction, error) {
	return nil, errors.New("connection refused")
}

func TestFacilityResolver_CreatesOnceAndReuses(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)
	r := NewFacilityResolver(store)

	in := FacilityInput{Name: "StorQuest", City: "Sacramento", State: "CA"}
	first, err := r.Resolve(ctx, p.ID, in, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected first resolve to create")
	}

	in.AddressLine1 = "2400 Fair Oaks Blvd"
	second, err := r.Resolve(ctx, p.ID, in, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.Created || second.FacilityID != first.FacilityID {
		t.Fatalf("expected reuse of %s, got %+v", first.FacilityID, second)
	}

	facilities, _ := store.ListFacilities(ctx, p.ID)
	if len(facilities) != 1 {
		t.Fatalf("expected 1 facility, got %d", len(facilities))
	}
	if facilities[0].AddressLine1 != nil {
		t.Fatalf("expected first-write address to be kept, got %q", *facilities[0].AddressLine1)
	}

	other, err := r.Resolve(ctx, p.ID, FacilityInput{Name: "StorQuest", City: "Elk Grove", State: "CA"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if other.FacilityID == first.FacilityID {
		t.Fatalf("expected a distinct facility for a different city")
	}
}

func TestFacilityResolver_ConflictRefetches(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)

	winner := &models.Facility{
		ID: uuid.New(), ProviderID: p.ID, FacilityName: "StorQuest", City: "Sacramento", State: "CA",
		CreatedAt: time.Now(),
	}
	racing := &racingStore{Store: store, hook: func() {
		if err := store.InsertFacility(ctx, winner); err != nil {
			t.Fatalf("insert competing facility: %v", err)
		}
	}}

	r := NewFacilityResolver(racing)
	res, err := r.Resolve(ctx, p.ID, FacilityInput{Name: "StorQuest", City: "Sacramento", State: "CA"}, nil)
	if err != nil {
		t.Fatalf("expected conflict to be absorbed, got %v", err)
	}
	if res.FacilityID != winner.ID || res.Created {
		t.Fatalf("expected winner %s, got %+v", winner.ID, res)
	}
	facilities, _ := store.ListFacilities(ctx, p.ID)
	if len(facilities) != 1 {
		t.Fatalf("expected 1 facility, got %d", len(facilities))
	}
}

func TestFacilityResolver_DryRun(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)
	r := NewFacilityResolver(store)
	preview := NewPreview()

	in := FacilityInput{Name: "StorQuest", City: "Sacramento", State: "CA"}
	first, err := r.Resolve(ctx, p.ID, in, preview)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, _ := r.Resolve(ctx, p.ID, in, preview)
	if !first.Created || second.Created || first.FacilityID != second.FacilityID {
		t.Fatalf("expected one provisional creation, got %+v then %+v", first, second)
	}

	facilities, _ := store.ListFacilities(ctx, p.ID)
	if len(facilities) != 0 {
		t.Fatalf("dry run wrote %d facilities", len(facilities))
	}
}

func TestFacilityResolver_StoreDown(t *testing.T) {
	r := NewFacilityResolver(brokenStore{})
	_, err := r.Resolve(context.Background(), uuid.New(), FacilityInput{Name: "X", City: "Reno", State: "NV"}, nil)
	var pe *storage.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestAuctionUpserter_InsertThenIdempotentUpdate(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)
	facilityID, _ := NewFacilityResolver(store).Resolve(ctx, p.ID, FacilityInput{Name: "Public Storage Midtown", City: "Sacramento", State: "CA"}, nil)
	u := NewAuctionUpserter(store)

	listing := testListing("884512")
	first, err := u.Upsert(ctx, p.ID, listing, facilityID.FacilityID, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Action != models.ActionInserted {
		t.Fatalf("expected INSERTED, got %s", first.Action)
	}
	if len(first.Changes) == 0 {
		t.Fatalf("expected insert to report fields")
	}

	second, err := u.Upsert(ctx, p.ID, listing, facilityID.FacilityID, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.Action != models.ActionUpdated || second.AuctionID != first.AuctionID {
		t.Fatalf("expected UPDATED of %s, got %+v", first.AuctionID, second)
	}
	if len(second.Changes) != 0 {
		t.Fatalf("expected empty diff on unchanged re-scrape, got %+v", second.Changes)
	}

	changed := testListing("884512")
	changed.CurrentBid = 500
	changed.City = "West Sacramento"
	third, err := u.Upsert(ctx, p.ID, changed, uuid.Nil, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fields := map[string]models.FieldChange{}
	for _, c := range third.Changes {
		fields[c.Field] = c
	}
	if fields["current_bid"].New != "500.00" || fields["current_bid"].Old != "450.00" {
		t.Fatalf("unexpected bid change %+v", fields["current_bid"])
	}
	if _, ok := fields["city"]; !ok {
		t.Fatalf("expected city change, got %+v", third.Changes)
	}
	if _, ok := fields["facility_id"]; !ok {
		t.Fatalf("expected facility_id change, got %+v", third.Changes)
	}

	auctions, _ := store.ListAuctions(ctx, p.ID)
	if len(auctions) != 1 {
		t.Fatalf("expected 1 auction row, got %d", len(auctions))
	}
	if auctions[0].CurrentBid != 500 || auctions[0].City != "West Sacramento" || auctions[0].FacilityID.Valid {
		t.Fatalf("expected overwrite, got %+v", auctions[0])
	}

	images, _ := store.GetPendingImages(ctx, 10)
	if len(images) != 1 {
		t.Fatalf("expected 1 queued image, got %d", len(images))
	}
}

func TestAuctionUpserter_ConflictBecomesUpdate(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)

	listing := testListing("884512")
	competitor := newAuction(p.ID, listing, uuid.Nil, time.Now())
	competitor.CurrentBid = 300
	racing := &racingStore{Store: store, hook: func() {
		if err := store.InsertAuction(ctx, competitor); err != nil {
			t.Fatalf("insert competing auction: %v", err)
		}
	}}

	res, err := NewAuctionUpserter(racing).Upsert(ctx, p.ID, listing, uuid.Nil, nil)
	if err != nil {
		t.Fatalf("expected conflict to be retried as update, got %v", err)
	}
	if res.Action != models.ActionUpdated || res.AuctionID != competitor.ID {
		t.Fatalf("expected UPDATED of %s, got %+v", competitor.ID, res)
	}

	auctions, _ := store.ListAuctions(ctx, p.ID)
	if len(auctions) != 1 || auctions[0].CurrentBid != 450 {
		t.Fatalf("expected single overwritten row, got %+v", auctions)
	}
}

func TestAuctionUpserter_DryRun(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)
	u := NewAuctionUpserter(store)

	existing := testListing("1")
	if _, err := u.Upsert(ctx, p.ID, existing, uuid.Nil, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := store.ListAuctions(ctx, p.ID)

	preview := NewPreview()
	changed := testListing("1")
	changed.CurrentBid = 999
	res, err := u.Upsert(ctx, p.ID, changed, uuid.Nil, preview)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Action != models.ActionUpdated || len(res.Changes) != 2 {
		t.Fatalf("expected UPDATED with bid changes, got %+v", res)
	}

	fresh := testListing("2")
	ins, err := u.Upsert(ctx, p.ID, fresh, uuid.Nil, preview)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ins.Action != models.ActionInserted {
		t.Fatalf("expected INSERTED, got %s", ins.Action)
	}
	again, _ := u.Upsert(ctx, p.ID, fresh, uuid.Nil, preview)
	if again.Action != models.ActionUpdated || again.AuctionID != ins.AuctionID || len(again.Changes) != 0 {
		t.Fatalf("expected repeat sighting to update the previewed row, got %+v", again)
	}

	after, _ := store.ListAuctions(ctx, p.ID)
	if len(after) != len(before) || after[0].CurrentBid != before[0].CurrentBid {
		t.Fatalf("dry run mutated auctions: before %+v after %+v", before, after)
	}
}

func TestAuctionUpserter_StoreDown(t *testing.T) {
	_, err := NewAuctionUpserter(brokenStore{}).Upsert(context.Background(), uuid.New(), testListing("1"), uuid.Nil, nil)
	var pe *storage.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}
