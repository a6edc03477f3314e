package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"auction_scraper/models"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestProvider(t *testing.T, store Store) *models.Provider {
	t.Helper()
	p := &models.Provider{
		Name:                 "Bid13",
		SourceURL:            "https://bid13.com/auctions",
		ScraperType:          "bid13",
		ScrapeFrequencyHours: 24,
		IsActive:             true,
	}
	if err := store.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return p
}

func TestSQLiteStore_FacilityUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := newTestProvider(t, store)

	street := "2400 Fair Oaks Blvd"
	f := &models.Facility{
		ID:           uuid.New(),
		ProviderID:   p.ID,
		FacilityName: "StorQuest",
		AddressLine1: &street,
		City:         "Sacramento",
		State:        "CA",
		CreatedAt:    time.Now(),
	}
	if err := store.InsertFacility(ctx, f); err != nil {
		t.Fatalf("insert facility: %v", err)
	}

	dup := *f
	dup.ID = uuid.New()
	err := store.InsertFacility(ctx, &dup)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %T", err)
	}

	got, err := store.GetFacilityByKey(ctx, f.Key())
	if err != nil {
		t.Fatalf("get facility: %v", err)
	}
	if got == nil || got.ID != f.ID {
		t.Fatalf("expected facility %s, got %+v", f.ID, got)
	}
	if got.AddressLine1 == nil || *got.AddressLine1 != street {
		t.Fatalf("unexpected address %v", got.AddressLine1)
	}

	other := f.Key()
	other.City = "Elk Grove"
	missing, err := store.GetFacilityByKey(ctx, other)
	if err != nil || missing != nil {
		t.Fatalf("expected no facility, got %+v, %v", missing, err)
	}
}

func TestSQLiteStore_AuctionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := newTestProvider(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	size := "10x10"
	a := &models.Auction{
		ID:                uuid.New(),
		ProviderID:        p.ID,
		UnitNumber:        "B-214",
		UnitSize:          &size,
		FacilityName:      "Public Storage Midtown",
		City:              "Sacramento",
		State:             "CA",
		StartsAt:          now,
		ClosesAt:          now.Add(48 * time.Hour),
		CurrentBid:        1250,
		MinimumBid:        1250,
		BidIncrement:      models.DefaultBidIncrement,
		Status:            models.AuctionStatusActive,
		ImageURLs:         []string{"https://bid13.com/a.jpg", "https://bid13.com/b.jpg"},
		ExternalAuctionID: "884512",
		SourceURL:         "https://bid13.com/auctions/884512",
		LastScrapedAt:     now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.InsertAuction(ctx, a); err != nil {
		t.Fatalf("insert auction: %v", err)
	}

	dup := *a
	dup.ID = uuid.New()
	if err := store.InsertAuction(ctx, &dup); !IsConflict(err) {
		t.Fatalf("expected conflict on duplicate external id, got %v", err)
	}

	got, err := store.GetAuctionByExternalID(ctx, p.ID, "884512")
	if err != nil {
		t.Fatalf("get auction: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("expected auction %s, got %+v", a.ID, got)
	}
	if got.FacilityID.Valid {
		t.Fatalf("expected null facility id")
	}
	if len(got.ImageURLs) != 2 || got.ImageURLs[1] != "https://bid13.com/b.jpg" {
		t.Fatalf("unexpected images %v", got.ImageURLs)
	}
	if !got.ClosesAt.Equal(a.ClosesAt) {
		t.Fatalf("expected closes_at %s, got %s", a.ClosesAt, got.ClosesAt)
	}

	got.CurrentBid = 1300
	got.ImageURLs = nil
	got.UpdatedAt = now.Add(time.Minute)
	if err := store.UpdateAuction(ctx, got); err != nil {
		t.Fatalf("update auction: %v", err)
	}
	again, _ := store.GetAuctionByExternalID(ctx, p.ID, "884512")
	if again.CurrentBid != 1300 {
		t.Fatalf("expected bid 1300, got %v", again.CurrentBid)
	}
	if len(again.ImageURLs) != 0 {
		t.Fatalf("expected images cleared, got %v", again.ImageURLs)
	}

	ids, err := store.ActiveExternalIDs(ctx, p.ID)
	if err != nil || len(ids) != 1 || ids[0] != "884512" {
		t.Fatalf("unexpected active ids %v, %v", ids, err)
	}

	closed, err := store.CloseExpiredAuctions(ctx, now.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("close expired: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}
	ids, _ = store.ActiveExternalIDs(ctx, p.ID)
	if len(ids) != 0 {
		t.Fatalf("expected no active ids, got %v", ids)
	}
}

func TestSQLiteStore_ImagesLogsCommands(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := newTestProvider(t, store)

	now := time.Now().UTC()
	a := &models.Auction{
		ID: uuid.New(), ProviderID: p.ID, UnitNumber: "1", FacilityName: "X", City: "Reno", State: "NV",
		StartsAt: now, ClosesAt: now.Add(time.Hour), Status: models.AuctionStatusActive,
		ExternalAuctionID: "1", SourceURL: "https://example.com/1", LastScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.InsertAuction(ctx, a); err != nil {
		t.Fatalf("insert auction: %v", err)
	}

	urls := []string{"https://example.com/1.jpg", "https://example.com/2.jpg"}
	if err := store.EnqueueAuctionImages(ctx, a.ID, urls); err != nil {
		t.Fatalf("enqueue images: %v", err)
	}
	if err := store.EnqueueAuctionImages(ctx, a.ID, urls); err != nil {
		t.Fatalf("re-enqueue images: %v", err)
	}
	pending, err := store.GetPendingImages(ctx, 10)
	if err != nil {
		t.Fatalf("pending images: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending images, got %d", len(pending))
	}
	key := "media/ab/abc.jpg"
	if err := store.UpdateImageStatus(ctx, pending[0].ID, models.ImageStatusUploaded, &key, nil, 1); err != nil {
		t.Fatalf("update image: %v", err)
	}
	pending, _ = store.GetPendingImages(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending image, got %d", len(pending))
	}

	msg := "parse: malformed_location"
	log := &models.ScrapeLog{
		ProviderID: p.ID, StartedAt: now, CompletedAt: now.Add(time.Second), Status: "partial",
		AuctionsFound: 3, AuctionsAdded: 2, AuctionsUpdated: 1, ErrorMessage: &msg,
	}
	if err := store.AppendScrapeLog(ctx, log); err != nil {
		t.Fatalf("append log: %v", err)
	}
	if log.ID == 0 {
		t.Fatalf("expected log id to be set")
	}
	logs, err := store.ListScrapeLogs(ctx, p.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("unexpected logs %v, %v", logs, err)
	}
	if logs[0].Status != "partial" || logs[0].AuctionsAdded != 2 || *logs[0].ErrorMessage != msg {
		t.Fatalf("unexpected log %+v", logs[0])
	}

	if err := store.EnqueueCommand(ctx, models.CmdScrapeProvider, models.CommandParams{ProviderID: p.ID.String(), DryRun: true}); err != nil {
		t.Fatalf("enqueue command: %v", err)
	}
	cmds, err := store.GetPendingCommands(ctx)
	if err != nil || len(cmds) != 1 {
		t.Fatalf("unexpected commands %v, %v", cmds, err)
	}
	params, err := cmds[0].ParseParams()
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if params.ProviderID != p.ID.String() || !params.DryRun {
		t.Fatalf("unexpected params %+v", params)
	}
	if err := store.MarkCommandProcessed(ctx, cmds[0].ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	cmds, _ = store.GetPendingCommands(ctx)
	if len(cmds) != 0 {
		t.Fatalf("expected no pending commands, got %d", len(cmds))
	}
}

func TestSQLiteStore_Providers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := newTestProvider(t, store)

	inactive := &models.Provider{Name: "Archived", SourceURL: "https://example.com", ScraperType: "bid13"}
	if err := store.CreateProvider(ctx, inactive); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	active, err := store.ListProviders(ctx, true)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(active) != 1 || active[0].ID != p.ID {
		t.Fatalf("expected only the active provider, got %+v", active)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.TouchProviderScraped(ctx, p.ID, at); err != nil {
		t.Fatalf("touch provider: %v", err)
	}
	got, err := store.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(at) {
		t.Fatalf("expected last_scraped_at %s, got %v", at, got.LastScrapedAt)
	}

	missing, err := store.GetProvider(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("expected no provider, got %+v, %v", missing, err)
	}
}
