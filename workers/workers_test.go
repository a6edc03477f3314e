package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"auction_scraper/geocode"
	"auction_scraper/models"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) (*storage.SQLiteStore, *models.Provider) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "workers.db"))
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

func insertAuction(t *testing.T, store storage.Store, providerID uuid.UUID, extID string, closesAt time.Time) *models.Auction {
	t.Helper()
	now := time.Now().UTC()
	a := &models.Auction{
		ID:                uuid.New(),
		ProviderID:        providerID,
		UnitNumber:        "Unit " + extID,
		FacilityName:      "Public Storage Midtown",
		City:              "Sacramento",
		State:             "CA",
		StartsAt:          now,
		ClosesAt:          closesAt,
		BidIncrement:      models.DefaultBidIncrement,
		Status:            models.AuctionStatusActive,
		ExternalAuctionID: extID,
		SourceURL:         "https://bid13.com/auctions/" + extID,
		LastScrapedAt:     now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.InsertAuction(context.Background(), a); err != nil {
		t.Fatalf("insert auction: %v", err)
	}
	return a
}

type recordingUploader struct {
	mu   sync.Mutex
	keys map[string]string
}

func (u *recordingUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.keys == nil {
		u.keys = make(map[string]string)
	}
	io.Copy(io.Discard, data)
	u.keys[key] = contentType
	return nil
}

func TestMediaWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/units/1.jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := insertAuction(t, store, p.ID, "1001", time.Now().Add(48*time.Hour))
	if err := store.EnqueueAuctionImages(ctx, a.ID, []string{srv.URL + "/units/1.jpg", srv.URL + "/units/gone.png"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	up := &recordingUploader{}
	w := NewMediaWorker(store, up, srv.Client(), "media-test")
	w.SetLogger(NoOpLogger)
	w.delay = 0

	uploaded, failed := w.processBatch(ctx, 10)
	if uploaded != 1 || failed != 1 {
		t.Fatalf("expected 1 uploaded 1 failed, got %d/%d", uploaded, failed)
	}
	if len(up.keys) != 1 {
		t.Fatalf("expected 1 upload, got %v", up.keys)
	}
	for key, ct := range up.keys {
		if !strings.HasPrefix(key, "auctions/") || !strings.HasSuffix(key, ".jpg") || ct != "image/jpeg" {
			t.Fatalf("unexpected upload %s (%s)", key, ct)
		}
	}

	for i := 0; i < maxImageAttempts-1; i++ {
		w.processBatch(ctx, 10)
	}
	pending, err := store.GetPendingImages(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected missing image to be given up on, still pending: %+v", pending)
	}
}

func TestGuessExtension(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://cdn.example.com/a/unit.PNG", "", ".png"},
		{"https://cdn.example.com/a/unit.jpg?w=400", "", ".jpg"},
		{"https://cdn.example.com/image", "image/webp; charset=binary", ".webp"},
		{"https://cdn.example.com/image.php", "application/octet-stream", ".jpg"},
	}
	for _, tt := range tests {
		if got := guessExtension(tt.url, tt.contentType); got != tt.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", tt.url, tt.contentType, got, tt.want)
		}
	}
}

func TestStatusWorker_ClosesExpired(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)

	insertAuction(t, store, p.ID, "old", time.Now().Add(-time.Hour))
	insertAuction(t, store, p.ID, "open", time.Now().Add(time.Hour))

	w := NewStatusWorker(store)
	w.SetLogger(NoOpLogger)

	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 closed, got %d", n)
	}

	auctions, _ := store.ListAuctions(ctx, p.ID)
	for _, a := range auctions {
		want := models.AuctionStatusActive
		if a.ExternalAuctionID == "old" {
			want = models.AuctionStatusClosed
		}
		if a.Status != want {
			t.Fatalf("auction %s: status %s, want %s", a.ExternalAuctionID, a.Status, want)
		}
	}

	if n, _ := w.RunOnce(ctx); n != 0 {
		t.Fatalf("second pass closed %d", n)
	}
}

type fakeGeocoder struct {
	calls int
}

func (g *fakeGeocoder) Geocode(ctx context.Context, addr geocode.Address) (*geocode.Point, error) {
	g.calls++
	if addr.City == "Nowhere" {
		return nil, geocode.ErrNotFound
	}
	return &geocode.Point{Lat: 38.58, Lng: -121.49}, nil
}

func TestGeocodeWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	store, p := newTestStore(t)

	for _, city := range []string{"Sacramento", "Nowhere"} {
		f := &models.Facility{
			ID:           uuid.New(),
			ProviderID:   p.ID,
			FacilityName: "Storage " + city,
			City:         city,
			State:        "CA",
			CreatedAt:    time.Now(),
		}
		if err := store.InsertFacility(ctx, f); err != nil {
			t.Fatalf("insert facility: %v", err)
		}
	}

	g := &fakeGeocoder{}
	w := NewGeocodeWorker(store, g)
	w.SetLogger(NoOpLogger)

	located, failed := w.processBatch(ctx, 10)
	if located != 1 || failed != 1 {
		t.Fatalf("expected 1 located 1 failed, got %d/%d", located, failed)
	}

	facilities, _ := store.ListFacilities(ctx, p.ID)
	for _, f := range facilities {
		if f.City == "Sacramento" && (f.Latitude == nil || *f.Latitude != 38.58) {
			t.Fatalf("expected coordinates for %s", f.FacilityName)
		}
	}

	located, failed = w.processBatch(ctx, 10)
	if located != 0 || failed != 0 || g.calls != 2 {
		t.Fatalf("known misses should be skipped, got %d/%d after %d calls", located, failed, g.calls)
	}
}
