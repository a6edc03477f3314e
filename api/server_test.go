package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"auction_scraper/config"
	"auction_scraper/models"
	"auction_scraper/runlock"
	"auction_scraper/scraper"
	"auction_scraper/storage"

	"github.com/google/uuid"
)

const listingPage = `<html><body><ul>
<li class="auction-search-result">
  <a class="auction-link-wrapper" data-node-id="501" href="/auctions/501">
    <span class="title">Unit 5</span>
    <div class="auc-current-bid">$80</div>
    <div class="countdown" data-expiry="1893456000"></div>
    <span class="auc-owner"><span class="field-content">Reno Storage Center</span></span>
    <div class="auc-address">Reno, NV 89502</div>
  </a>
</li>
</ul></body></html>`

type testEnv struct {
	api      *httptest.Server
	store    *storage.SQLiteStore
	provider *models.Provider
	locker   *runlock.Local
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	t.Cleanup(site.Close)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &models.Provider{Name: "Bid13", SourceURL: site.URL, ScraperType: scraper.TypeBid13, ScrapeFrequencyHours: 24, IsActive: true}
	if err := store.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	cfg := &config.Config{Scraper: config.ScraperConfig{MaxAttempts: 1, RetryBackoff: time.Millisecond, Concurrency: 1}}
	locker := runlock.NewLocal()
	registry := scraper.NewDefaultRegistry(cfg, scraper.NewHTTPFetcher(site.Client(), "api-test"))
	orch := scraper.NewOrchestrator(cfg, store, registry, locker)

	srv := httptest.NewServer(NewServer(store, orch).Routes())
	t.Cleanup(srv.Close)
	return &testEnv{api: srv, store: store, provider: p, locker: locker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAPI_Providers(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/providers", map[string]any{
		"name":         "StorageAuctions.com",
		"source_url":   "https://www.storageauctions.com/auction-unit/find-auctions",
		"scraper_type": "storageauctions",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	created := decode[models.Provider](t, resp)
	if created.ID == uuid.Nil || created.ScrapeFrequencyHours != 24 {
		t.Fatalf("unexpected provider %+v", created)
	}

	resp = env.do(t, http.MethodPost, "/api/providers", map[string]any{
		"name": "Mystery", "source_url": "https://example.com", "scraper_type": "lockerfox",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown scraper type, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/providers", nil)
	providers := decode[[]models.Provider](t, resp)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
}

func TestAPI_ScrapeDryRunThenReal(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/providers/" + env.provider.ID.String()

	resp := env.do(t, http.MethodPost, base+"/scrape", map[string]any{"dry_run": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dry run status %d", resp.StatusCode)
	}
	preview := decode[models.ScrapeSummary](t, resp)
	if !preview.DryRun || preview.AuctionsAdded != 1 || len(preview.Auctions) != 1 {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if preview.Auctions[0].Action != models.ActionInserted {
		t.Fatalf("expected INSERTED preview, got %s", preview.Auctions[0].Action)
	}

	resp = env.do(t, http.MethodGet, base+"/auctions", nil)
	if got := decode[[]models.Auction](t, resp); len(got) != 0 {
		t.Fatalf("dry run persisted %d auctions", len(got))
	}

	resp = env.do(t, http.MethodPost, base+"/scrape", nil)
	summary := decode[models.ScrapeSummary](t, resp)
	if summary.Status != models.RunStateCompleted || summary.AuctionsAdded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	resp = env.do(t, http.MethodGet, base+"/auctions?status=active", nil)
	auctions := decode[[]models.Auction](t, resp)
	if len(auctions) != 1 || auctions[0].ExternalAuctionID != "501" {
		t.Fatalf("unexpected auctions %+v", auctions)
	}

	resp = env.do(t, http.MethodGet, base+"/logs", nil)
	logs := decode[[]models.ScrapeLog](t, resp)
	if len(logs) != 1 || logs[0].Status != "success" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestAPI_ScrapeErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/providers/not-a-uuid/scrape", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/providers/"+uuid.NewString()+"/scrape", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	release, err := env.locker.Acquire(context.Background(), env.provider.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	resp = env.do(t, http.MethodPost, "/api/providers/"+env.provider.ID.String()+"/scrape", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while a run is in progress, got %d", resp.StatusCode)
	}
}
