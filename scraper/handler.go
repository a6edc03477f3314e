package scraper

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"auction_scraper/config"
	"auction_scraper/models"
	"auction_scraper/parser"

	"github.com/PuerkitoBio/goquery"
)

// Handler fetches and parses listings for one provider type.
type Handler interface {
	Type() string
	// Fetch walks the provider's listing pages. On a page failure the
	// fragments of earlier pages are returned alongside the error.
	Fetch(ctx context.Context, p *models.Provider) (*FetchResult, error)
	ExternalID(f parser.Fragment) string
	Parse(f parser.Fragment, baseURL string) (*models.ParsedListing, error)
}

type FetchResult struct {
	Fragments []parser.Fragment
	Pages     int
}

// ErrUnknownType is returned for providers whose type has no handler.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("no scraper registered for provider type %q", e.Type)
}

// pageHandler is a paginated HTML listing site. Sites differ only in their
// selectors and field extraction.
type pageHandler struct {
	typeTag   string
	listing   string
	next      string
	closings  func(html string) map[string]string
	parse     parser.Func
	id        parser.IDFunc
	fetcher   PageFetcher
	retry     retryPolicy
	pageDelay time.Duration
	maxPages  int
	now       func() time.Time
}

func (h *pageHandler) Type() string { return h.typeTag }

func (h *pageHandler) ExternalID(f parser.Fragment) string { return h.id(f) }

func (h *pageHandler) Parse(f parser.Fragment, baseURL string) (*models.ParsedListing, error) {
	return h.parse(f, baseURL)
}

func (h *pageHandler) Fetch(ctx context.Context, p *models.Provider) (*FetchResult, error) {
	result := &FetchResult{}
	seen := make(map[string]bool)
	pageURL := p.SourceURL

	for pageURL != "" && result.Pages < h.maxPages {
		if result.Pages > 0 {
			if err := sleepCtx(ctx, h.pageDelay); err != nil {
				return result, err
			}
		}
		seen[pageURL] = true

		body, err := fetchWithRetry(ctx, h.fetcher, pageURL, h.retry)
		if err != nil {
			return result, err
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return result, &FetchError{URL: pageURL, Err: err}
		}
		result.Pages++

		var closings map[string]string
		if h.closings != nil {
			closings = h.closings(string(body))
		}
		fetchedAt := h.now().UTC()
		doc.Find(h.listing).Each(func(_ int, s *goquery.Selection) {
			result.Fragments = append(result.Fragments, parser.Fragment{
				Sel:       s,
				PageURL:   pageURL,
				FetchedAt: fetchedAt,
				Closings:  closings,
			})
		})

		current := pageURL
		pageURL = ""
		if h.next == "" {
			break
		}
		if href, ok := doc.Find(h.next).First().Attr("href"); ok {
			next := parser.ResolveURL(current, href)
			if next != "" && !seen[next] {
				pageURL = next
			}
		}
	}

	return result, nil
}

func newPageHandler(tag string, sc config.ScraperTypeConfig, fetcher PageFetcher, policy retryPolicy) *pageHandler {
	return &pageHandler{
		typeTag:   tag,
		fetcher:   fetcher,
		retry:     policy,
		pageDelay: time.Duration(sc.RateLimitMS) * time.Millisecond,
		maxPages:  sc.MaxPages,
		now:       time.Now,
	}
}

func NewBid13Handler(sc config.ScraperTypeConfig, fetcher PageFetcher, policy retryPolicy) Handler {
	h := newPageHandler(TypeBid13, sc, fetcher, policy)
	h.listing = parser.Bid13ListingSelector
	h.next = "li.pager-next a, a.next-page"
	h.parse = parser.ParseBid13
	h.id = parser.Bid13ID
	return h
}

func NewStorageAuctionsHandler(sc config.ScraperTypeConfig, fetcher PageFetcher, policy retryPolicy) Handler {
	h := newPageHandler(TypeStorageAuctions, sc, fetcher, policy)
	h.listing = parser.StorageAuctionsListingSelector
	h.next = "a.next-page, ul.pagination li.next a"
	h.closings = parser.StorageAuctionsClosings
	h.parse = parser.ParseStorageAuctions
	h.id = parser.StorageAuctionsID
	return h
}

const (
	TypeBid13           = "bid13"
	TypeStorageAuctions = "storageauctions"
)

// Registry maps a provider's scraper_type tag to its handler.
type Registry struct {
	handlers map[string]Handler
	browser  *BrowserFetcher
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewDefaultRegistry registers the built-in provider types. Types configured
// with fetch_mode: browser share one headless browser.
func NewDefaultRegistry(cfg *config.Config, fetcher PageFetcher) *Registry {
	r := NewRegistry()
	policy := retryPolicy{MaxAttempts: cfg.Scraper.MaxAttempts, Backoff: cfg.Scraper.RetryBackoff}

	pick := func(sc config.ScraperTypeConfig) PageFetcher {
		if sc.FetchMode != config.FetchModeBrowser {
			return fetcher
		}
		if r.browser == nil {
			r.browser = NewBrowserFetcher(sc.UserAgent)
		}
		return r.browser
	}

	bid13 := cfg.ScraperType(TypeBid13)
	r.Register(NewBid13Handler(bid13, pick(bid13), policy))

	sa := cfg.ScraperType(TypeStorageAuctions)
	r.Register(NewStorageAuctionsHandler(sa, pick(sa), policy))

	return r
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

func (r *Registry) Lookup(tag string) (Handler, error) {
	h, ok := r.handlers[tag]
	if !ok {
		return nil, &ErrUnknownType{Type: tag}
	}
	return h, nil
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Close() {
	if r.browser != nil {
		r.browser.Close()
	}
}
