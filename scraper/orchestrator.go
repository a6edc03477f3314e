package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"auction_scraper/config"
	"auction_scraper/models"
	"auction_scraper/parser"
	"auction_scraper/runlock"
	"auction_scraper/services"
	"auction_scraper/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrProviderNotFound is returned when a scrape names an unknown provider.
var ErrProviderNotFound = errors.New("provider not found")

const maxLoggedErrors = 20

// RunOptions selects what a run does. FullScrape=false limits the run to
// ExternalIDs, or to the provider's active auctions when none are given.
type RunOptions struct {
	FullScrape  bool
	DryRun      bool
	ExternalIDs []string
}

type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	registry *Registry
	resolver *services.FacilityResolver
	upserter *services.AuctionUpserter
	locker   runlock.Locker
	paused   atomic.Bool
	now      func() time.Time
}

func NewOrchestrator(cfg *config.Config, store storage.Store, registry *Registry, locker runlock.Locker) *Orchestrator {
	if locker == nil {
		locker = runlock.NewLocal()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		resolver: services.NewFacilityResolver(store),
		upserter: services.NewAuctionUpserter(store),
		locker:   locker,
		now:      time.Now,
	}
}

// run carries the state of one provider scrape.
type run struct {
	provider *models.Provider
	opts     RunOptions
	state    models.RunState
	summary  *models.ScrapeSummary
	preview  *services.Preview
}

func (r *run) fail(externalID, stage, kind string, err error) {
	r.summary.Errors = append(r.summary.Errors, models.RunError{
		ExternalAuctionID: externalID,
		Stage:             stage,
		Kind:              kind,
		Message:           err.Error(),
	})
}

func (o *Orchestrator) Scrape(ctx context.Context, providerID uuid.UUID, opts RunOptions) (*models.ScrapeSummary, error) {
	p, err := o.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return o.Run(ctx, p, opts)
}

// Run scrapes one provider end to end and always returns a summary once the
// run has started. The error return covers only runs that could not start:
// an unknown scraper type or a run already in progress.
func (o *Orchestrator) Run(ctx context.Context, p *models.Provider, opts RunOptions) (*models.ScrapeSummary, error) {
	handler, err := o.registry.Lookup(p.ScraperType)
	if err != nil {
		return nil, err
	}

	release, err := o.locker.Acquire(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	r := &run{
		provider: p,
		opts:     opts,
		state:    models.RunStatePending,
		summary: &models.ScrapeSummary{
			ProviderID: p.ID,
			Status:     models.RunStatePending,
			DryRun:     opts.DryRun,
			StartedAt:  o.now().UTC(),
			Errors:     []models.RunError{},
		},
	}
	if opts.DryRun {
		r.preview = services.NewPreview()
		r.summary.Auctions = []models.AuctionPreview{}
	}

	o.logf(p, models.LogLevelInfo, "Starting scrape (full=%t, dry_run=%t)", opts.FullScrape, opts.DryRun)

	o.transition(r, models.RunStateFetching)
	fetched, fetchErr := handler.Fetch(ctx, p)
	if fetched == nil {
		fetched = &FetchResult{}
	}
	if fetchErr != nil {
		r.fail("", "fetch", "fetch_error", fetchErr)
		o.logf(p, models.LogLevelError, "Fetch error after %d pages: %v", fetched.Pages, fetchErr)
	}
	if fetched.Pages == 0 {
		return o.finish(ctx, r, models.RunStateFailed), nil
	}
	if fetchErr == nil && len(fetched.Fragments) == 0 {
		o.logf(p, models.LogLevelWarn, "No listings on %d fetched pages; check the listing selector", fetched.Pages)
	}

	fragments := fetched.Fragments
	if !opts.FullScrape {
		fragments, err = o.selectFragments(ctx, r, handler, fragments)
		if err != nil {
			r.fail("", "fetch", "persistence_error", err)
			return o.finish(ctx, r, models.RunStateFailed), nil
		}
	}

	o.transition(r, models.RunStateParsing)
	listings := o.parseAll(ctx, r, handler, fragments)
	r.summary.AuctionsFound = len(listings)

	o.transition(r, models.RunStateWriting)
	for i, l := range listings {
		if err := ctx.Err(); err != nil {
			r.fail("", "write", "cancelled", fmt.Errorf("run cancelled with %d listings unwritten: %w", len(listings)-i, err))
			break
		}
		o.writeListing(ctx, r, l)
	}

	return o.finish(ctx, r, o.outcome(r)), nil
}

// selectFragments keeps only fragments whose external id is targeted by an
// update-only run.
func (o *Orchestrator) selectFragments(ctx context.Context, r *run, h Handler, fragments []parser.Fragment) ([]parser.Fragment, error) {
	ids := r.opts.ExternalIDs
	if len(ids) == 0 {
		var err error
		ids, err = o.store.ActiveExternalIDs(ctx, r.provider.ID)
		if err != nil {
			return nil, err
		}
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var kept []parser.Fragment
	for _, f := range fragments {
		if want[h.ExternalID(f)] {
			kept = append(kept, f)
		}
	}
	o.logf(r.provider, models.LogLevelInfo, "Update-only: %d of %d listings targeted", len(kept), len(fragments))
	return kept, nil
}

func (o *Orchestrator) parseAll(ctx context.Context, r *run, h Handler, fragments []parser.Fragment) []*models.ParsedListing {
	listings := make([]*models.ParsedListing, 0, len(fragments))
	for i, f := range fragments {
		if err := ctx.Err(); err != nil {
			r.fail("", "parse", "cancelled", fmt.Errorf("run cancelled with %d fragments unparsed: %w", len(fragments)-i, err))
			return nil
		}

		l, err := h.Parse(f, r.provider.SourceURL)
		if err != nil {
			kind := "parse_error"
			var pe *parser.ParseError
			if errors.As(err, &pe) {
				kind = string(pe.Kind)
			}
			r.fail(h.ExternalID(f), "parse", kind, err)
			o.logf(r.provider, models.LogLevelWarn, "Skipping listing %q: %v", h.ExternalID(f), err)
			continue
		}
		listings = append(listings, l)
	}
	return listings
}

func (o *Orchestrator) writeListing(ctx context.Context, r *run, l *models.ParsedListing) {
	res, err := o.resolver.Resolve(ctx, r.provider.ID, services.FacilityInput{
		Name:         l.FacilityName,
		City:         l.City,
		State:        l.State,
		AddressLine1: l.AddressLine1,
		ZipCode:      l.ZipCode,
	}, r.preview)
	if err != nil {
		r.fail(l.ExternalAuctionID, "write", writeKind(err), err)
		o.logf(r.provider, models.LogLevelError, "Facility error for %s: %v", l.ExternalAuctionID, err)
		return
	}

	up, err := o.upserter.Upsert(ctx, r.provider.ID, l, res.FacilityID, r.preview)
	if err != nil {
		r.fail(l.ExternalAuctionID, "write", writeKind(err), err)
		o.logf(r.provider, models.LogLevelError, "Upsert error for %s: %v", l.ExternalAuctionID, err)
		return
	}

	switch up.Action {
	case models.ActionInserted:
		r.summary.AuctionsAdded++
	case models.ActionUpdated:
		r.summary.AuctionsUpdated++
	}

	if r.opts.DryRun {
		r.summary.Auctions = append(r.summary.Auctions, models.AuctionPreview{
			ParsedListing: *l,
			Action:        up.Action,
			AuctionID:     up.AuctionID,
			FacilityID:    res.FacilityID,
			Changes:       up.Changes,
		})
	}
}

func writeKind(err error) string {
	if storage.IsConflict(err) {
		return "conflict"
	}
	return "persistence_error"
}

func (o *Orchestrator) outcome(r *run) models.RunState {
	if len(r.summary.Errors) == 0 {
		return models.RunStateCompleted
	}
	if r.summary.AuctionsAdded+r.summary.AuctionsUpdated > 0 {
		return models.RunStatePartial
	}
	return models.RunStateFailed
}

func (o *Orchestrator) transition(r *run, next models.RunState) {
	r.state = next
	r.summary.Status = next
	o.logf(r.provider, models.LogLevelDebug, "State -> %s", next)
}

// finish seals the summary and, unless dry-running, records the run. The log
// write is detached from ctx so a cancelled run is still recorded.
func (o *Orchestrator) finish(ctx context.Context, r *run, final models.RunState) *models.ScrapeSummary {
	o.transition(r, final)
	completedAt := o.now().UTC()
	r.summary.CompletedAt = completedAt

	s := r.summary
	o.logf(r.provider, models.LogLevelInfo, "Finished %s: %d found, %d added, %d updated, %d errors",
		s.Status, s.AuctionsFound, s.AuctionsAdded, s.AuctionsUpdated, len(s.Errors))

	if r.opts.DryRun {
		return s
	}

	wctx := context.WithoutCancel(ctx)
	entry := &models.ScrapeLog{
		ProviderID:      r.provider.ID,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		Status:          final.LogStatus(),
		AuctionsFound:   s.AuctionsFound,
		AuctionsAdded:   s.AuctionsAdded,
		AuctionsUpdated: s.AuctionsUpdated,
		ErrorMessage:    errorMessage(s.Errors),
	}
	if err := o.store.AppendScrapeLog(wctx, entry); err != nil {
		o.logf(r.provider, models.LogLevelError, "Failed to append scrape log: %v", err)
	}
	if err := o.store.TouchProviderScraped(wctx, r.provider.ID, completedAt); err != nil {
		o.logf(r.provider, models.LogLevelError, "Failed to update last_scraped_at: %v", err)
	}
	return s
}

func errorMessage(errs []models.RunError) *string {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for i, e := range errs {
		if i == maxLoggedErrors {
			parts = append(parts, fmt.Sprintf("... and %d more", len(errs)-maxLoggedErrors))
			break
		}
		if e.ExternalAuctionID != "" {
			parts = append(parts, fmt.Sprintf("%s %s: %s", e.Stage, e.ExternalAuctionID, e.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", e.Stage, e.Message))
		}
	}
	msg := strings.Join(parts, "; ")
	return &msg
}

// RunAll scrapes every active provider. Failures are logged per provider and
// never stop the others.
func (o *Orchestrator) RunAll(ctx context.Context, opts RunOptions) ([]*models.ScrapeSummary, error) {
	providers, err := o.store.ListProviders(ctx, true)
	if err != nil {
		return nil, err
	}
	return o.runMany(ctx, providers, opts), nil
}

// RunDue scrapes the active providers whose frequency has elapsed.
func (o *Orchestrator) RunDue(ctx context.Context) ([]*models.ScrapeSummary, error) {
	providers, err := o.store.ListProviders(ctx, true)
	if err != nil {
		return nil, err
	}

	now := o.now()
	var due []models.Provider
	for _, p := range providers {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		log.Println("No providers due for scraping")
		return nil, nil
	}
	return o.runMany(ctx, due, RunOptions{FullScrape: true}), nil
}

func (o *Orchestrator) runMany(ctx context.Context, providers []models.Provider, opts RunOptions) []*models.ScrapeSummary {
	if o.paused.Load() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	summaries := make([]*models.ScrapeSummary, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	limit := 1
	if o.cfg != nil && o.cfg.Scraper.Concurrency > 0 {
		limit = o.cfg.Scraper.Concurrency
	}
	g.SetLimit(limit)

	for i := range providers {
		p := &providers[i]
		g.Go(func() error {
			summary, err := o.Run(gctx, p, opts)
			if err != nil {
				o.logf(p, models.LogLevelError, "Run not started: %v", err)
				return nil
			}
			summaries[i] = summary
			return nil
		})
	}
	g.Wait()

	out := summaries[:0]
	for _, s := range summaries {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := cmd.ParseParams()
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeProvider:
		id, err := uuid.Parse(params.ProviderID)
		if err != nil {
			return fmt.Errorf("invalid provider id %q: %w", params.ProviderID, err)
		}
		opts := RunOptions{FullScrape: true, DryRun: params.DryRun, ExternalIDs: params.ExternalIDs}
		if params.FullScrape != nil {
			opts.FullScrape = *params.FullScrape
		}
		_, err = o.Scrape(ctx, id, opts)
		return err
	case models.CmdScrapeDue:
		_, err := o.RunDue(ctx)
		return err
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Scraper resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

func (o *Orchestrator) logf(p *models.Provider, level models.LogLevel, format string, args ...any) {
	log.Printf("[%s] %s: %s", level, p.Name, fmt.Sprintf(format, args...))
}
