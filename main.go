package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"auction_scraper/api"
	"auction_scraper/config"
	"auction_scraper/geocode"
	"auction_scraper/httputil"
	"auction_scraper/logging"
	"auction_scraper/models"
	"auction_scraper/runlock"
	"auction_scraper/scheduler"
	"auction_scraper/scraper"
	"auction_scraper/storage"
	"auction_scraper/tui"
	"auction_scraper/workers"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	listProviders = flag.Bool("list-providers", false, "List providers and exit")
	addProvider   = flag.String("add-provider", "", "Add a provider: name|source_url|scraper_type[|frequency_hours]")
	providerID    = flag.String("provider", "", "Scrape one provider by id")
	providerName  = flag.String("provider-name", "", "Scrape one provider by name")
	scrapeAll     = flag.Bool("all", false, "Scrape every active provider and exit")
	scrapeDue     = flag.Bool("due", false, "Scrape providers whose frequency has elapsed and exit")
	updateOnly    = flag.Bool("update-only", false, "Only refresh auctions already known to be active")
	externalIDs   = flag.String("ids", "", "Comma-separated external auction ids for -update-only")
	dryRun        = flag.Bool("dry-run", false, "Parse and preview without writing")
	serve         = flag.Bool("serve", false, "Run the HTTP API alongside the daemon")
	dashboard     = flag.Bool("tui", false, "Open the terminal dashboard against the store")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *dashboard {
		store, err := openStore(context.Background(), cfg)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer store.Close()
		if err := tui.Run(store, cfg.LogFile); err != nil {
			log.Fatalf("Dashboard error: %v", err)
		}
		return
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting auction_scraper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		log.Println("Connected to Redis")
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	registry := scraper.NewDefaultRegistry(cfg, scraper.NewHTTPFetcher(clients.Scraping, cfg.Scraper.UserAgent))
	defer registry.Close()
	log.Printf("Scraper types: %s", strings.Join(registry.Types(), ", "))

	var locker runlock.Locker = runlock.NewLocal()
	if rdb != nil {
		locker = runlock.NewRedis(rdb, cfg.Scraper.LockTTL)
	}
	orchestrator := scraper.NewOrchestrator(cfg, store, registry, locker)

	done, err := runOneShot(ctx, store, orchestrator)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if done {
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, store)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	statusWorker := workers.NewStatusWorker(store)
	go statusWorker.Run(ctx, 15*time.Minute)
	log.Println("Status worker started")

	var geocodeWorker scheduler.Triggerable
	if cfg.Geocoder.Enabled {
		var cache geocode.Cache = geocode.NewMemoryCache()
		if rdb != nil {
			cache = geocode.NewRedisCache(rdb, 0)
		}
		client := geocode.NewClient(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, clients.API, cfg.Geocoder.Interval, cache)
		w := workers.NewGeocodeWorker(store, client)
		go w.Run(ctx, 25, 10*time.Minute)
		geocodeWorker = w
		log.Println("Geocode worker started")
	}

	var mediaWorker scheduler.Triggerable
	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to configure S3: %v", err)
		}
		w := workers.NewMediaWorker(store, uploader, clients.Media, cfg.Scraper.UserAgent)
		go w.Run(ctx, 20, 2*time.Minute)
		mediaWorker = w
		log.Printf("Media worker started (bucket %s)", cfg.S3.Bucket)
	}

	sched.SetWorkers(mediaWorker, geocodeWorker, statusWorker)

	var httpServer *http.Server
	if *serve {
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewServer(store, orchestrator).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("API listening on %s", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("API server error: %v", err)
				cancel()
			}
		}()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	if httpServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		httpServer.Shutdown(shutdownCtx)
		stop()
	}
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// openStore uses Postgres when DATABASE_URL is set and the local SQLite file otherwise.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		s, err := storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		log.Printf("SQLite database: %s", cfg.DBPath)
		return s, nil
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	return pg, nil
}

// runOneShot handles the CLI flags that run once and exit.
func runOneShot(ctx context.Context, store storage.Store, orch *scraper.Orchestrator) (bool, error) {
	opts := scraper.RunOptions{FullScrape: !*updateOnly, DryRun: *dryRun}
	if *externalIDs != "" {
		for _, id := range strings.Split(*externalIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				opts.ExternalIDs = append(opts.ExternalIDs, id)
			}
		}
	}

	switch {
	case *listProviders:
		providers, err := store.ListProviders(ctx, false)
		if err != nil {
			return true, fmt.Errorf("list providers: %w", err)
		}
		for _, p := range providers {
			last := "never"
			if p.LastScrapedAt != nil {
				last = p.LastScrapedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-24s %-16s active=%-5t every %dh  last=%s\n",
				p.ID, p.Name, p.ScraperType, p.IsActive, p.ScrapeFrequencyHours, last)
		}
		return true, nil

	case *addProvider != "":
		p, err := parseProviderSpec(*addProvider)
		if err != nil {
			return true, err
		}
		if _, err := orch.Registry().Lookup(p.ScraperType); err != nil {
			return true, err
		}
		if err := store.CreateProvider(ctx, p); err != nil {
			return true, fmt.Errorf("add provider: %w", err)
		}
		fmt.Printf("Added provider %s (%s)\n", p.Name, p.ID)
		return true, nil

	case *providerID != "" || *providerName != "":
		p, err := findProvider(ctx, store, *providerID, *providerName)
		if err != nil {
			return true, err
		}
		summary, err := orch.Run(ctx, p, opts)
		if err != nil {
			return true, fmt.Errorf("scrape %s: %w", p.Name, err)
		}
		return true, printJSON(summary)

	case *scrapeAll:
		summaries, err := orch.RunAll(ctx, opts)
		if err != nil {
			return true, fmt.Errorf("scrape all: %w", err)
		}
		return true, printJSON(summaries)

	case *scrapeDue:
		summaries, err := orch.RunDue(ctx)
		if err != nil {
			return true, fmt.Errorf("scrape due: %w", err)
		}
		return true, printJSON(summaries)
	}

	return false, nil
}

func parseProviderSpec(spec string) (*models.Provider, error) {
	parts := strings.Split(spec, "|")
	if len(parts) < 3 {
		return nil, fmt.Errorf("-add-provider expects name|source_url|scraper_type[|frequency_hours]")
	}
	p := &models.Provider{
		Name:                 strings.TrimSpace(parts[0]),
		SourceURL:            strings.TrimSpace(parts[1]),
		ScraperType:          strings.TrimSpace(parts[2]),
		ScrapeFrequencyHours: 24,
		IsActive:             true,
	}
	if len(parts) > 3 {
		var hours int
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[3]), "%d", &hours); err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid frequency %q", parts[3])
		}
		p.ScrapeFrequencyHours = hours
	}
	return p, nil
}

func findProvider(ctx context.Context, store storage.Store, id, name string) (*models.Provider, error) {
	if id != "" {
		pid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid provider id %q: %w", id, err)
		}
		p, err := store.GetProvider(ctx, pid)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %s", scraper.ErrProviderNotFound, id)
		}
		return p, nil
	}

	providers, err := store.ListProviders(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range providers {
		if strings.EqualFold(providers[i].Name, name) {
			return &providers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", scraper.ErrProviderNotFound, name)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	at := strings.Index(connStr[start:], "@")
	if at < 0 {
		return connStr
	}
	at += start

	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	colon += start
	return connStr[:colon+1] + "****" + connStr[at:]
}
