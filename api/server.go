// Package api exposes providers, scrape triggers and run history over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auction_scraper/models"
	"auction_scraper/runlock"
	"auction_scraper/scraper"
	"auction_scraper/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Server struct {
	store        storage.Store
	orchestrator *scraper.Orchestrator
	started      time.Time
}

func NewServer(store storage.Store, orchestrator *scraper.Orchestrator) *Server {
	return &Server{store: store, orchestrator: orchestrator, started: time.Now()}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Post("/", s.handleCreateProvider)
		r.Post("/{id}/scrape", s.handleScrape)
		r.Get("/{id}/logs", s.handleLogs)
		r.Get("/{id}/auctions", s.handleAuctions)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"paused":         s.orchestrator.IsPaused(),
		"scraper_types":  s.orchestrator.Registry().Types(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	providers, err := s.store.ListProviders(r.Context(), activeOnly)
	if err != nil {
		s.internalError(w, "list providers", err)
		return
	}
	if providers == nil {
		providers = []models.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

type createProviderRequest struct {
	Name                 string `json:"name"`
	SourceURL            string `json:"source_url"`
	ScraperType          string `json:"scraper_type"`
	ScrapeFrequencyHours int    `json:"scrape_frequency_hours"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.Name == "" || req.SourceURL == "" || req.ScraperType == "" {
		writeError(w, http.StatusBadRequest, "name, source_url and scraper_type are required")
		return
	}
	if _, err := s.orchestrator.Registry().Lookup(req.ScraperType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScrapeFrequencyHours <= 0 {
		req.ScrapeFrequencyHours = 24
	}

	p := &models.Provider{
		Name:                 req.Name,
		SourceURL:            req.SourceURL,
		ScraperType:          req.ScraperType,
		ScrapeFrequencyHours: req.ScrapeFrequencyHours,
		IsActive:             true,
	}
	if err := s.store.CreateProvider(r.Context(), p); err != nil {
		if storage.IsConflict(err) {
			writeError(w, http.StatusConflict, "provider already exists")
			return
		}
		s.internalError(w, "create provider", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type scrapeRequest struct {
	FullScrape  *bool    `json:"full_scrape"`
	DryRun      bool     `json:"dry_run"`
	ExternalIDs []string `json:"external_ids"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req scrapeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	opts := scraper.RunOptions{FullScrape: true, DryRun: req.DryRun, ExternalIDs: req.ExternalIDs}
	if req.FullScrape != nil {
		opts.FullScrape = *req.FullScrape
	}

	summary, err := s.orchestrator.Scrape(r.Context(), id, opts)
	var unknown *scraper.ErrUnknownType
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, scraper.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider not found")
	case errors.Is(err, runlock.ErrHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unknown):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.internalError(w, "scrape", err)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := providerID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	logs, err := s.store.ListScrapeLogs(r.Context(), id, limit)
	if err != nil {
		s.internalError(w, "list logs", err)
		return
	}
	if logs == nil {
		logs = []models.ScrapeLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAuctions(w http.ResponseWriter, r *http.Request) {
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	auctions, err := s.store.ListAuctions(r.Context(), id)
	if err != nil {
		s.internalError(w, "list auctions", err)
		return
	}

	status := models.AuctionStatus(r.URL.Query().Get("status"))
	out := make([]models.Auction, 0, len(auctions))
	for _, a := range auctions {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func providerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[error] api: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[error] api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
