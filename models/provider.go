package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider is a storage auction source site.
type Provider struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	SourceURL            string     `json:"source_url" db:"source_url"`
	ScraperType          string     `json:"scraper_type" db:"scraper_type"`
	ScrapeFrequencyHours int        `json:"scrape_frequency_hours" db:"scrape_frequency_hours"`
	IsActive             bool       `json:"is_active" db:"is_active"`
	LastScrapedAt        *time.Time `json:"last_scraped_at" db:"last_scraped_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

// Due reports whether the provider should be scraped at now given its frequency.
func (p *Provider) Due(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.LastScrapedAt == nil {
		return true
	}
	freq := time.Duration(p.ScrapeFrequencyHours) * time.Hour
	if freq <= 0 {
		freq = 24 * time.Hour
	}
	return now.Sub(*p.LastScrapedAt) >= freq
}
