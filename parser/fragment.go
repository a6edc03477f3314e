package parser

import (
	"time"

	"auction_scraper/models"

	"github.com/PuerkitoBio/goquery"
)

// Fragment is the part of a fetched page describing one listing, plus the
// page-level context some providers keep outside the listing markup.
type Fragment struct {
	Sel       *goquery.Selection
	PageURL   string
	FetchedAt time.Time
	// Closings maps external id to the raw closing time found in page scripts.
	Closings map[string]string
}

// Func parses one fragment into a normalized listing.
type Func func(f Fragment, baseURL string) (*models.ParsedListing, error)

// IDFunc extracts only the external id, for filtering before a full parse.
type IDFunc func(f Fragment) string
