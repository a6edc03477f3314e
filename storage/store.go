package storage

import (
	"context"
	"encoding/json"
	"time"

	"auction_scraper/models"

	"github.com/google/uuid"
)

// Store is the persistence contract the pipeline runs against. Getters return
// (nil, nil) when no row matches. Inserts that hit a uniqueness constraint
// fail with an error matching ErrConflict.
type Store interface {
	CreateProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]models.Provider, error)
	TouchProviderScraped(ctx context.Context, id uuid.UUID, at time.Time) error

	GetFacilityByKey(ctx context.Context, key models.FacilityKey) (*models.Facility, error)
	InsertFacility(ctx context.Context, f *models.Facility) error
	ListFacilities(ctx context.Context, providerID uuid.UUID) ([]models.Facility, error)
	ListFacilitiesMissingCoords(ctx context.Context, limit int) ([]models.Facility, error)
	UpdateFacilityCoords(ctx context.Context, id uuid.UUID, lat, lng float64) error

	GetAuctionByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*models.Auction, error)
	InsertAuction(ctx context.Context, a *models.Auction) error
	UpdateAuction(ctx context.Context, a *models.Auction) error
	ListAuctions(ctx context.Context, providerID uuid.UUID) ([]models.Auction, error)
	ActiveExternalIDs(ctx context.Context, providerID uuid.UUID) ([]string, error)
	CloseExpiredAuctions(ctx context.Context, now time.Time) (int64, error)

	EnqueueAuctionImages(ctx context.Context, auctionID uuid.UUID, urls []string) error
	GetPendingImages(ctx context.Context, limit int) ([]models.AuctionImage, error)
	UpdateImageStatus(ctx context.Context, id int64, status models.ImageStatus, s3Key, contentHash *string, attempts int) error

	AppendScrapeLog(ctx context.Context, l *models.ScrapeLog) error
	ListScrapeLogs(ctx context.Context, providerID uuid.UUID, limit int) ([]models.ScrapeLog, error)

	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) error
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	Close() error
}

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const providerColumns = `id, name, source_url, scraper_type, scrape_frequency_hours, is_active, last_scraped_at, created_at`

func scanProvider(row rowScanner) (*models.Provider, error) {
	var p models.Provider
	err := row.Scan(&p.ID, &p.Name, &p.SourceURL, &p.ScraperType, &p.ScrapeFrequencyHours,
		&p.IsActive, &p.LastScrapedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const facilityColumns = `id, provider_id, facility_name, address_line1, city, state, zip_code, latitude, longitude, created_at`

func scanFacility(row rowScanner) (*models.Facility, error) {
	var f models.Facility
	err := row.Scan(&f.ID, &f.ProviderID, &f.FacilityName, &f.AddressLine1, &f.City, &f.State,
		&f.ZipCode, &f.Latitude, &f.Longitude, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

const auctionColumns = `id, provider_id, facility_id, unit_number, unit_size, description, facility_name,
	address_line1, city, state, zip_code, starts_at, closes_at, current_bid, minimum_bid, bid_increment,
	status, image_urls, external_auction_id, source_url, ai_description, fullness_rating,
	last_scraped_at, created_at, updated_at`

func scanAuction(row rowScanner) (*models.Auction, error) {
	var a models.Auction
	var images []byte
	var status string
	err := row.Scan(&a.ID, &a.ProviderID, &a.FacilityID, &a.UnitNumber, &a.UnitSize, &a.Description,
		&a.FacilityName, &a.AddressLine1, &a.City, &a.State, &a.ZipCode, &a.StartsAt, &a.ClosesAt,
		&a.CurrentBid, &a.MinimumBid, &a.BidIncrement, &status, &images, &a.ExternalAuctionID,
		&a.SourceURL, &a.AIDescription, &a.FullnessRating, &a.LastScrapedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AuctionStatus(status)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &a.ImageURLs); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func marshalImages(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	return json.Marshal(urls)
}

const imageColumns = `id, auction_id, original_url, s3_key, content_hash, status, attempts, created_at`

func scanImage(row rowScanner) (*models.AuctionImage, error) {
	var img models.AuctionImage
	var status string
	err := row.Scan(&img.ID, &img.AuctionID, &img.OriginalURL, &img.S3Key, &img.ContentHash,
		&status, &img.Attempts, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	img.Status = models.ImageStatus(status)
	return &img, nil
}

const scrapeLogColumns = `id, provider_id, started_at, completed_at, status, auctions_found, auctions_added, auctions_updated, error_message`

func scanScrapeLog(row rowScanner) (*models.ScrapeLog, error) {
	var l models.ScrapeLog
	err := row.Scan(&l.ID, &l.ProviderID, &l.StartedAt, &l.CompletedAt, &l.Status,
		&l.AuctionsFound, &l.AuctionsAdded, &l.AuctionsUpdated, &l.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
