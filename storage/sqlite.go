package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"auction_scraper/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore runs the pipeline standalone against a local database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_url TEXT NOT NULL,
		scraper_type TEXT NOT NULL,
		scrape_frequency_hours INTEGER NOT NULL DEFAULT 24,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_scraped_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS facilities (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
		facility_name TEXT NOT NULL,
		address_line1 TEXT,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		zip_code TEXT,
		latitude REAL,
		longitude REAL,
		created_at DATETIME NOT NULL,
		UNIQUE(provider_id, facility_name, city, state)
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
		facility_id TEXT REFERENCES facilities(id) ON DELETE SET NULL,
		unit_number TEXT NOT NULL,
		unit_size TEXT,
		description TEXT,
		facility_name TEXT NOT NULL,
		address_line1 TEXT,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		zip_code TEXT,
		starts_at DATETIME NOT NULL,
		closes_at DATETIME NOT NULL,
		current_bid REAL NOT NULL DEFAULT 0,
		minimum_bid REAL NOT NULL DEFAULT 0,
		bid_increment REAL NOT NULL DEFAULT 25.00,
		status TEXT NOT NULL DEFAULT 'active',
		image_urls TEXT NOT NULL DEFAULT '[]',
		external_auction_id TEXT NOT NULL,
		source_url TEXT NOT NULL,
		ai_description TEXT,
		fullness_rating INTEGER,
		last_scraped_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(external_auction_id, provider_id)
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_status_closes ON auctions(status, closes_at);

	CREATE TABLE IF NOT EXISTS auction_images (
		id INTEGER PRIMARY KEY,
		auction_id TEXT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		original_url TEXT NOT NULL,
		s3_key TEXT,
		content_hash TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(auction_id, original_url)
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		auctions_found INTEGER NOT NULL DEFAULT 0,
		auctions_added INTEGER NOT NULL DEFAULT 0,
		auctions_updated INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Providers
// =============================================================================

func (s *SQLiteStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SourceURL, p.ScraperType, p.ScrapeFrequencyHours, p.IsActive,
		p.LastScrapedAt, p.CreatedAt)
	return wrapErr("create provider", err)
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, wrapErr("get provider", err)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, activeOnly bool) ([]models.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list providers", err)
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, wrapErr("list providers", err)
		}
		providers = append(providers, *p)
	}
	return providers, wrapErr("list providers", rows.Err())
}

func (s *SQLiteStore) TouchProviderScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE providers SET last_scraped_at = ? WHERE id = ?`, at.UTC(), id)
	return wrapErr("touch provider", err)
}

// =============================================================================
// Facilities
// =============================================================================

func (s *SQLiteStore) GetFacilityByKey(ctx context.Context, key models.FacilityKey) (*models.Facility, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+facilityColumns+` FROM facilities
		WHERE provider_id = ? AND facility_name = ? AND city = ? AND state = ?`,
		key.ProviderID, key.FacilityName, key.City, key.State)
	f, err := scanFacility(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, wrapErr("get facility", err)
}

func (s *SQLiteStore) InsertFacility(ctx context.Context, f *models.Facility) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facilities (`+facilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProviderID, f.FacilityName, f.AddressLine1, f.City, f.State, f.ZipCode,
		f.Latitude, f.Longitude, f.CreatedAt.UTC())
	return wrapErr("insert facility", err)
}

func (s *SQLiteStore) ListFacilities(ctx context.Context, providerID uuid.UUID) ([]models.Facility, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+facilityColumns+` FROM facilities WHERE provider_id = ?
		ORDER BY facility_name, city, state`, providerID)
	if err != nil {
		return nil, wrapErr("list facilities", err)
	}
	return collectFacilities(rows)
}

func (s *SQLiteStore) ListFacilitiesMissingCoords(ctx context.Context, limit int) ([]models.Facility, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+facilityColumns+` FROM facilities
		WHERE latitude IS NULL OR longitude IS NULL
		ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("list facilities missing coords", err)
	}
	return collectFacilities(rows)
}

func collectFacilities(rows *sql.Rows) ([]models.Facility, error) {
	defer rows.Close()
	var facilities []models.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, wrapErr("scan facility", err)
		}
		facilities = append(facilities, *f)
	}
	return facilities, wrapErr("scan facility", rows.Err())
}

func (s *SQLiteStore) UpdateFacilityCoords(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE facilities SET latitude = ?, longitude = ? WHERE id = ?`, lat, lng, id)
	return wrapErr("update facility coords", err)
}

// =============================================================================
// Auctions
// =============================================================================

func (s *SQLiteStore) GetAuctionByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*models.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE external_auction_id = ? AND provider_id = ?`, externalID, providerID)
	a, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, wrapErr("get auction", err)
}

func (s *SQLiteStore) InsertAuction(ctx context.Context, a *models.Auction) error {
	images, err := marshalImages(a.ImageURLs)
	if err != nil {
		return wrapErr("insert auction", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProviderID, a.FacilityID, a.UnitNumber, a.UnitSize, a.Description, a.FacilityName,
		a.AddressLine1, a.City, a.State, a.ZipCode, a.StartsAt.UTC(), a.ClosesAt.UTC(),
		a.CurrentBid, a.MinimumBid, a.BidIncrement, string(a.Status), string(images),
		a.ExternalAuctionID, a.SourceURL, a.AIDescription, a.FullnessRating,
		a.LastScrapedAt.UTC(), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return wrapErr("insert auction", err)
}

// UpdateAuction overwrites every scraped field. AI fields, starts_at and
// created_at are left alone.
func (s *SQLiteStore) UpdateAuction(ctx context.Context, a *models.Auction) error {
	images, err := marshalImages(a.ImageURLs)
	if err != nil {
		return wrapErr("update auction", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE auctions SET
			facility_id = ?, unit_number = ?, unit_size = ?, description = ?, facility_name = ?,
			address_line1 = ?, city = ?, state = ?, zip_code = ?, closes_at = ?,
			current_bid = ?, minimum_bid = ?, status = ?, image_urls = ?, source_url = ?,
			last_scraped_at = ?, updated_at = ?
		WHERE id = ?`,
		a.FacilityID, a.UnitNumber, a.UnitSize, a.Description, a.FacilityName,
		a.AddressLine1, a.City, a.State, a.ZipCode, a.ClosesAt.UTC(),
		a.CurrentBid, a.MinimumBid, string(a.Status), string(images), a.SourceURL,
		a.LastScrapedAt.UTC(), a.UpdatedAt.UTC(), a.ID)
	return wrapErr("update auction", err)
}

func (s *SQLiteStore) ListAuctions(ctx context.Context, providerID uuid.UUID) ([]models.Auction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auctionColumns+` FROM auctions WHERE provider_id = ?
		ORDER BY closes_at, external_auction_id`, providerID)
	if err != nil {
		return nil, wrapErr("list auctions", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, wrapErr("list auctions", err)
		}
		auctions = append(auctions, *a)
	}
	return auctions, wrapErr("list auctions", rows.Err())
}

func (s *SQLiteStore) ActiveExternalIDs(ctx context.Context, providerID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_auction_id FROM auctions
		WHERE provider_id = ? AND status = 'active'`, providerID)
	if err != nil {
		return nil, wrapErr("active external ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("active external ids", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("active external ids", rows.Err())
}

func (s *SQLiteStore) CloseExpiredAuctions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET status = 'closed', updated_at = ?
		WHERE status = 'active' AND closes_at < ?`, now.UTC(), now.UTC())
	if err != nil {
		return 0, wrapErr("close expired auctions", err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr("close expired auctions", err)
}

// =============================================================================
// Auction images
// =============================================================================

func (s *SQLiteStore) EnqueueAuctionImages(ctx context.Context, auctionID uuid.UUID, urls []string) error {
	for _, u := range urls {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO auction_images (auction_id, original_url, status, attempts, created_at)
			VALUES (?, ?, 'pending', 0, ?)
			ON CONFLICT (auction_id, original_url) DO NOTHING`,
			auctionID, u, time.Now().UTC())
		if err != nil {
			return wrapErr("enqueue auction image", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetPendingImages(ctx context.Context, limit int) ([]models.AuctionImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+` FROM auction_images
		WHERE status = 'pending' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("pending images", err)
	}
	defer rows.Close()

	var images []models.AuctionImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, wrapErr("pending images", err)
		}
		images = append(images, *img)
	}
	return images, wrapErr("pending images", rows.Err())
}

func (s *SQLiteStore) UpdateImageStatus(ctx context.Context, id int64, status models.ImageStatus, s3Key, contentHash *string, attempts int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auction_images SET status = ?, s3_key = COALESCE(?, s3_key),
			content_hash = COALESCE(?, content_hash), attempts = ?
		WHERE id = ?`, string(status), s3Key, contentHash, attempts, id)
	return wrapErr("update image status", err)
}

// =============================================================================
// Scrape logs
// =============================================================================

func (s *SQLiteStore) AppendScrapeLog(ctx context.Context, l *models.ScrapeLog) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (provider_id, started_at, completed_at, status,
			auctions_found, auctions_added, auctions_updated, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ProviderID, l.StartedAt.UTC(), l.CompletedAt.UTC(), l.Status,
		l.AuctionsFound, l.AuctionsAdded, l.AuctionsUpdated, l.ErrorMessage)
	if err != nil {
		return wrapErr("append scrape log", err)
	}
	l.ID, err = res.LastInsertId()
	return wrapErr("append scrape log", err)
}

func (s *SQLiteStore) ListScrapeLogs(ctx context.Context, providerID uuid.UUID, limit int) ([]models.ScrapeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scrapeLogColumns+` FROM scrape_logs WHERE provider_id = ?
		ORDER BY id DESC LIMIT ?`, providerID, limit)
	if err != nil {
		return nil, wrapErr("list scrape logs", err)
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		l, err := scanScrapeLog(rows)
		if err != nil {
			return nil, wrapErr("list scrape logs", err)
		}
		logs = append(logs, *l)
	}
	return logs, wrapErr("list scrape logs", rows.Err())
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO commands (command, params) VALUES (?, ?)`, string(cmd), string(data))
	return wrapErr("enqueue command", err)
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at FROM commands
		WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, wrapErr("pending commands", err)
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt); err != nil {
			return nil, wrapErr("pending commands", err)
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, wrapErr("pending commands", rows.Err())
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return wrapErr("mark command processed", err)
}
