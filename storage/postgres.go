package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"auction_scraper/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables and constraints if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return wrapErr("migrate", err)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// Providers
// =============================================================================

func (s *PostgresStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.SourceURL, p.ScraperType, p.ScrapeFrequencyHours, p.IsActive,
		p.LastScrapedAt, p.CreatedAt)
	return wrapErr("create provider", err)
}

func (s *PostgresStore) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, wrapErr("get provider", err)
}

func (s *PostgresStore) ListProviders(ctx context.Context, activeOnly bool) ([]models.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
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

func (s *PostgresStore) TouchProviderScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE providers SET last_scraped_at = $1 WHERE id = $2`, at, id)
	return wrapErr("touch provider", err)
}

// =============================================================================
// Facilities
// =============================================================================

func (s *PostgresStore) GetFacilityByKey(ctx context.Context, key models.FacilityKey) (*models.Facility, error) {
	f, err := scanFacility(s.pool.QueryRow(ctx, `
		SELECT `+facilityColumns+` FROM facilities
		WHERE provider_id = $1 AND facility_name = $2 AND city = $3 AND state = $4`,
		key.ProviderID, key.FacilityName, key.City, key.State))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return f, wrapErr("get facility", err)
}

func (s *PostgresStore) InsertFacility(ctx context.Context, f *models.Facility) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO facilities (`+facilityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.ProviderID, f.FacilityName, f.AddressLine1, f.City, f.State, f.ZipCode,
		f.Latitude, f.Longitude, f.CreatedAt)
	return wrapErr("insert facility", err)
}

func (s *PostgresStore) ListFacilities(ctx context.Context, providerID uuid.UUID) ([]models.Facility, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+facilityColumns+` FROM facilities WHERE provider_id = $1
		ORDER BY facility_name, city, state`, providerID)
	if err != nil {
		return nil, wrapErr("list facilities", err)
	}
	return collectPgFacilities(rows)
}

func (s *PostgresStore) ListFacilitiesMissingCoords(ctx context.Context, limit int) ([]models.Facility, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+facilityColumns+` FROM facilities
		WHERE latitude IS NULL OR longitude IS NULL
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr("list facilities missing coords", err)
	}
	return collectPgFacilities(rows)
}

func collectPgFacilities(rows pgx.Rows) ([]models.Facility, error) {
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

func (s *PostgresStore) UpdateFacilityCoords(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE facilities SET latitude = $1, longitude = $2 WHERE id = $3`, lat, lng, id)
	return wrapErr("update facility coords", err)
}

// =============================================================================
// Auctions
// =============================================================================

func (s *PostgresStore) GetAuctionByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*models.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE external_auction_id = $1 AND provider_id = $2`, externalID, providerID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, wrapErr("get auction", err)
}

func (s *PostgresStore) InsertAuction(ctx context.Context, a *models.Auction) error {
	images, err := marshalImages(a.ImageURLs)
	if err != nil {
		return wrapErr("insert auction", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25)`,
		a.ID, a.ProviderID, a.FacilityID, a.UnitNumber, a.UnitSize, a.Description, a.FacilityName,
		a.AddressLine1, a.City, a.State, a.ZipCode, a.StartsAt, a.ClosesAt,
		a.CurrentBid, a.MinimumBid, a.BidIncrement, string(a.Status), images,
		a.ExternalAuctionID, a.SourceURL, a.AIDescription, a.FullnessRating,
		a.LastScrapedAt, a.CreatedAt, a.UpdatedAt)
	return wrapErr("insert auction", err)
}

// UpdateAuction overwrites every scraped field. AI fields, starts_at and
// created_at are left alone.
func (s *PostgresStore) UpdateAuction(ctx context.Context, a *models.Auction) error {
	images, err := marshalImages(a.ImageURLs)
	if err != nil {
		return wrapErr("update auction", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE auctions SET
			facility_id = $1, unit_number = $2, unit_size = $3, description = $4, facility_name = $5,
			address_line1 = $6, city = $7, state = $8, zip_code = $9, closes_at = $10,
			current_bid = $11, minimum_bid = $12, status = $13, image_urls = $14, source_url = $15,
			last_scraped_at = $16, updated_at = $17
		WHERE id = $18`,
		a.FacilityID, a.UnitNumber, a.UnitSize, a.Description, a.FacilityName,
		a.AddressLine1, a.City, a.State, a.ZipCode, a.ClosesAt,
		a.CurrentBid, a.MinimumBid, string(a.Status), images, a.SourceURL,
		a.LastScrapedAt, a.UpdatedAt, a.ID)
	return wrapErr("update auction", err)
}

func (s *PostgresStore) ListAuctions(ctx context.Context, providerID uuid.UUID) ([]models.Auction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions WHERE provider_id = $1
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

func (s *PostgresStore) ActiveExternalIDs(ctx context.Context, providerID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_auction_id FROM auctions
		WHERE provider_id = $1 AND status = 'active'`, providerID)
	if err != nil {
		return nil, wrapErr("active external ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrapErr("active external ids", err)
}

func (s *PostgresStore) CloseExpiredAuctions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auctions SET status = 'closed', updated_at = $1
		WHERE status = 'active' AND closes_at < $1`, now)
	if err != nil {
		return 0, wrapErr("close expired auctions", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Auction images
// =============================================================================

func (s *PostgresStore) EnqueueAuctionImages(ctx context.Context, auctionID uuid.UUID, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range urls {
		batch.Queue(`
			INSERT INTO auction_images (auction_id, original_url, status, attempts)
			VALUES ($1, $2, 'pending', 0)
			ON CONFLICT (auction_id, original_url) DO NOTHING`, auctionID, u)
	}
	return wrapErr("enqueue auction images", s.pool.SendBatch(ctx, batch).Close())
}

func (s *PostgresStore) GetPendingImages(ctx context.Context, limit int) ([]models.AuctionImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+imageColumns+` FROM auction_images
		WHERE status = 'pending' ORDER BY id LIMIT $1`, limit)
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

func (s *PostgresStore) UpdateImageStatus(ctx context.Context, id int64, status models.ImageStatus, s3Key, contentHash *string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE auction_images SET status = $1, s3_key = COALESCE($2, s3_key),
			content_hash = COALESCE($3, content_hash), attempts = $4
		WHERE id = $5`, string(status), s3Key, contentHash, attempts, id)
	return wrapErr("update image status", err)
}

// =============================================================================
// Scrape logs
// =============================================================================

func (s *PostgresStore) AppendScrapeLog(ctx context.Context, l *models.ScrapeLog) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scrape_logs (provider_id, started_at, completed_at, status,
			auctions_found, auctions_added, auctions_updated, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		l.ProviderID, l.StartedAt, l.CompletedAt, l.Status,
		l.AuctionsFound, l.AuctionsAdded, l.AuctionsUpdated, l.ErrorMessage,
	).Scan(&l.ID)
	return wrapErr("append scrape log", err)
}

func (s *PostgresStore) ListScrapeLogs(ctx context.Context, providerID uuid.UUID, limit int) ([]models.ScrapeLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scrapeLogColumns+` FROM scrape_logs WHERE provider_id = $1
		ORDER BY id DESC LIMIT $2`, providerID, limit)
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

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO scrape_commands (command, params) VALUES ($1, $2)`, string(cmd), data)
	return wrapErr("enqueue command", err)
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, command, params, created_at FROM scrape_commands
		WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, wrapErr("pending commands", err)
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var command string
		var params []byte
		if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt); err != nil {
			return nil, wrapErr("pending commands", err)
		}
		cmd.Command = models.CommandType(command)
		cmd.Params = params
		cmds = append(cmds, cmd)
	}
	return cmds, wrapErr("pending commands", rows.Err())
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE scrape_commands SET processed_at = NOW() WHERE id = $1`, id)
	return wrapErr("mark command processed", err)
}
