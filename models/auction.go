package models

import (
	"time"

	"github.com/google/uuid"
)

type AuctionStatus string

const (
	AuctionStatusActive AuctionStatus = "active"
	AuctionStatusClosed AuctionStatus = "closed"
)

const DefaultBidIncrement = 25.00

type Auction struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	ProviderID        uuid.UUID     `json:"provider_id" db:"provider_id"`
	FacilityID        uuid.NullUUID `json:"facility_id" db:"facility_id"`
	UnitNumber        string        `json:"unit_number" db:"unit_number"`
	UnitSize          *string       `json:"unit_size" db:"unit_size"`
	Description       *string       `json:"description" db:"description"`
	FacilityName      string        `json:"facility_name" db:"facility_name"`
	AddressLine1      *string       `json:"address_line1" db:"address_line1"`
	City              string        `json:"city" db:"city"`
	State             string        `json:"state" db:"state"`
	ZipCode           *string       `json:"zip_code" db:"zip_code"`
	StartsAt          time.Time     `json:"starts_at" db:"starts_at"`
	ClosesAt          time.Time     `json:"closes_at" db:"closes_at"`
	CurrentBid        float64       `json:"current_bid" db:"current_bid"`
	MinimumBid        float64       `json:"minimum_bid" db:"minimum_bid"`
	BidIncrement      float64       `json:"bid_increment" db:"bid_increment"`
	Status            AuctionStatus `json:"status" db:"status"`
	ImageURLs         []string      `json:"image_urls" db:"image_urls"`
	ExternalAuctionID string        `json:"external_auction_id" db:"external_auction_id"`
	SourceURL         string        `json:"source_url" db:"source_url"`
	AIDescription     *string       `json:"ai_description,omitempty" db:"ai_description"`
	FullnessRating    *int          `json:"fullness_rating,omitempty" db:"fullness_rating"`
	LastScrapedAt     time.Time     `json:"last_scraped_at" db:"last_scraped_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// StatusAt derives the auction status from its closing time.
func StatusAt(closesAt, now time.Time) AuctionStatus {
	if !closesAt.IsZero() && closesAt.Before(now) {
		return AuctionStatusClosed
	}
	return AuctionStatusActive
}

type ImageStatus string

const (
	ImageStatusPending  ImageStatus = "pending"
	ImageStatusUploaded ImageStatus = "uploaded"
	ImageStatusFailed   ImageStatus = "failed"
)

type AuctionImage struct {
	ID          int64       `json:"id" db:"id"`
	AuctionID   uuid.UUID   `json:"auction_id" db:"auction_id"`
	OriginalURL string      `json:"original_url" db:"original_url"`
	S3Key       *string     `json:"s3_key" db:"s3_key"`
	ContentHash *string     `json:"content_hash" db:"content_hash"`
	Status      ImageStatus `json:"status" db:"status"`
	Attempts    int         `json:"attempts" db:"attempts"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
