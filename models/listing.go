package models

import "time"

// ParsedListing is the normalized record the parser hands downstream.
// Required fields are guaranteed non-empty; optional ones are empty strings.
type ParsedListing struct {
	ExternalAuctionID string    `json:"external_auction_id"`
	UnitNumber        string    `json:"unit_number"`
	UnitSize          string    `json:"unit_size"`
	Description       string    `json:"description"`
	FacilityName      string    `json:"facility_name"`
	AddressLine1      string    `json:"address_line1"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	ZipCode           string    `json:"zip_code"`
	ClosesAt          time.Time `json:"closes_at"`
	CurrentBid        float64   `json:"current_bid"`
	SourceURL         string    `json:"source_url"`
	ImageURLs         []string  `json:"image_urls"`
}
