package models

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the orchestrator's position in a single provider scrape.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateFetching  RunState = "fetching"
	RunStateParsing   RunState = "parsing"
	RunStateWriting   RunState = "writing"
	RunStateCompleted RunState = "completed"
	RunStatePartial   RunState = "partial"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStatePartial || s == RunStateFailed
}

// LogStatus maps a terminal run state onto the scrape_logs status column.
func (s RunState) LogStatus() string {
	switch s {
	case RunStateCompleted:
		return "success"
	case RunStatePartial:
		return "partial"
	default:
		return "failed"
	}
}

type UpsertAction string

const (
	ActionInserted UpsertAction = "INSERTED"
	ActionUpdated  UpsertAction = "UPDATED"
)

type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

type RunError struct {
	ExternalAuctionID string `json:"external_auction_id,omitempty"`
	Stage             string `json:"stage"`
	Kind              string `json:"kind"`
	Message           string `json:"message"`
}

// AuctionPreview is one listing as the run saw it, with the decision taken for it.
type AuctionPreview struct {
	ParsedListing
	Action     UpsertAction  `json:"action"`
	AuctionID  uuid.UUID     `json:"auction_id"`
	FacilityID uuid.UUID     `json:"facility_id"`
	Changes    []FieldChange `json:"changes"`
}

type ScrapeSummary struct {
	ProviderID      uuid.UUID        `json:"provider_id"`
	Status          RunState         `json:"status"`
	DryRun          bool             `json:"dry_run"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	AuctionsFound   int              `json:"auctions_found"`
	AuctionsAdded   int              `json:"auctions_added"`
	AuctionsUpdated int              `json:"auctions_updated"`
	Errors          []RunError       `json:"errors"`
	Auctions        []AuctionPreview `json:"auctions,omitzero"`
}
