package models

import (
	"time"

	"github.com/google/uuid"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ScrapeLog is the append-only record of one non-dry-run orchestrator run.
type ScrapeLog struct {
	ID              int64     `json:"id" db:"id"`
	ProviderID      uuid.UUID `json:"provider_id" db:"provider_id"`
	StartedAt       time.Time `json:"started_at" db:"started_at"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
	Status          string    `json:"status" db:"status"`
	AuctionsFound   int       `json:"auctions_found" db:"auctions_found"`
	AuctionsAdded   int       `json:"auctions_added" db:"auctions_added"`
	AuctionsUpdated int       `json:"auctions_updated" db:"auctions_updated"`
	ErrorMessage    *string   `json:"error_message,omitempty" db:"error_message"`
}
