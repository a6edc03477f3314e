package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeProvider CommandType = "scrape_provider"
	CmdScrapeDue      CommandType = "scrape_due"
	CmdPause          CommandType = "pause"
	CmdResume         CommandType = "resume"
	CmdRunMedia       CommandType = "run_media"
	CmdRunGeocode     CommandType = "run_geocode"
	CmdCloseExpired   CommandType = "close_expired"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ProviderID  string   `json:"provider_id,omitempty"`
	FullScrape  *bool    `json:"full_scrape,omitempty"`
	DryRun      bool     `json:"dry_run,omitempty"`
	ExternalIDs []string `json:"external_ids,omitempty"`
}

// ParseParams decodes the command's params; empty params decode to the zero value.
func (c *Command) ParseParams() (CommandParams, error) {
	var p CommandParams
	if len(c.Params) == 0 {
		return p, nil
	}
	err := json.Unmarshal(c.Params, &p)
	return p, err
}
