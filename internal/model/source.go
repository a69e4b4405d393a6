package model

import "time"

type Platform string

const (
	PlatformGeneric   Platform = "generic"
	PlatformZendesk   Platform = "zendesk"
	PlatformIntercom  Platform = "intercom"
	PlatformHelpScout Platform = "helpscout"
)

type SourceStatus string

const (
	SourceIdle      SourceStatus = "idle"
	SourceSyncing   SourceStatus = "syncing"
	SourceSuccess   SourceStatus = "success"
	SourceError     SourceStatus = "error"
	SourceCancelled SourceStatus = "cancelled"
)

// DataSource describes one external knowledge base and its sync health.
// Status transitions happen only through the registry's BeginSync/CompleteSync.
type DataSource struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Platform      Platform     `json:"platform"`
	BaseURL       string       `json:"base_url"`
	Enabled       bool         `json:"enabled"`
	Status        SourceStatus `json:"status"`
	LastSyncAt    *time.Time   `json:"last_sync_at,omitempty"`
	SyncCount     int64        `json:"sync_count"`
	ErrorCount    int64        `json:"error_count"`
	ArticlesCount int64        `json:"articles_count"`
}
