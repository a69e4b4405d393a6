package model

type SyncStatus string

const (
	SyncSuccess        SyncStatus = "success"
	SyncError          SyncStatus = "error"
	SyncCancelled      SyncStatus = "cancelled"
	SyncAlreadyRunning SyncStatus = "already_syncing"
)

// SyncResult summarizes one sync run against one source.
type SyncResult struct {
	SourceID      string     `json:"source_id"`
	Status        SyncStatus `json:"status"`
	ArticlesFound int        `json:"articles_found"`
	Errors        int        `json:"errors"`
	DurationMs    int64      `json:"duration_ms"`
	Message       string     `json:"message,omitempty"`
}
