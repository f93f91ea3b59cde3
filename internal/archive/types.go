package archive

import "time"

// ManifestEntry is one JSONL line in the monthly archive manifest.
type ManifestEntry struct {
	Key         string    `json:"key"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	ArchivedAt  time.Time `json:"archived_at"`
}
