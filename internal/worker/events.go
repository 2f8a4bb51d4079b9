package worker

// DownloadedPayload is what the download connector publishes after it has
// fetched a disclosure file to shared storage.
type DownloadedPayload struct {
	FilePath       string `json:"file_path"`
	Checksum       string `json:"checksum"`
	CollectionCode string `json:"collection_code"`
	IssuerCode     string `json:"issuer_code"`
	Name           string `json:"name"`
	PublishAt      string `json:"publish_at,omitempty"` // RFC3339
	SourceURL      string `json:"source_url,omitempty"`

	CorrelationID string `json:"correlation_id"`
}
