package dto

// PreviewRequest persists the user-chosen column mapping before validation.
type PreviewRequest struct {
	ColumnMapping map[string]string `json:"column_mapping"`
}

// PerformRequest starts the asynchronous import run.
type PerformRequest struct {
	UpdateExisting   bool     `json:"update_existing"`
	OverrideExisting bool     `json:"override_existing"`
	DefaultConsent   string   `json:"default_consent,omitempty"`
	DefaultTags      []string `json:"default_tags,omitempty"`
	DefaultSource    string   `json:"default_source,omitempty"`
}

// MappingResponse returns the detected CSV headers together with a
// best-effort column suggestion.
type MappingResponse struct {
	Headers          []string          `json:"headers"`
	SuggestedMapping map[string]string `json:"suggested_mapping"`
	AvailableFields  []string          `json:"available_fields"`
}

// ImportStatusResponse mirrors the live batch counters for progress polling.
type ImportStatusResponse struct {
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	TotalRows     int     `json:"total_rows"`
	ImportedCount int     `json:"imported_count"`
	UpdatedCount  int     `json:"updated_count"`
	SkippedCount  int     `json:"skipped_count"`
	ErrorCount    int     `json:"error_count"`
	Completed     bool    `json:"completed"`
	Duration      *string `json:"duration"`
}
