package capsule

// ExportSchemaVersion is written to the header line of every export.
const ExportSchemaVersion = "1.0"

// ExportHeader is the first line of a capsule JSONL export.
// Each following line is one Item.
type ExportHeader struct {
	// Header detection field
	TcapExport bool `json:"_tcap_export"`

	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`

	Capsule    CapsuleSummary    `json:"capsule"`
	Analytics  *Analytics        `json:"analytics,omitempty"`
	Categories []Category        `json:"categories"`
	Tags       []Tag             `json:"tags"`
	Settings   map[string]string `json:"settings,omitempty"`
}

// NewExportHeader builds the header line for c.
func NewExportHeader(c *Capsule, exportedAt int64) *ExportHeader {
	return &ExportHeader{
		TcapExport:    true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
		Capsule:       c.ToSummary(),
		Analytics:     c.Analytics,
		Categories:    nonNilCategories(c.Categories),
		Tags:          nonNilTags(c.Tags),
		Settings:      c.Settings,
	}
}
