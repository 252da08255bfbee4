package capsule

// CapsuleSummary represents a capsule's metadata without its frozen content.
// Used for browse operations (list, latest) to reduce data transfer.
type CapsuleSummary struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string `json:"id"`

	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// CreatedAt is the Unix timestamp of the capture
	CreatedAt int64 `json:"created_at"`

	Trigger          Trigger `json:"trigger"`
	IncludeSettings  bool    `json:"include_settings"`
	IncludeAnalytics bool    `json:"include_analytics"`
	ContentHash      string  `json:"content_hash"`
	Stats            Stats   `json:"stats"`
}

// ToSummary converts a Capsule to a CapsuleSummary by stripping frozen content.
func (c *Capsule) ToSummary() CapsuleSummary {
	return CapsuleSummary{
		ID:               c.ID,
		OwnerID:          c.OwnerID,
		Title:            c.Title,
		Description:      c.Description,
		CreatedAt:        c.CreatedAt,
		Trigger:          c.Trigger,
		IncludeSettings:  c.IncludeSettings,
		IncludeAnalytics: c.IncludeAnalytics,
		ContentHash:      c.ContentHash,
		Stats:            c.Stats,
	}
}

// Detail is the full JSON view of a capsule returned by get operations.
type Detail struct {
	CapsuleSummary
	Analytics  *Analytics        `json:"analytics,omitempty"`
	Items      []Item            `json:"items"`
	Categories []Category        `json:"categories"`
	Tags       []Tag             `json:"tags"`
	Settings   map[string]string `json:"settings,omitempty"`
}

// ToDetail converts a Capsule to its full JSON view. Slices are never nil.
func (c *Capsule) ToDetail() Detail {
	return Detail{
		CapsuleSummary: c.ToSummary(),
		Analytics:      c.Analytics,
		Items:          nonNilItems(c.Items),
		Categories:     nonNilCategories(c.Categories),
		Tags:           nonNilTags(c.Tags),
		Settings:       c.Settings,
	}
}
