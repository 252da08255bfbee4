package capsule

import (
	"fmt"
)

// Trigger records why a capsule was taken.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// ParseTrigger parses a trigger name. Empty input defaults to manual.
func ParseTrigger(s string) (Trigger, error) {
	switch Normalize(s) {
	case "", "manual":
		return TriggerManual, nil
	case "scheduled":
		return TriggerScheduled, nil
	default:
		return "", fmt.Errorf("trigger must be one of: manual, scheduled (got %q)", s)
	}
}

// Capsule is an immutable point-in-time copy of an owner's collection.
// Once saved, neither the capsule nor its items are ever updated in place.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string

	// OwnerID is the owner whose collection was captured
	OwnerID string

	Title       string
	Description string

	// CreatedAt is the Unix timestamp of the capture
	CreatedAt int64

	Trigger Trigger

	// Inclusion flags chosen at capture time
	IncludeSettings  bool
	IncludeAnalytics bool

	// ContentHash is the sha256 hex digest of the canonical encoding (see Hash)
	ContentHash string

	Stats Stats

	// Analytics is nil unless IncludeAnalytics was set
	Analytics *Analytics

	// Items are sorted by ID
	Items []Item

	// Categories and Tags are sorted by ID
	Categories []Category
	Tags       []Tag

	// Settings is nil unless IncludeSettings was set
	Settings map[string]string
}

// Item is a frozen copy of one bookmark record, keyed by the original record id.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Favicon     string   `json:"favicon"`
	CategoryIDs []string `json:"category_ids"`
	TagIDs      []string `json:"tag_ids"`
	Favorite    bool     `json:"favorite"`
	VisitCount  int      `json:"visit_count"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Category is a frozen category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tag is a frozen tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Stats are aggregate counts computed at capture time.
type Stats struct {
	ItemCount     int `json:"item_count"`
	CategoryCount int `json:"category_count"`
	TagCount      int `json:"tag_count"`
	FavoriteCount int `json:"favorite_count"`

	// ByteSize is the length of the canonical encoding in bytes
	ByteSize int `json:"byte_size"`
}

// Analytics summarizes visit activity at capture time.
type Analytics struct {
	TotalVisits   int          `json:"total_visits"`
	FavoriteCount int          `json:"favorite_count"`
	TopVisited    []VisitEntry `json:"top_visited"`
}

// VisitEntry is one row of Analytics.TopVisited.
type VisitEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Visits int    `json:"visits"`
}

// TopVisitedLimit caps Analytics.TopVisited.
const TopVisitedLimit = 5
