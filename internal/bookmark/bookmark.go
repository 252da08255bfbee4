// Package bookmark defines the live collection model: mutable bookmark
// records plus the categories, tags, and settings they reference.
package bookmark

import "sort"

// Record is a live bookmark owned by a single owner.
type Record struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Favicon     string   `json:"favicon,omitempty"`
	CategoryIDs []string `json:"category_ids"`
	TagIDs      []string `json:"tag_ids"`
	Favorite    bool     `json:"favorite"`
	VisitCount  int      `json:"visit_count"`

	// CreatedAt and UpdatedAt are Unix timestamps.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Category groups records. Records reference categories by id.
type Category struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

// Tag labels records. Records reference tags by id.
type Tag struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

// Collection is everything an owner has in the live store at one instant.
type Collection struct {
	Records    []Record          `json:"records"`
	Categories []Category        `json:"categories"`
	Tags       []Tag             `json:"tags"`
	Settings   map[string]string `json:"settings"`
}

// SortedIDs returns a sorted, de-duplicated copy of ids. Never nil.
func SortedIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of r whose slices do not alias r's.
func (r Record) Clone() Record {
	out := r
	out.CategoryIDs = append([]string{}, r.CategoryIDs...)
	out.TagIDs = append([]string{}, r.TagIDs...)
	return out
}
