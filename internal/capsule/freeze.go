package capsule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/hpungsan/tcap/internal/bookmark"
)

// FreezeOptions selects what Freeze copies besides records.
type FreezeOptions struct {
	IncludeSettings  bool
	IncludeAnalytics bool
}

// Freeze builds the content of a capsule from a live collection.
// Every item is constructed field by field with fresh slices, so nothing in
// the result aliases the collection. The returned capsule has no ID, owner,
// title, trigger, or timestamp; the caller fills those in.
func Freeze(col bookmark.Collection, opts FreezeOptions) (*Capsule, error) {
	items := make([]Item, 0, len(col.Records))
	for _, r := range col.Records {
		items = append(items, FreezeRecord(r))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	categories := make([]Category, 0, len(col.Categories))
	for _, c := range col.Categories {
		categories = append(categories, Category{ID: c.ID, Name: c.Name})
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })

	tags := make([]Tag, 0, len(col.Tags))
	for _, t := range col.Tags {
		tags = append(tags, Tag{ID: t.ID, Name: t.Name})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })

	c := &Capsule{
		IncludeSettings:  opts.IncludeSettings,
		IncludeAnalytics: opts.IncludeAnalytics,
		Items:            items,
		Categories:       categories,
		Tags:             tags,
	}
	if opts.IncludeSettings {
		c.Settings = CopySettings(col.Settings)
	}

	encoded, err := canonicalEncoding(items, categories, tags)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(encoded)
	c.ContentHash = hex.EncodeToString(sum[:])

	c.Stats = Stats{
		ItemCount:     len(items),
		CategoryCount: len(categories),
		TagCount:      len(tags),
		FavoriteCount: countFavorites(items),
		ByteSize:      len(encoded),
	}
	if opts.IncludeAnalytics {
		c.Analytics = ComputeAnalytics(items)
	}
	return c, nil
}

// FreezeRecord copies one live record into a frozen item.
func FreezeRecord(r bookmark.Record) Item {
	return Item{
		ID:          r.ID,
		Title:       r.Title,
		URL:         r.URL,
		Description: r.Description,
		Favicon:     r.Favicon,
		CategoryIDs: bookmark.SortedIDs(r.CategoryIDs),
		TagIDs:      bookmark.SortedIDs(r.TagIDs),
		Favorite:    r.Favorite,
		VisitCount:  r.VisitCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Hash recomputes the content hash of already-frozen content.
// Input order does not matter.
func Hash(items []Item, categories []Category, tags []Tag) (string, error) {
	is := append([]Item(nil), items...)
	for i := range is {
		is[i].CategoryIDs = bookmark.SortedIDs(is[i].CategoryIDs)
		is[i].TagIDs = bookmark.SortedIDs(is[i].TagIDs)
	}
	sort.Slice(is, func(i, j int) bool { return is[i].ID < is[j].ID })
	cs := append([]Category(nil), categories...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	ts := append([]Tag(nil), tags...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })

	encoded, err := canonicalEncoding(is, cs, ts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalEncoding expects sorted input. Struct field order makes the JSON deterministic.
func canonicalEncoding(items []Item, categories []Category, tags []Tag) ([]byte, error) {
	return json.Marshal(struct {
		Items      []Item     `json:"items"`
		Categories []Category `json:"categories"`
		Tags       []Tag      `json:"tags"`
	}{
		Items:      nonNilItems(items),
		Categories: nonNilCategories(categories),
		Tags:       nonNilTags(tags),
	})
}

// ComputeAnalytics derives visit analytics from frozen items.
func ComputeAnalytics(items []Item) *Analytics {
	a := &Analytics{TopVisited: []VisitEntry{}}
	for _, it := range items {
		a.TotalVisits += it.VisitCount
		if it.Favorite {
			a.FavoriteCount++
		}
		if it.VisitCount > 0 {
			a.TopVisited = append(a.TopVisited, VisitEntry{ID: it.ID, Title: it.Title, Visits: it.VisitCount})
		}
	}
	sort.Slice(a.TopVisited, func(i, j int) bool {
		x, y := a.TopVisited[i], a.TopVisited[j]
		if x.Visits != y.Visits {
			return x.Visits > y.Visits
		}
		if x.Title != y.Title {
			return x.Title < y.Title
		}
		return x.ID < y.ID
	})
	if len(a.TopVisited) > TopVisitedLimit {
		a.TopVisited = a.TopVisited[:TopVisitedLimit]
	}
	return a
}

// Thaw re-materializes frozen content as live values for ownerID.
// Items keep their ids. Returned slices never alias the capsule.
func (c *Capsule) Thaw(ownerID string) bookmark.Collection {
	col := bookmark.Collection{
		Records:    make([]bookmark.Record, 0, len(c.Items)),
		Categories: make([]bookmark.Category, 0, len(c.Categories)),
		Tags:       make([]bookmark.Tag, 0, len(c.Tags)),
		Settings:   CopySettings(c.Settings),
	}
	for _, it := range c.Items {
		col.Records = append(col.Records, it.Record(ownerID))
	}
	for _, cat := range c.Categories {
		col.Categories = append(col.Categories, bookmark.Category{ID: cat.ID, OwnerID: ownerID, Name: cat.Name})
	}
	for _, t := range c.Tags {
		col.Tags = append(col.Tags, bookmark.Tag{ID: t.ID, OwnerID: ownerID, Name: t.Name})
	}
	return col
}

// Record converts a frozen item back into a live record.
func (it Item) Record(ownerID string) bookmark.Record {
	return bookmark.Record{
		ID:          it.ID,
		OwnerID:     ownerID,
		Title:       it.Title,
		URL:         it.URL,
		Description: it.Description,
		Favicon:     it.Favicon,
		CategoryIDs: append([]string{}, it.CategoryIDs...),
		TagIDs:      append([]string{}, it.TagIDs...),
		Favorite:    it.Favorite,
		VisitCount:  it.VisitCount,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

// CopySettings returns an independent copy of m. Never nil.
func CopySettings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func countFavorites(items []Item) int {
	n := 0
	for _, it := range items {
		if it.Favorite {
			n++
		}
	}
	return n
}

func nonNilItems(s []Item) []Item {
	if s == nil {
		return []Item{}
	}
	return s
}

func nonNilCategories(s []Category) []Category {
	if s == nil {
		return []Category{}
	}
	return s
}

func nonNilTags(s []Tag) []Tag {
	if s == nil {
		return []Tag{}
	}
	return s
}
