package ops

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// Compared item fields, in comparison order.
const (
	FieldTitle       = "title"
	FieldURL         = "url"
	FieldDescription = "description"
	FieldCategoryIDs = "category_ids"
	FieldTagIDs      = "tag_ids"
	FieldFavorite    = "favorite"
	FieldVisitCount  = "visit_count"
)

// DiffInput contains parameters for the Diff operation.
type DiffInput struct {
	CapsuleAID string `json:"capsule_a_id" validate:"required"`
	CapsuleBID string `json:"capsule_b_id" validate:"required"`
}

// FieldChange is one differing field of an item present in both capsules.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// ModifiedItem is an item present in both capsules with at least one change.
type ModifiedItem struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Changes []FieldChange `json:"changes"`

	// Set only when visit_count changed
	VisitDelta     int     `json:"visit_delta,omitempty"`
	VisitGrowthPct float64 `json:"visit_growth_pct,omitempty"`
}

// EntityRef identifies a category or tag.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Rename is a category or tag whose id persisted with a new name.
type Rename struct {
	ID      string `json:"id"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// EntityDiff compares one id space (categories or tags).
type EntityDiff struct {
	Added   []EntityRef `json:"added"`
	Removed []EntityRef `json:"removed"`
	Renamed []Rename    `json:"renamed"`
}

// SettingChange is one differing setting. Nil means the key was absent.
type SettingChange struct {
	Key string  `json:"key"`
	Old *string `json:"old"`
	New *string `json:"new"`
}

// DiffStats are aggregate counts over a diff.
type DiffStats struct {
	ItemsA         int     `json:"items_a"`
	ItemsB         int     `json:"items_b"`
	Added          int     `json:"added"`
	Removed        int     `json:"removed"`
	Modified       int     `json:"modified"`
	Unchanged      int     `json:"unchanged"`
	TotalVisitsA   int     `json:"total_visits_a"`
	TotalVisitsB   int     `json:"total_visits_b"`
	VisitDelta     int     `json:"visit_delta"`
	VisitGrowthPct float64 `json:"visit_growth_pct"`
	ItemGrowthPct  float64 `json:"item_growth_pct"`
}

// DiffResult is the structured difference from capsule A to capsule B.
// Every slice is non-nil and deterministically ordered.
type DiffResult struct {
	CapsuleAID    string `json:"capsule_a_id"`
	CapsuleBID    string `json:"capsule_b_id"`
	CapsuleATitle string `json:"capsule_a_title"`
	CapsuleBTitle string `json:"capsule_b_title"`
	OwnerID       string `json:"owner_id"`

	// Added are items in B only; Removed are items in A only.
	Added    []capsule.Item `json:"added"`
	Removed  []capsule.Item `json:"removed"`
	Modified []ModifiedItem `json:"modified"`

	Categories EntityDiff `json:"categories"`
	Tags       EntityDiff `json:"tags"`

	// Settings is empty unless both capsules captured settings.
	Settings []SettingChange `json:"settings"`

	Stats DiffStats `json:"stats"`
}

// IsEmpty reports whether A and B hold identical items, categories, tags, and settings.
func (r *DiffResult) IsEmpty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0 &&
		r.Categories.empty() && r.Tags.empty() && len(r.Settings) == 0
}

func (e EntityDiff) empty() bool {
	return len(e.Added) == 0 && len(e.Removed) == 0 && len(e.Renamed) == 0
}

// Diff loads two capsules concurrently and computes their difference.
// It takes no owner lock.
func Diff(ctx context.Context, d Deps, input DiffInput) (*DiffResult, error) {
	input.CapsuleAID = strings.TrimSpace(input.CapsuleAID)
	input.CapsuleBID = strings.TrimSpace(input.CapsuleBID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	start := time.Now()
	defer d.Metrics.ObserveDiff(start)

	var a, b *capsule.Capsule
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = d.Store.Get(gctx, input.CapsuleAID)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = d.Store.Get(gctx, input.CapsuleBID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, asStorage(err)
	}

	if a.OwnerID != b.OwnerID {
		return nil, errors.NewIncompatibleState("capsules belong to different owners", map[string]any{
			"capsule_a_id": a.ID,
			"capsule_b_id": b.ID,
		})
	}

	return ComputeDiff(a, b), nil
}

// ComputeDiff compares two loaded capsules in O(n+m).
func ComputeDiff(a, b *capsule.Capsule) *DiffResult {
	res := &DiffResult{
		CapsuleAID:    a.ID,
		CapsuleBID:    b.ID,
		CapsuleATitle: a.Title,
		CapsuleBTitle: b.Title,
		OwnerID:       a.OwnerID,
		Added:         []capsule.Item{},
		Removed:       []capsule.Item{},
		Modified:      []ModifiedItem{},
		Settings:      []SettingChange{},
	}

	aByID := make(map[string]capsule.Item, len(a.Items))
	for _, it := range a.Items {
		aByID[it.ID] = it
	}
	bByID := make(map[string]capsule.Item, len(b.Items))
	for _, it := range b.Items {
		bByID[it.ID] = it
	}

	unchanged := 0
	for _, old := range a.Items {
		cur, ok := bByID[old.ID]
		if !ok {
			res.Removed = append(res.Removed, old)
			continue
		}
		changes := CompareItems(old, cur)
		if len(changes) == 0 {
			unchanged++
			continue
		}
		m := ModifiedItem{ID: cur.ID, Title: cur.Title, Changes: changes}
		if old.VisitCount != cur.VisitCount {
			m.VisitDelta = cur.VisitCount - old.VisitCount
			m.VisitGrowthPct = growthPct(old.VisitCount, cur.VisitCount)
		}
		res.Modified = append(res.Modified, m)
	}
	for _, cur := range b.Items {
		if _, ok := aByID[cur.ID]; !ok {
			res.Added = append(res.Added, cur)
		}
	}

	sortItems(res.Added)
	sortItems(res.Removed)
	sort.Slice(res.Modified, func(i, j int) bool {
		x, y := res.Modified[i], res.Modified[j]
		if x.Title != y.Title {
			return x.Title < y.Title
		}
		return x.ID < y.ID
	})

	res.Categories = diffEntities(categoryRefs(a.Categories), categoryRefs(b.Categories))
	res.Tags = diffEntities(tagRefs(a.Tags), tagRefs(b.Tags))
	if a.IncludeSettings && b.IncludeSettings {
		res.Settings = diffSettings(a.Settings, b.Settings)
	}

	visitsA, visitsB := totalVisits(a.Items), totalVisits(b.Items)
	res.Stats = DiffStats{
		ItemsA:         len(a.Items),
		ItemsB:         len(b.Items),
		Added:          len(res.Added),
		Removed:        len(res.Removed),
		Modified:       len(res.Modified),
		Unchanged:      unchanged,
		TotalVisitsA:   visitsA,
		TotalVisitsB:   visitsB,
		VisitDelta:     visitsB - visitsA,
		VisitGrowthPct: growthPct(visitsA, visitsB),
		ItemGrowthPct:  growthPct(len(a.Items), len(b.Items)),
	}
	return res
}

// CompareItems returns one FieldChange per differing field, in field order.
// Timestamps are not compared.
func CompareItems(old, cur capsule.Item) []FieldChange {
	var changes []FieldChange
	if old.Title != cur.Title {
		changes = append(changes, FieldChange{FieldTitle, old.Title, cur.Title})
	}
	if old.URL != cur.URL {
		changes = append(changes, FieldChange{FieldURL, old.URL, cur.URL})
	}
	if old.Description != cur.Description {
		changes = append(changes, FieldChange{FieldDescription, old.Description, cur.Description})
	}
	if !sameSet(old.CategoryIDs, cur.CategoryIDs) {
		changes = append(changes, FieldChange{FieldCategoryIDs, nonNil(old.CategoryIDs), nonNil(cur.CategoryIDs)})
	}
	if !sameSet(old.TagIDs, cur.TagIDs) {
		changes = append(changes, FieldChange{FieldTagIDs, nonNil(old.TagIDs), nonNil(cur.TagIDs)})
	}
	if old.Favorite != cur.Favorite {
		changes = append(changes, FieldChange{FieldFavorite, old.Favorite, cur.Favorite})
	}
	if old.VisitCount != cur.VisitCount {
		changes = append(changes, FieldChange{FieldVisitCount, old.VisitCount, cur.VisitCount})
	}
	return changes
}

// growthPct is (new-old)/max(old,1)*100 rounded to one decimal place.
func growthPct(old, cur int) float64 {
	base := old
	if base < 1 {
		base = 1
	}
	return math.Round(float64(cur-old)/float64(base)*1000) / 10
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sortItems(items []capsule.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].ID < items[j].ID
	})
}

func totalVisits(items []capsule.Item) int {
	n := 0
	for _, it := range items {
		n += it.VisitCount
	}
	return n
}

func categoryRefs(cs []capsule.Category) []EntityRef {
	out := make([]EntityRef, 0, len(cs))
	for _, c := range cs {
		out = append(out, EntityRef{ID: c.ID, Name: c.Name})
	}
	return out
}

func tagRefs(ts []capsule.Tag) []EntityRef {
	out := make([]EntityRef, 0, len(ts))
	for _, t := range ts {
		out = append(out, EntityRef{ID: t.ID, Name: t.Name})
	}
	return out
}

// diffEntities reports a persisted id with a new name as a rename, not remove+add.
func diffEntities(a, b []EntityRef) EntityDiff {
	out := EntityDiff{Added: []EntityRef{}, Removed: []EntityRef{}, Renamed: []Rename{}}

	aByID := make(map[string]string, len(a))
	for _, e := range a {
		aByID[e.ID] = e.Name
	}
	bByID := make(map[string]string, len(b))
	for _, e := range b {
		bByID[e.ID] = e.Name
	}

	for _, e := range a {
		name, ok := bByID[e.ID]
		switch {
		case !ok:
			out.Removed = append(out.Removed, e)
		case name != e.Name:
			out.Renamed = append(out.Renamed, Rename{ID: e.ID, OldName: e.Name, NewName: name})
		}
	}
	for _, e := range b {
		if _, ok := aByID[e.ID]; !ok {
			out.Added = append(out.Added, e)
		}
	}

	sortRefs(out.Added)
	sortRefs(out.Removed)
	sort.Slice(out.Renamed, func(i, j int) bool {
		x, y := out.Renamed[i], out.Renamed[j]
		if x.NewName != y.NewName {
			return x.NewName < y.NewName
		}
		return x.ID < y.ID
	})
	return out
}

func sortRefs(refs []EntityRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].ID < refs[j].ID
	})
}

func diffSettings(a, b map[string]string) []SettingChange {
	out := []SettingChange{}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			old := av
			out = append(out, SettingChange{Key: k, Old: &old})
			continue
		}
		if av != bv {
			old, cur := av, bv
			out = append(out, SettingChange{Key: k, Old: &old, New: &cur})
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			cur := bv
			out = append(out, SettingChange{Key: k, New: &cur})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
