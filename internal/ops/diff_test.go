package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

func item(id, title string, visits int) capsule.Item {
	return capsule.Item{
		ID:          id,
		Title:       title,
		URL:         "https://example.com/" + id,
		CategoryIDs: []string{},
		TagIDs:      []string{},
		VisitCount:  visits,
	}
}

func frozen(id string, items ...capsule.Item) *capsule.Capsule {
	return &capsule.Capsule{ID: id, OwnerID: "alice", Title: "capsule " + id, Items: items}
}

func TestComputeDiff_Scenario(t *testing.T) {
	a := frozen("A", item("id1", "X", 5))
	b := frozen("B", item("id1", "X", 8), item("id2", "Y", 0))

	d := ComputeDiff(a, b)

	require.Empty(t, d.Removed)
	require.Len(t, d.Added, 1)
	require.Equal(t, "id2", d.Added[0].ID)
	require.Len(t, d.Modified, 1)
	m := d.Modified[0]
	require.Equal(t, "id1", m.ID)
	require.Equal(t, []FieldChange{{Field: FieldVisitCount, OldValue: 5, NewValue: 8}}, m.Changes)
	require.Equal(t, 3, m.VisitDelta)
	require.Equal(t, 60.0, m.VisitGrowthPct)

	require.Equal(t, DiffStats{
		ItemsA: 1, ItemsB: 2, Added: 1, Modified: 1,
		TotalVisitsA: 5, TotalVisitsB: 8, VisitDelta: 3, VisitGrowthPct: 60, ItemGrowthPct: 100,
	}, d.Stats)
}

func TestComputeDiff_SelfIsEmpty(t *testing.T) {
	it := item("id1", "X", 5)
	it.CategoryIDs = []string{"c1", "c2"}
	a := frozen("A", it, item("id2", "Y", 1))
	a.Categories = []capsule.Category{{ID: "c1", Name: "Dev"}}
	a.IncludeSettings = true
	a.Settings = map[string]string{"theme": "dark"}

	d := ComputeDiff(a, a)
	require.True(t, d.IsEmpty())
	require.Equal(t, 2, d.Stats.Unchanged)
	require.NotNil(t, d.Added)
	require.NotNil(t, d.Settings)
}

func TestComputeDiff_Symmetry(t *testing.T) {
	x := item("x", "Shared", 1)
	x2 := x
	x2.Title = "Shared renamed"
	x2.Favorite = true
	a := frozen("A", x, item("onlyA", "Gone", 0))
	b := frozen("B", x2, item("onlyB", "Fresh", 0))

	ab := ComputeDiff(a, b)
	ba := ComputeDiff(b, a)

	require.Equal(t, ab.Added, ba.Removed)
	require.Equal(t, ab.Removed, ba.Added)
	require.Len(t, ab.Modified, 1)
	require.Len(t, ba.Modified, 1)
	require.Equal(t, len(ab.Modified[0].Changes), len(ba.Modified[0].Changes))
	for i, c := range ab.Modified[0].Changes {
		rev := ba.Modified[0].Changes[i]
		require.Equal(t, c.Field, rev.Field)
		require.Equal(t, c.OldValue, rev.NewValue)
		require.Equal(t, c.NewValue, rev.OldValue)
	}
}

func TestComputeDiff_CategorySetOrderIgnored(t *testing.T) {
	x := item("x", "X", 0)
	x.CategoryIDs = []string{"c1", "c2"}
	y := x
	y.CategoryIDs = []string{"c2", "c1"}

	require.True(t, ComputeDiff(frozen("A", x), frozen("B", y)).IsEmpty())

	y.CategoryIDs = []string{"c2"}
	d := ComputeDiff(frozen("A", x), frozen("B", y))
	require.Len(t, d.Modified, 1)
	require.Equal(t, FieldCategoryIDs, d.Modified[0].Changes[0].Field)
	require.Zero(t, d.Modified[0].VisitDelta)
}

func TestComputeDiff_RenamesAndSettings(t *testing.T) {
	a := frozen("A")
	a.Categories = []capsule.Category{{ID: "c1", Name: "Dev"}, {ID: "c2", Name: "Old"}}
	a.Tags = []capsule.Tag{{ID: "t1", Name: "go"}}
	a.IncludeSettings = true
	a.Settings = map[string]string{"theme": "dark", "sort": "title"}

	b := frozen("B")
	b.Categories = []capsule.Category{{ID: "c1", Name: "Development"}, {ID: "c3", Name: "New"}}
	b.Tags = []capsule.Tag{{ID: "t1", Name: "go"}}
	b.IncludeSettings = true
	b.Settings = map[string]string{"theme": "light", "density": "compact"}

	d := ComputeDiff(a, b)
	require.Equal(t, []Rename{{ID: "c1", OldName: "Dev", NewName: "Development"}}, d.Categories.Renamed)
	require.Equal(t, []EntityRef{{ID: "c3", Name: "New"}}, d.Categories.Added)
	require.Equal(t, []EntityRef{{ID: "c2", Name: "Old"}}, d.Categories.Removed)
	require.True(t, d.Tags.empty())

	require.Len(t, d.Settings, 3)
	require.Equal(t, "density", d.Settings[0].Key)
	require.Nil(t, d.Settings[0].Old)
	require.Equal(t, "sort", d.Settings[1].Key)
	require.Nil(t, d.Settings[1].New)
	require.Equal(t, "theme", d.Settings[2].Key)
	require.Equal(t, "light", *d.Settings[2].New)

	// Settings captured on one side only are not compared.
	b.IncludeSettings = false
	require.Empty(t, ComputeDiff(a, b).Settings)
}

func TestComputeDiff_Deterministic(t *testing.T) {
	a := frozen("A", item("3", "b", 0), item("1", "a", 0), item("2", "a", 0))
	b := frozen("B")
	first := ComputeDiff(a, b)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, ComputeDiff(a, b))
	}
	require.Equal(t, "1", first.Removed[0].ID)
	require.Equal(t, "2", first.Removed[1].ID)
	require.Equal(t, "3", first.Removed[2].ID)
}

func TestDiff_Stored(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlice(t)
	ctx := context.Background()

	a := env.snapshot(t, "alice", "A")
	env.put(t, rec("alice", "b2", "Docs", 9))
	env.put(t, rec("alice", "b3", "Blog", 0))
	b := env.snapshot(t, "alice", "B")

	d, err := Diff(ctx, env.Deps, DiffInput{CapsuleAID: a, CapsuleBID: b})
	require.NoError(t, err)
	require.Equal(t, "A", d.CapsuleATitle)
	require.Len(t, d.Added, 1)
	require.Equal(t, "b3", d.Added[0].ID)
	require.Len(t, d.Modified, 1)
	require.Equal(t, 7, d.Modified[0].VisitDelta)

	self, err := Diff(ctx, env.Deps, DiffInput{CapsuleAID: b, CapsuleBID: b})
	require.NoError(t, err)
	require.True(t, self.IsEmpty())
}

func TestDiff_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlice(t)
	env.addOwner(t, "bob")
	ctx := context.Background()

	a := env.snapshot(t, "alice", "A")
	b := env.snapshot(t, "bob", "B")

	_, err := Diff(ctx, env.Deps, DiffInput{CapsuleAID: a})
	require.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

	_, err = Diff(ctx, env.Deps, DiffInput{CapsuleAID: a, CapsuleBID: "missing"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	_, err = Diff(ctx, env.Deps, DiffInput{CapsuleAID: a, CapsuleBID: b})
	require.True(t, errors.Is(err, errors.ErrIncompatibleState), "got %v", err)
}
