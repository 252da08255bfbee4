package ops

import (
	"strings"
	"testing"

	"github.com/hpungsan/tcap/internal/capsule"
)

func TestSummarizeDiff_NoChanges(t *testing.T) {
	a := frozen("A", item("x", "X", 1))
	got := SummarizeDiff(ComputeDiff(a, a))
	if !strings.Contains(got, "No changes.") {
		t.Errorf("summary = %q", got)
	}
}

func TestSummarizeDiff_Report(t *testing.T) {
	x := item("x", "X", 5)
	y := item("y", "Y", 2)
	a := frozen("A", x, y, item("gone", "Gone", 0))
	a.Categories = []capsule.Category{{ID: "c1", Name: "Dev"}}
	a.IncludeSettings = true
	a.Settings = map[string]string{"theme": "dark"}

	x2, y2 := x, y
	x2.VisitCount = 8
	y2.VisitCount = 3
	y2.Title = "Y2"
	b := frozen("B", x2, y2, item("new", "New", 0))
	b.Categories = []capsule.Category{{ID: "c1", Name: "Development"}}
	b.IncludeSettings = true
	b.Settings = map[string]string{"theme": "light"}

	got := SummarizeDiff(ComputeDiff(a, b))

	for _, want := range []string{
		"## capsule A → capsule B",
		"**1** added, **1** removed, **2** modified, 0 unchanged",
		"Visits: 7 → 11 (+4, +57.1%)",
		"- visit_count: 2\n- title: 1\n",
		"### Added\n\n- New <https://example.com/new>",
		"### Removed\n\n- Gone <https://example.com/gone>",
		`- renamed "Dev" → "Development"`,
		"- `theme`: `dark` → `light`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q\n%s", want, got)
		}
	}

	if again := SummarizeDiff(ComputeDiff(a, b)); again != got {
		t.Error("summary is not deterministic")
	}
}

func TestSummarizeDiff_LongListsTruncated(t *testing.T) {
	var items []capsule.Item
	for _, id := range strings.Split("a b c d e f g h i j k l", " ") {
		items = append(items, item(id, id, 0))
	}
	got := SummarizeDiff(ComputeDiff(frozen("A"), frozen("B", items...)))
	if !strings.Contains(got, "- and 2 more") {
		t.Errorf("summary = %s", got)
	}
}
