package ops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/tcap/internal/capsule"
)

// SummarizeDiff renders a diff as a short Markdown report. Output depends only
// on the diff, so the same diff always yields the same text.
func SummarizeDiff(r *DiffResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s → %s\n\n", orID(r.CapsuleATitle, r.CapsuleAID), orID(r.CapsuleBTitle, r.CapsuleBID))

	if r.IsEmpty() {
		b.WriteString("No changes.\n")
		return b.String()
	}

	s := r.Stats
	fmt.Fprintf(&b, "- **%d** added, **%d** removed, **%d** modified, %d unchanged\n",
		s.Added, s.Removed, s.Modified, s.Unchanged)
	fmt.Fprintf(&b, "- Items: %d → %d (%s)\n", s.ItemsA, s.ItemsB, signedPct(s.ItemGrowthPct))
	fmt.Fprintf(&b, "- Visits: %d → %d (%+d, %s)\n",
		s.TotalVisitsA, s.TotalVisitsB, s.VisitDelta, signedPct(s.VisitGrowthPct))

	if fields := changedFieldCounts(r.Modified); len(fields) > 0 {
		b.WriteString("\n### Most changed fields\n\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "- %s: %d\n", f.name, f.count)
		}
	}

	writeItemList(&b, "Added", r.Added)
	writeItemList(&b, "Removed", r.Removed)

	writeEntityDiff(&b, "Categories", r.Categories)
	writeEntityDiff(&b, "Tags", r.Tags)

	if len(r.Settings) > 0 {
		b.WriteString("\n### Settings\n\n")
		for _, c := range r.Settings {
			fmt.Fprintf(&b, "- `%s`: %s → %s\n", c.Key, settingValue(c.Old), settingValue(c.New))
		}
	}
	return b.String()
}

// summaryListLimit caps item lists in the summary.
const summaryListLimit = 10

type fieldCount struct {
	name  string
	count int
}

func changedFieldCounts(modified []ModifiedItem) []fieldCount {
	counts := make(map[string]int)
	for _, m := range modified {
		for _, c := range m.Changes {
			counts[c.Field]++
		}
	}
	out := make([]fieldCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, fieldCount{name: name, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func writeItemList(b *strings.Builder, heading string, items []capsule.Item) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", heading)
	for i, it := range items {
		if i == summaryListLimit {
			fmt.Fprintf(b, "- and %d more\n", len(items)-summaryListLimit)
			break
		}
		fmt.Fprintf(b, "- %s <%s>\n", orID(it.Title, it.ID), it.URL)
	}
}

func writeEntityDiff(b *strings.Builder, heading string, e EntityDiff) {
	if e.empty() {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", heading)
	for _, r := range e.Renamed {
		fmt.Fprintf(b, "- renamed %q → %q\n", r.OldName, r.NewName)
	}
	for _, a := range e.Added {
		fmt.Fprintf(b, "- added %q\n", a.Name)
	}
	for _, rm := range e.Removed {
		fmt.Fprintf(b, "- removed %q\n", rm.Name)
	}
}

func signedPct(p float64) string {
	return fmt.Sprintf("%+.1f%%", p)
}

func settingValue(v *string) string {
	if v == nil {
		return "_unset_"
	}
	return "`" + *v + "`"
}

func orID(title, id string) string {
	if title == "" {
		return id
	}
	return title
}
