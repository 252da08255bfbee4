package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/metrics"
)

// ConflictPolicy decides how capsule content meets live content on restore.
type ConflictPolicy string

const (
	// PolicyReplaceAll makes the live collection exactly the capsule's content.
	PolicyReplaceAll ConflictPolicy = "replace_all"
	// PolicyMergeKeepNewer keeps whichever side of an id collision was updated later. Ties keep live.
	PolicyMergeKeepNewer ConflictPolicy = "merge_keep_newer"
	// PolicyMergeKeepCapsule lets capsule values win every id collision.
	PolicyMergeKeepCapsule ConflictPolicy = "merge_keep_capsule"
)

// Restore step names reported on failure.
const (
	StepLoad           = "load"
	StepLock           = "lock"
	StepSafetySnapshot = "safety_snapshot"
	StepPlan           = "plan"
	StepCommit         = "commit"
)

// SafetyCapsuleTitle is the title of the capsule taken before every restore.
const SafetyCapsuleTitle = "Pre-restore safety capsule"

// ParsePolicy parses a policy name. Empty input defaults to replace_all.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(capsule.Normalize(s)); p {
	case "":
		return PolicyReplaceAll, nil
	case PolicyReplaceAll, PolicyMergeKeepNewer, PolicyMergeKeepCapsule:
		return p, nil
	default:
		return "", errors.NewValidation(fmt.Sprintf(
			"policy must be one of: %s, %s, %s", PolicyReplaceAll, PolicyMergeKeepNewer, PolicyMergeKeepCapsule))
	}
}

// RestoreInput contains parameters for the Restore operation.
type RestoreInput struct {
	CapsuleID string `json:"capsule_id" validate:"required"`
	OwnerID   string `json:"owner_id" validate:"required"`
	Policy    string `json:"policy"` // default: replace_all
}

// RestoreOutput contains the result of the Restore operation.
type RestoreOutput struct {
	CapsuleID       string         `json:"capsule_id"`
	SafetyCapsuleID string         `json:"safety_capsule_id"`
	Policy          ConflictPolicy `json:"policy"`
	Added           int            `json:"added"`
	Updated         int            `json:"updated"`
	Removed         int            `json:"removed"`
	Unchanged       int            `json:"unchanged"`
	Total           int            `json:"total"`
	RestoredAt      int64          `json:"restored_at"`
}

// Restore rematerializes a capsule onto the owner's live collection.
//
// A manual safety capsule of the current live state is written first; if that
// fails nothing else happens. The new record set is then committed in one
// transaction. Any failure after the safety capture leaves live data unchanged
// and reports the failing step. The whole operation is bounded by the configured
// restore timeout.
func Restore(ctx context.Context, d Deps, input RestoreInput) (*RestoreOutput, error) {
	input.CapsuleID = strings.TrimSpace(input.CapsuleID)
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	policy, err := ParsePolicy(input.Policy)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := restore(ctx, d, input, policy)
	if err != nil {
		d.Metrics.ObserveRestore(string(policy), metrics.ResultError, start)
		attrs := []any{"owner", input.OwnerID, "capsule", input.CapsuleID, "policy", string(policy), "error", err}
		if tErr, ok := errors.As(err); ok && tErr.Step() != "" {
			attrs = append(attrs, "step", tErr.Step())
		}
		d.logger().Warn("restore failed", attrs...)
		return nil, err
	}
	d.Metrics.ObserveRestore(string(policy), metrics.ResultSuccess, start)
	d.logger().Info("capsule restored",
		"owner", input.OwnerID, "capsule", out.CapsuleID, "safety_capsule", out.SafetyCapsuleID,
		"policy", string(policy), "added", out.Added, "updated", out.Updated, "removed", out.Removed)
	return out, nil
}

func restore(ctx context.Context, d Deps, input RestoreInput, policy ConflictPolicy) (*RestoreOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config().RestoreTimeout())
	defer cancel()

	// load
	c, err := d.Store.Get(ctx, input.CapsuleID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.WithStep(errors.NewCapsuleNotFound(input.CapsuleID), StepLoad)
		}
		return nil, stepError(ctx, StepLoad, asStorage(err))
	}
	if c.OwnerID != input.OwnerID {
		return nil, errors.WithStep(errors.NewIncompatibleState("capsule belongs to a different owner", map[string]any{
			"capsule_id": c.ID,
			"owner_id":   input.OwnerID,
		}), StepLoad)
	}

	// The owner's write section covers safety capture through commit.
	unlock, err := d.lockOwner(ctx, input.OwnerID)
	if err != nil {
		return nil, errors.NewTransaction(StepLock, err)
	}
	defer unlock()

	// safety_snapshot
	safety, live, err := snapshotLocked(ctx, d, SnapshotInput{
		OwnerID:         input.OwnerID,
		Title:           SafetyCapsuleTitle,
		Description:     "Live state before restoring capsule " + c.ID,
		IncludeSettings: true,
	}, capsule.TriggerManual)
	if err != nil {
		return nil, stepError(ctx, StepSafetySnapshot, err)
	}

	// plan
	now := d.now()
	target, counts, err := planRestore(policy, live, c, input.OwnerID, now.Unix())
	if err != nil {
		return nil, errors.WithStep(err, StepPlan)
	}

	// commit
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransaction(StepCommit, err)
	}
	if err := d.Live.ReplaceCollection(ctx, input.OwnerID, target); err != nil {
		return nil, errors.NewTransaction(StepCommit, err)
	}

	counts.CapsuleID = c.ID
	counts.SafetyCapsuleID = safety.Capsule.ID
	counts.Policy = policy
	counts.Total = len(target.Records)
	counts.RestoredAt = now.Unix()
	return counts, nil
}

// stepError attaches step to err. A deadline or cancellation is reported as a
// transaction failure; nothing was committed.
func stepError(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewTransaction(step, ctxErr)
	}
	return errors.WithStep(err, step)
}

// planRestore computes the target live collection for policy. It never mutates
// live or the capsule.
func planRestore(policy ConflictPolicy, live bookmark.Collection, c *capsule.Capsule, ownerID string, now int64) (bookmark.Collection, *RestoreOutput, error) {
	out := &RestoreOutput{}

	liveByID, err := indexRecords(live.Records)
	if err != nil {
		return bookmark.Collection{}, nil, err
	}
	capByID := make(map[string]capsule.Item, len(c.Items))
	for _, it := range c.Items {
		if _, dup := capByID[it.ID]; dup {
			return bookmark.Collection{}, nil, errors.NewConflict("duplicate item id in capsule: " + it.ID)
		}
		capByID[it.ID] = it
	}

	records := make([]bookmark.Record, 0, len(c.Items)+len(live.Records))

	// Records taken from the capsule are rematerialized with a fresh updated_at.
	fromCapsule := func(it capsule.Item) bookmark.Record {
		r := it.Record(ownerID)
		r.UpdatedAt = now
		return r
	}

	for _, it := range c.Items {
		cur, inLive := liveByID[it.ID]
		if !inLive {
			records = append(records, fromCapsule(it))
			out.Added++
			continue
		}
		same := sameContent(capsule.FreezeRecord(cur), it)
		switch policy {
		case PolicyReplaceAll, PolicyMergeKeepCapsule:
			records = append(records, fromCapsule(it))
			if same {
				out.Unchanged++
			} else {
				out.Updated++
			}
		case PolicyMergeKeepNewer:
			if !same && it.UpdatedAt > cur.UpdatedAt {
				records = append(records, fromCapsule(it))
				out.Updated++
			} else {
				records = append(records, cur.Clone())
				out.Unchanged++
			}
		}
	}

	// Live-only records
	for _, r := range live.Records {
		if _, inCapsule := capByID[r.ID]; inCapsule {
			continue
		}
		if policy == PolicyReplaceAll {
			out.Removed++
			continue
		}
		records = append(records, r.Clone())
		out.Unchanged++
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	categories, err := mergeNamed(policy, namedFromCategories(live.Categories), categoryRefs(c.Categories))
	if err != nil {
		return bookmark.Collection{}, nil, err
	}
	tags, err := mergeNamed(policy, namedFromTags(live.Tags), tagRefs(c.Tags))
	if err != nil {
		return bookmark.Collection{}, nil, err
	}

	target := bookmark.Collection{
		Records:    records,
		Categories: make([]bookmark.Category, 0, len(categories)),
		Tags:       make([]bookmark.Tag, 0, len(tags)),
		Settings:   mergeSettings(policy, live.Settings, c),
	}
	for _, n := range categories {
		target.Categories = append(target.Categories, bookmark.Category{ID: n.ID, OwnerID: ownerID, Name: n.Name})
	}
	for _, n := range tags {
		target.Tags = append(target.Tags, bookmark.Tag{ID: n.ID, OwnerID: ownerID, Name: n.Name})
	}
	return target, out, nil
}

// sameContent reports whether two frozen items hold the same content.
// UpdatedAt is ignored.
func sameContent(a, b capsule.Item) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.URL == b.URL &&
		a.Description == b.Description &&
		a.Favicon == b.Favicon &&
		sameSet(a.CategoryIDs, b.CategoryIDs) &&
		sameSet(a.TagIDs, b.TagIDs) &&
		a.Favorite == b.Favorite &&
		a.VisitCount == b.VisitCount &&
		a.CreatedAt == b.CreatedAt
}

func indexRecords(records []bookmark.Record) (map[string]bookmark.Record, error) {
	byID := make(map[string]bookmark.Record, len(records))
	for _, r := range records {
		if _, dup := byID[r.ID]; dup {
			return nil, errors.NewConflict("duplicate record id in live collection: " + r.ID)
		}
		byID[r.ID] = r
	}
	return byID, nil
}

// mergeNamed merges categories or tags. They carry no timestamps, so under
// merge_keep_newer the live name wins a collision.
func mergeNamed(policy ConflictPolicy, live, fromCapsule []EntityRef) ([]EntityRef, error) {
	liveByID := make(map[string]EntityRef, len(live))
	for _, e := range live {
		if _, dup := liveByID[e.ID]; dup {
			return nil, errors.NewConflict("duplicate id in live collection: " + e.ID)
		}
		liveByID[e.ID] = e
	}
	capByID := make(map[string]EntityRef, len(fromCapsule))
	for _, e := range fromCapsule {
		if _, dup := capByID[e.ID]; dup {
			return nil, errors.NewConflict("duplicate id in capsule: " + e.ID)
		}
		capByID[e.ID] = e
	}

	var out []EntityRef
	switch policy {
	case PolicyReplaceAll:
		out = append(out, fromCapsule...)
	case PolicyMergeKeepCapsule:
		out = append(out, fromCapsule...)
		for _, e := range live {
			if _, ok := capByID[e.ID]; !ok {
				out = append(out, e)
			}
		}
	case PolicyMergeKeepNewer:
		out = append(out, live...)
		for _, e := range fromCapsule {
			if _, ok := liveByID[e.ID]; !ok {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// mergeSettings leaves live settings alone when the capsule did not capture any.
func mergeSettings(policy ConflictPolicy, live map[string]string, c *capsule.Capsule) map[string]string {
	if !c.IncludeSettings {
		return capsule.CopySettings(live)
	}
	switch policy {
	case PolicyReplaceAll:
		return capsule.CopySettings(c.Settings)
	case PolicyMergeKeepCapsule:
		out := capsule.CopySettings(live)
		for k, v := range c.Settings {
			out[k] = v
		}
		return out
	default:
		out := capsule.CopySettings(c.Settings)
		for k, v := range live {
			out[k] = v
		}
		return out
	}
}

func namedFromCategories(cs []bookmark.Category) []EntityRef {
	out := make([]EntityRef, 0, len(cs))
	for _, c := range cs {
		out = append(out, EntityRef{ID: c.ID, Name: c.Name})
	}
	return out
}

func namedFromTags(ts []bookmark.Tag) []EntityRef {
	out := make([]EntityRef, 0, len(ts))
	for _, t := range ts {
		out = append(out, EntityRef{ID: t.ID, Name: t.Name})
	}
	return out
}
