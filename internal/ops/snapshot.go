package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/metrics"
)

// SnapshotInput contains parameters for the Snapshot operation.
type SnapshotInput struct {
	OwnerID          string `json:"owner_id" validate:"required"`
	Title            string `json:"title" validate:"required,max=200"`
	Description      string `json:"description" validate:"max=2000"`
	IncludeSettings  bool   `json:"include_settings"`
	IncludeAnalytics bool   `json:"include_analytics"`
	Trigger          string `json:"trigger"` // default: manual
}

// SnapshotOutput contains the result of the Snapshot operation.
type SnapshotOutput struct {
	Capsule capsule.CapsuleSummary `json:"capsule"`

	// Skipped is true when a scheduled capture matched the latest scheduled
	// capsule and no new capsule was written. Capsule is then the existing one.
	Skipped bool `json:"skipped"`
}

// Snapshot captures the owner's live collection into a new capsule.
func Snapshot(ctx context.Context, d Deps, input SnapshotInput) (*SnapshotOutput, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.Title = capsule.CleanTitle(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	trigger, err := capsule.ParseTrigger(input.Trigger)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}

	unlock, err := d.lockOwner(ctx, input.OwnerID)
	if err != nil {
		return nil, errors.NewCancelled("snapshot")
	}
	defer unlock()

	out, _, err := snapshotLocked(ctx, d, input, trigger)
	return out, err
}

// snapshotLocked runs a capture. The caller holds the owner's write section.
// The captured live collection is returned alongside so restore can plan from
// exactly the state its safety capsule recorded.
func snapshotLocked(ctx context.Context, d Deps, input SnapshotInput, trigger capsule.Trigger) (*SnapshotOutput, bookmark.Collection, error) {
	start := time.Now()
	out, col, err := capture(ctx, d, input, trigger)

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case out.Skipped:
		result = metrics.ResultSkipped
	}
	d.Metrics.ObserveSnapshot(string(trigger), result, start)
	return out, col, err
}

func capture(ctx context.Context, d Deps, input SnapshotInput, trigger capsule.Trigger) (*SnapshotOutput, bookmark.Collection, error) {
	var col bookmark.Collection

	exists, err := d.Live.OwnerExists(ctx, input.OwnerID)
	if err != nil {
		return nil, col, asStorage(err)
	}
	if !exists {
		return nil, col, errors.NewValidation("owner not found: " + input.OwnerID)
	}

	col, err = d.Live.ReadCollection(ctx, input.OwnerID)
	if err != nil {
		return nil, col, asStorage(err)
	}

	c, err := capsule.Freeze(col, capsule.FreezeOptions{
		IncludeSettings:  input.IncludeSettings,
		IncludeAnalytics: input.IncludeAnalytics,
	})
	if err != nil {
		return nil, col, errors.NewInternal(err)
	}

	if trigger == capsule.TriggerScheduled && !d.config().AllowDuplicateScheduled {
		latest, err := d.Store.Latest(ctx, input.OwnerID, capsule.TriggerScheduled)
		if err != nil {
			return nil, col, asStorage(err)
		}
		if latest != nil && latest.ContentHash == c.ContentHash {
			d.logger().Info("scheduled capture unchanged, skipped",
				"owner", input.OwnerID, "capsule", latest.ID)
			return &SnapshotOutput{Capsule: *latest, Skipped: true}, col, nil
		}
	}

	now := d.now()
	c.ID = NewID(now)
	c.OwnerID = input.OwnerID
	c.Title = input.Title
	c.Description = input.Description
	c.CreatedAt = now.Unix()
	c.Trigger = trigger

	if _, err := d.Store.Save(ctx, c); err != nil {
		return nil, col, asStorage(err)
	}

	d.logger().Info("capsule created",
		"owner", c.OwnerID, "capsule", c.ID, "trigger", string(trigger), "items", c.Stats.ItemCount)
	return &SnapshotOutput{Capsule: c.ToSummary()}, col, nil
}

// asStorage keeps typed errors and wraps anything else as STORAGE.
func asStorage(err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.NewStorage(err)
}
