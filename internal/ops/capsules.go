package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// ListInput contains parameters for the ListCapsules operation.
type ListInput struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Trigger string `json:"trigger"` // optional: manual | scheduled
}

// ListOutput contains the result of the ListCapsules operation.
type ListOutput struct {
	Capsules []capsule.CapsuleSummary `json:"capsules"`
}

// ListCapsules returns an owner's capsule summaries, oldest first.
func ListCapsules(ctx context.Context, d Deps, input ListInput) (*ListOutput, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}

	var trigger *capsule.Trigger
	if strings.TrimSpace(input.Trigger) != "" {
		t, err := capsule.ParseTrigger(input.Trigger)
		if err != nil {
			return nil, errors.NewValidation(err.Error())
		}
		trigger = &t
	}

	summaries, err := d.Store.ListByOwner(ctx, input.OwnerID, trigger)
	if err != nil {
		return nil, asStorage(err)
	}
	if summaries == nil {
		summaries = []capsule.CapsuleSummary{}
	}
	return &ListOutput{Capsules: summaries}, nil
}

// GetInput contains parameters for the GetCapsule operation.
type GetInput struct {
	ID string `json:"id" validate:"required"`
}

// GetCapsule returns one capsule with its frozen content.
func GetCapsule(ctx context.Context, d Deps, input GetInput) (*capsule.Detail, error) {
	input.ID = strings.TrimSpace(input.ID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	c, err := d.Store.Get(ctx, input.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewCapsuleNotFound(input.ID)
		}
		return nil, asStorage(err)
	}
	detail := c.ToDetail()
	return &detail, nil
}

// DeleteInput contains parameters for the DeleteCapsule operation.
type DeleteInput struct {
	ID string `json:"id" validate:"required"`
}

// DeleteOutput contains the result of the DeleteCapsule operation.
type DeleteOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteCapsule permanently removes a capsule. Deletion is the only mutation
// a capsule ever sees.
func DeleteCapsule(ctx context.Context, d Deps, input DeleteInput) (*DeleteOutput, error) {
	input.ID = strings.TrimSpace(input.ID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := d.Store.Delete(ctx, input.ID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewCapsuleNotFound(input.ID)
		}
		return nil, asStorage(err)
	}
	d.logger().Info("capsule deleted", "capsule", input.ID)
	return &DeleteOutput{ID: input.ID, Deleted: true}, nil
}
