package retention

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/ops"
)

// Store persists policies and scheduler state.
type Store interface {
	PutPolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, ownerID string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	DeletePolicy(ctx context.Context, ownerID string) error
	// GetState returns nil when the owner was never run.
	GetState(ctx context.Context, ownerID string) (*State, error)
	CompareAndSwapState(ctx context.Context, next State, expectToken int64) (bool, error)
}

// DBStore adapts db.ScheduleStore to Store.
type DBStore struct {
	s *db.ScheduleStore
}

// NewDBStore wraps s.
func NewDBStore(s *db.ScheduleStore) *DBStore {
	return &DBStore{s: s}
}

func (d *DBStore) PutPolicy(ctx context.Context, p Policy) error {
	return d.s.PutPolicy(ctx, db.PolicyRow{
		OwnerID:     p.OwnerID,
		Frequency:   string(p.Frequency),
		MaxCapsules: p.MaxCapsules,
		AutoCleanup: p.AutoCleanup,
		UpdatedAt:   p.UpdatedAt,
	})
}

func (d *DBStore) GetPolicy(ctx context.Context, ownerID string) (*Policy, error) {
	row, err := d.s.GetPolicy(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	p := policyFromRow(*row)
	return &p, nil
}

func (d *DBStore) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := d.s.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Policy, 0, len(rows))
	for _, r := range rows {
		out = append(out, policyFromRow(r))
	}
	return out, nil
}

func (d *DBStore) DeletePolicy(ctx context.Context, ownerID string) error {
	return d.s.DeletePolicy(ctx, ownerID)
}

func (d *DBStore) GetState(ctx context.Context, ownerID string) (*State, error) {
	row, err := d.s.GetState(ctx, ownerID)
	if err != nil || row == nil {
		return nil, err
	}
	return &State{
		OwnerID:    row.OwnerID,
		LastRunAt:  row.LastRunAt,
		NextRunAt:  row.NextRunAt,
		RunToken:   row.RunToken,
		LastPeriod: row.LastPeriod,
	}, nil
}

func (d *DBStore) CompareAndSwapState(ctx context.Context, next State, expectToken int64) (bool, error) {
	return d.s.CompareAndSwapState(ctx, db.StateRow{
		OwnerID:    next.OwnerID,
		LastRunAt:  next.LastRunAt,
		NextRunAt:  next.NextRunAt,
		RunToken:   next.RunToken,
		LastPeriod: next.LastPeriod,
	}, expectToken)
}

func policyFromRow(r db.PolicyRow) Policy {
	return Policy{
		OwnerID:     r.OwnerID,
		Frequency:   Frequency(r.Frequency),
		MaxCapsules: r.MaxCapsules,
		AutoCleanup: r.AutoCleanup,
		UpdatedAt:   r.UpdatedAt,
	}
}

// SetPolicy validates and stores p, stamping UpdatedAt with now.
func SetPolicy(ctx context.Context, store Store, p Policy, now time.Time) (*Policy, error) {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	f, err := ParseFrequency(string(p.Frequency))
	if err != nil {
		return nil, err
	}
	p.Frequency = f
	if err := ops.ValidateStruct(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = now.Unix()
	if err := store.PutPolicy(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}
