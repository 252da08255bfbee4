package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/tcap/internal/errors"
)

// PolicyRow is a persisted retention policy.
type PolicyRow struct {
	OwnerID     string
	Frequency   string
	MaxCapsules int
	AutoCleanup bool
	UpdatedAt   int64
}

// StateRow is the persisted scheduler state for one owner.
type StateRow struct {
	OwnerID    string
	LastRunAt  int64
	NextRunAt  int64
	RunToken   int64
	LastPeriod string
}

// ScheduleStore persists retention policies and scheduler state.
type ScheduleStore struct {
	db *sql.DB
}

// NewScheduleStore wraps an initialized database.
func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// PutPolicy inserts or replaces the policy for p.OwnerID.
func (s *ScheduleStore) PutPolicy(ctx context.Context, p PolicyRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (owner_id, frequency, max_capsules, auto_cleanup, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			frequency = excluded.frequency,
			max_capsules = excluded.max_capsules,
			auto_cleanup = excluded.auto_cleanup,
			updated_at = excluded.updated_at
	`, p.OwnerID, p.Frequency, p.MaxCapsules, boolToInt(p.AutoCleanup), p.UpdatedAt)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// GetPolicy returns the policy for ownerID, or NOT_FOUND.
func (s *ScheduleStore) GetPolicy(ctx context.Context, ownerID string) (*PolicyRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, frequency, max_capsules, auto_cleanup, updated_at
		FROM retention_policies WHERE owner_id = ?
	`, ownerID)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("retention policy", ownerID)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return p, nil
}

// ListPolicies returns every policy ordered by owner id.
func (s *ScheduleStore) ListPolicies(ctx context.Context) ([]PolicyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, frequency, max_capsules, auto_cleanup, updated_at
		FROM retention_policies ORDER BY owner_id
	`)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	out := []PolicyRow{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// DeletePolicy removes ownerID's policy and scheduler state.
func (s *ScheduleStore) DeletePolicy(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM retention_policies WHERE owner_id = ?`, ownerID)
	if err != nil {
		return errors.NewStorage(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("retention policy", ownerID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_state WHERE owner_id = ?`, ownerID); err != nil {
		return errors.NewStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func scanPolicy(row rowScanner) (*PolicyRow, error) {
	var (
		p    PolicyRow
		auto int
	)
	if err := row.Scan(&p.OwnerID, &p.Frequency, &p.MaxCapsules, &auto, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AutoCleanup = auto != 0
	return &p, nil
}

// GetState returns the scheduler state for ownerID, or nil if none was ever persisted.
func (s *ScheduleStore) GetState(ctx context.Context, ownerID string) (*StateRow, error) {
	var st StateRow
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, last_run_at, next_run_at, run_token, last_period
		FROM schedule_state WHERE owner_id = ?
	`, ownerID).Scan(&st.OwnerID, &st.LastRunAt, &st.NextRunAt, &st.RunToken, &st.LastPeriod)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return &st, nil
}

// CompareAndSwapState persists next only if the stored run token still equals
// expectToken (0 meaning no row yet). Returns false if another writer got there first.
func (s *ScheduleStore) CompareAndSwapState(ctx context.Context, next StateRow, expectToken int64) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if expectToken == 0 {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO schedule_state (owner_id, last_run_at, next_run_at, run_token, last_period)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner_id) DO NOTHING
		`, next.OwnerID, next.LastRunAt, next.NextRunAt, next.RunToken, next.LastPeriod)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE schedule_state
			SET last_run_at = ?, next_run_at = ?, run_token = ?, last_period = ?
			WHERE owner_id = ? AND run_token = ?
		`, next.LastRunAt, next.NextRunAt, next.RunToken, next.LastPeriod, next.OwnerID, expectToken)
	}
	if err != nil {
		return false, errors.NewStorage(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorage(err)
	}
	return rowsAffected == 1, nil
}
