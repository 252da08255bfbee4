package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// CapsuleStore persists immutable capsules. Rows are only ever inserted or
// deleted; nothing here updates a capsule table in place.
type CapsuleStore struct {
	db *sql.DB
}

// NewCapsuleStore wraps an initialized database.
func NewCapsuleStore(db *sql.DB) *CapsuleStore {
	return &CapsuleStore{db: db}
}

const capsuleColumns = `
	id, owner_id, title, description, created_at, trigger_kind,
	include_settings, include_analytics, content_hash,
	item_count, category_count, tag_count, favorite_count, byte_size
`

// Save stores a capsule and all of its frozen content in one transaction.
func (s *CapsuleStore) Save(ctx context.Context, c *capsule.Capsule) (string, error) {
	var analyticsJSON sql.NullString
	if c.Analytics != nil {
		data, err := json.Marshal(c.Analytics)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		analyticsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.NewStorage(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO capsules (`+capsuleColumns+`, analytics_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.OwnerID, c.Title, c.Description, c.CreatedAt, string(c.Trigger),
		boolToInt(c.IncludeSettings), boolToInt(c.IncludeAnalytics), c.ContentHash,
		c.Stats.ItemCount, c.Stats.CategoryCount, c.Stats.TagCount, c.Stats.FavoriteCount, c.Stats.ByteSize,
		analyticsJSON,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", errors.NewConflict("capsule id already exists: " + c.ID)
		}
		return "", errors.NewStorage(err)
	}

	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO capsule_items (
			capsule_id, item_id, title, url, description, favicon,
			category_ids_json, tag_ids_json, favorite, visit_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", errors.NewStorage(err)
	}
	defer itemStmt.Close()

	for _, it := range c.Items {
		catJSON, err := marshalIDs(it.CategoryIDs)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		tagJSON, err := marshalIDs(it.TagIDs)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		if _, err := itemStmt.ExecContext(ctx,
			c.ID, it.ID, it.Title, it.URL, it.Description, it.Favicon,
			catJSON, tagJSON, boolToInt(it.Favorite), it.VisitCount, it.CreatedAt, it.UpdatedAt,
		); err != nil {
			if isUniqueConstraintError(err) {
				return "", errors.NewConflict("duplicate item id in capsule: " + it.ID)
			}
			return "", errors.NewStorage(err)
		}
	}

	for _, cat := range c.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capsule_categories (capsule_id, category_id, name) VALUES (?, ?, ?)`,
			c.ID, cat.ID, cat.Name,
		); err != nil {
			return "", errors.NewStorage(err)
		}
	}

	for _, t := range c.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capsule_tags (capsule_id, tag_id, name) VALUES (?, ?, ?)`,
			c.ID, t.ID, t.Name,
		); err != nil {
			return "", errors.NewStorage(err)
		}
	}

	for k, v := range c.Settings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capsule_settings (capsule_id, key, value) VALUES (?, ?, ?)`,
			c.ID, k, v,
		); err != nil {
			return "", errors.NewStorage(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.NewStorage(err)
	}
	return c.ID, nil
}

// Get loads a capsule with all of its frozen content.
// Returns NOT_FOUND if the id is unknown.
func (s *CapsuleStore) Get(ctx context.Context, id string) (*capsule.Capsule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+capsuleColumns+`, analytics_json FROM capsules WHERE id = ?`, id)
	var analyticsJSON sql.NullString
	c, err := scanCapsule(row, &analyticsJSON)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("capsule", id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	if analyticsJSON.Valid && analyticsJSON.String != "" {
		c.Analytics = &capsule.Analytics{}
		if err := json.Unmarshal([]byte(analyticsJSON.String), c.Analytics); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if c.Items, err = loadItems(ctx, tx, id); err != nil {
		return nil, err
	}
	if c.Categories, err = loadCategories(ctx, tx, id); err != nil {
		return nil, err
	}
	if c.Tags, err = loadTags(ctx, tx, id); err != nil {
		return nil, err
	}
	if c.IncludeSettings {
		if c.Settings, err = loadSettings(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return c, nil
}

// ListByOwner returns capsule summaries for owner, oldest first (created_at, then id).
// A nil trigger lists every trigger kind.
func (s *CapsuleStore) ListByOwner(ctx context.Context, ownerID string, trigger *capsule.Trigger) ([]capsule.CapsuleSummary, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE owner_id = ?`
	args := []any{ownerID}
	if trigger != nil {
		query += ` AND trigger_kind = ?`
		args = append(args, string(*trigger))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	summaries := []capsule.CapsuleSummary{}
	for rows.Next() {
		c, err := scanCapsule(rows, nil)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		summaries = append(summaries, c.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return summaries, nil
}

// Latest returns the newest capsule summary for owner and trigger, or nil if there is none.
func (s *CapsuleStore) Latest(ctx context.Context, ownerID string, trigger capsule.Trigger) (*capsule.CapsuleSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+capsuleColumns+` FROM capsules
		WHERE owner_id = ? AND trigger_kind = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, ownerID, string(trigger))

	c, err := scanCapsule(row, nil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	summary := c.ToSummary()
	return &summary, nil
}

// Delete removes a capsule and all of its frozen content in one transaction.
func (s *CapsuleStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM capsules WHERE id = ?`, id)
	if err != nil {
		return errors.NewStorage(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("capsule", id)
	}

	for _, table := range []string{"capsule_items", "capsule_categories", "capsule_tags", "capsule_settings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE capsule_id = ?`, id); err != nil {
			return errors.NewStorage(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapsule scans capsuleColumns (plus analytics_json when analyticsJSON is non-nil).
func scanCapsule(row rowScanner, analyticsJSON *sql.NullString) (*capsule.Capsule, error) {
	var (
		c                capsule.Capsule
		trigger          string
		includeSettings  int
		includeAnalytics int
	)
	dest := []any{
		&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.CreatedAt, &trigger,
		&includeSettings, &includeAnalytics, &c.ContentHash,
		&c.Stats.ItemCount, &c.Stats.CategoryCount, &c.Stats.TagCount, &c.Stats.FavoriteCount, &c.Stats.ByteSize,
	}
	if analyticsJSON != nil {
		dest = append(dest, analyticsJSON)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Trigger = capsule.Trigger(trigger)
	c.IncludeSettings = includeSettings != 0
	c.IncludeAnalytics = includeAnalytics != 0
	return &c, nil
}

func loadItems(ctx context.Context, tx *sql.Tx, capsuleID string) ([]capsule.Item, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, title, url, description, favicon,
			category_ids_json, tag_ids_json, favorite, visit_count, created_at, updated_at
		FROM capsule_items
		WHERE capsule_id = ?
		ORDER BY item_id
	`, capsuleID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	items := []capsule.Item{}
	for rows.Next() {
		var (
			it       capsule.Item
			catJSON  string
			tagJSON  string
			favorite int
		)
		if err := rows.Scan(
			&it.ID, &it.Title, &it.URL, &it.Description, &it.Favicon,
			&catJSON, &tagJSON, &favorite, &it.VisitCount, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, errors.NewStorage(err)
		}
		it.Favorite = favorite != 0
		if it.CategoryIDs, err = unmarshalIDs(catJSON); err != nil {
			return nil, errors.NewInternal(err)
		}
		if it.TagIDs, err = unmarshalIDs(tagJSON); err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return items, nil
}

func loadCategories(ctx context.Context, tx *sql.Tx, capsuleID string) ([]capsule.Category, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT category_id, name FROM capsule_categories WHERE capsule_id = ? ORDER BY category_id`, capsuleID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	out := []capsule.Category{}
	for rows.Next() {
		var c capsule.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

func loadTags(ctx context.Context, tx *sql.Tx, capsuleID string) ([]capsule.Tag, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT tag_id, name FROM capsule_tags WHERE capsule_id = ? ORDER BY tag_id`, capsuleID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	out := []capsule.Tag{}
	for rows.Next() {
		var t capsule.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

func loadSettings(ctx context.Context, tx *sql.Tx, capsuleID string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT key, value FROM capsule_settings WHERE capsule_id = ?`, capsuleID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.NewStorage(err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalIDs encodes an id set as a JSON array. nil encodes as [].
func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalIDs decodes a JSON id array. Never returns a nil slice.
func unmarshalIDs(s string) ([]string, error) {
	ids := []string{}
	if s == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
