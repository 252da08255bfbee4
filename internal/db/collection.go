package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ownerlock"
)

// Owner is a collection owner.
type Owner struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Collection is the live bookmark store.
//
// CRUD writes enter the owner's write section in locks, so they never
// interleave with a capture or restore holding the same section.
// ReadCollection and ReplaceCollection take no lock; their callers hold it.
type Collection struct {
	db    *sql.DB
	locks *ownerlock.Locks
}

// NewCollection wraps an initialized database. locks may be nil.
func NewCollection(db *sql.DB, locks *ownerlock.Locks) *Collection {
	return &Collection{db: db, locks: locks}
}

func (c *Collection) lock(ctx context.Context, ownerID string) (func(), error) {
	if c.locks == nil {
		return func() {}, nil
	}
	unlock, err := c.locks.Lock(ctx, ownerID)
	if err != nil {
		return nil, errors.NewCancelled("write")
	}
	return unlock, nil
}

// CreateOwner registers a new owner.
func (c *Collection) CreateOwner(ctx context.Context, o Owner) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO owners (id, name, created_at) VALUES (?, ?, ?)`, o.ID, o.Name, o.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("owner already exists: " + o.ID)
		}
		return errors.NewStorage(err)
	}
	return nil
}

// ListOwners returns all owners ordered by id.
func (c *Collection) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, created_at FROM owners ORDER BY id`)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	owners := []Owner{}
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, errors.NewStorage(err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return owners, nil
}

// OwnerExists reports whether ownerID is registered.
func (c *Collection) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE id = ? LIMIT 1`, ownerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStorage(err)
	}
	return true, nil
}

// ReadCollection reads everything ownerID has inside a single transaction,
// so all four reads observe the same database snapshot.
func (c *Collection) ReadCollection(ctx context.Context, ownerID string) (bookmark.Collection, error) {
	col := bookmark.Collection{
		Records:    []bookmark.Record{},
		Categories: []bookmark.Category{},
		Tags:       []bookmark.Tag{},
		Settings:   map[string]string{},
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return col, errors.NewStorage(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, title, url, description, favicon, category_ids_json, tag_ids_json,
			favorite, visit_count, created_at, updated_at
		FROM bookmarks WHERE owner_id = ? ORDER BY id
	`, ownerID)
	if err != nil {
		return col, errors.NewStorage(err)
	}
	for rows.Next() {
		r := bookmark.Record{OwnerID: ownerID}
		var (
			catJSON  string
			tagJSON  string
			favorite int
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.Description, &r.Favicon, &catJSON, &tagJSON,
			&favorite, &r.VisitCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			rows.Close()
			return col, errors.NewStorage(err)
		}
		r.Favorite = favorite != 0
		if r.CategoryIDs, err = unmarshalIDs(catJSON); err != nil {
			rows.Close()
			return col, errors.NewInternal(err)
		}
		if r.TagIDs, err = unmarshalIDs(tagJSON); err != nil {
			rows.Close()
			return col, errors.NewInternal(err)
		}
		col.Records = append(col.Records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return col, errors.NewStorage(err)
	}

	if err := readNamed(ctx, tx, `SELECT id, name FROM categories WHERE owner_id = ? ORDER BY id`, ownerID,
		func(id, name string) {
			col.Categories = append(col.Categories, bookmark.Category{ID: id, OwnerID: ownerID, Name: name})
		}); err != nil {
		return col, err
	}
	if err := readNamed(ctx, tx, `SELECT id, name FROM tags WHERE owner_id = ? ORDER BY id`, ownerID,
		func(id, name string) {
			col.Tags = append(col.Tags, bookmark.Tag{ID: id, OwnerID: ownerID, Name: name})
		}); err != nil {
		return col, err
	}
	if err := readNamed(ctx, tx, `SELECT key, value FROM settings WHERE owner_id = ?`, ownerID,
		func(k, v string) { col.Settings[k] = v }); err != nil {
		return col, err
	}

	if err := tx.Commit(); err != nil {
		return col, errors.NewStorage(err)
	}
	return col, nil
}

func readNamed(ctx context.Context, tx *sql.Tx, query, ownerID string, fn func(a, b string)) error {
	rows, err := tx.QueryContext(ctx, query, ownerID)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return errors.NewStorage(err)
		}
		fn(a, b)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// ReplaceCollection swaps ownerID's records, categories, tags, and settings
// for col in one transaction. Either everything changes or nothing does.
func (c *Collection) ReplaceCollection(ctx context.Context, ownerID string, col bookmark.Collection) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer tx.Rollback()

	for _, table := range []string{"bookmarks", "categories", "tags", "settings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = ?`, ownerID); err != nil {
			return errors.NewStorage(err)
		}
	}

	for _, r := range col.Records {
		r.OwnerID = ownerID
		if err := upsertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, cat := range col.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (owner_id, id, name) VALUES (?, ?, ?)`, ownerID, cat.ID, cat.Name); err != nil {
			return errors.NewStorage(err)
		}
	}
	for _, t := range col.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (owner_id, id, name) VALUES (?, ?, ?)`, ownerID, t.ID, t.Name); err != nil {
			return errors.NewStorage(err)
		}
	}
	for k, v := range col.Settings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (owner_id, key, value) VALUES (?, ?, ?)`, ownerID, k, v); err != nil {
			return errors.NewStorage(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, ex execer, r bookmark.Record) error {
	catJSON, err := marshalIDs(bookmark.SortedIDs(r.CategoryIDs))
	if err != nil {
		return errors.NewInternal(err)
	}
	tagJSON, err := marshalIDs(bookmark.SortedIDs(r.TagIDs))
	if err != nil {
		return errors.NewInternal(err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO bookmarks (
			owner_id, id, title, url, description, favicon, category_ids_json, tag_ids_json,
			favorite, visit_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			description = excluded.description,
			favicon = excluded.favicon,
			category_ids_json = excluded.category_ids_json,
			tag_ids_json = excluded.tag_ids_json,
			favorite = excluded.favorite,
			visit_count = excluded.visit_count,
			updated_at = excluded.updated_at
	`,
		r.OwnerID, r.ID, r.Title, r.URL, r.Description, r.Favicon, catJSON, tagJSON,
		boolToInt(r.Favorite), r.VisitCount, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// UpsertRecord inserts or updates one live record.
func (c *Collection) UpsertRecord(ctx context.Context, r bookmark.Record) error {
	unlock, err := c.lock(ctx, r.OwnerID)
	if err != nil {
		return err
	}
	defer unlock()
	return upsertRecord(ctx, c.db, r)
}

// DeleteRecord removes one live record. Returns NOT_FOUND if it does not exist.
func (c *Collection) DeleteRecord(ctx context.Context, ownerID, id string) error {
	unlock, err := c.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	result, err := c.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return errors.NewStorage(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("bookmark", id)
	}
	return nil
}

// UpsertCategory inserts or renames a category.
func (c *Collection) UpsertCategory(ctx context.Context, cat bookmark.Category) error {
	unlock, err := c.lock(ctx, cat.OwnerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO categories (owner_id, id, name) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, id) DO UPDATE SET name = excluded.name
	`, cat.OwnerID, cat.ID, cat.Name)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// UpsertTag inserts or renames a tag.
func (c *Collection) UpsertTag(ctx context.Context, t bookmark.Tag) error {
	unlock, err := c.lock(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tags (owner_id, id, name) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, id) DO UPDATE SET name = excluded.name
	`, t.OwnerID, t.ID, t.Name)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// SetSetting sets one owner setting.
func (c *Collection) SetSetting(ctx context.Context, ownerID, key, value string) error {
	unlock, err := c.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO settings (owner_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, key) DO UPDATE SET value = excluded.value
	`, ownerID, key, value)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}
