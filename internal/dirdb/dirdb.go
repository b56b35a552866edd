// Package dirdb stores the virtual directory tree of a single sandbox in a
// SQLite file living next to the backing files it describes.
package dirdb

import (
	"database/sql"
	"strings"
	"time"

	"emperror.dev/errors"
	_ "modernc.org/sqlite"

	"github.com/veilfs/veilfs/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS "entries" (
	"id" integer,
	"parent_id" integer NOT NULL,
	"name" text NOT NULL,
	"data_path" text NOT NULL DEFAULT '',
	"mtime" integer NOT NULL,
	PRIMARY KEY (id AUTOINCREMENT),
	UNIQUE (parent_id, name)
);

-- Two live entries must never share a backing file.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_data_path ON entries(data_path) WHERE data_path <> '';

CREATE TABLE IF NOT EXISTS "counters" (
	"name" text,
	"value" integer NOT NULL,
	PRIMARY KEY (name)
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('path', 0);

-- The root of the tree always exists and can never be removed. Giving it a
-- parent outside the id space keeps it out of every child enumeration.
INSERT OR IGNORE INTO entries (id, parent_id, name, data_path, mtime) VALUES (0, -1, '', '', 0);
`

// Database implements store.DirectoryDatabase on a local SQLite file.
type Database struct {
	db *sql.DB
}

var _ store.DirectoryDatabase = (*Database)(nil)

// Open opens, creating and migrating if needed, the directory database at
// the given host path. The caller upholds single-writer semantics; the
// connection pool is capped at one to make that explicit.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "dirdb: could not open database file")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "dirdb: failed to initialize base schema")
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return errors.WithStack(d.db.Close())
}

func (d *Database) GetByPath(p string) (store.FileID, error) {
	id := store.RootFileID
	p = strings.Trim(p, "/")
	if p == "" {
		return id, nil
	}
	for _, name := range strings.Split(p, "/") {
		child, err := d.GetChild(id, name)
		if err != nil {
			return 0, err
		}
		id = child
	}
	return id, nil
}

func (d *Database) GetInfo(id store.FileID) (*store.FileInfo, error) {
	row := d.db.QueryRow(`SELECT parent_id, name, data_path, mtime FROM entries WHERE id = ?`, int64(id))
	var info store.FileInfo
	var parent, mtime int64
	if err := row.Scan(&parent, &info.Name, &info.DataPath, &mtime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, errors.Wrap(err, "dirdb: failed to load entry")
	}
	info.ParentID = store.FileID(parent)
	info.ModTime = time.Unix(0, mtime)
	return &info, nil
}

func (d *Database) Add(info *store.FileInfo) (store.FileID, error) {
	res, err := d.db.Exec(
		`INSERT INTO entries (parent_id, name, data_path, mtime) VALUES (?, ?, ?, ?)`,
		int64(info.ParentID), info.Name, info.DataPath, info.ModTime.UnixNano(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "dirdb: failed to insert entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "dirdb: failed to read id of inserted entry")
	}
	return store.FileID(id), nil
}

func (d *Database) Update(id store.FileID, info *store.FileInfo) error {
	res, err := d.db.Exec(
		`UPDATE entries SET parent_id = ?, name = ?, data_path = ?, mtime = ? WHERE id = ? AND id <> 0`,
		int64(info.ParentID), info.Name, info.DataPath, info.ModTime.UnixNano(), int64(id),
	)
	if err != nil {
		return errors.Wrap(err, "dirdb: failed to update entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

func (d *Database) Remove(id store.FileID) error {
	res, err := d.db.Exec(`DELETE FROM entries WHERE id = ? AND id <> 0`, int64(id))
	if err != nil {
		return errors.Wrap(err, "dirdb: failed to remove entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

func (d *Database) ListChildren(id store.FileID) ([]store.FileID, error) {
	rows, err := d.db.Query(`SELECT id FROM entries WHERE parent_id = ? ORDER BY id`, int64(id))
	if err != nil {
		return nil, errors.Wrap(err, "dirdb: failed to enumerate children")
	}
	defer rows.Close()

	var out []store.FileID
	for rows.Next() {
		var cid int64
		if err := rows.Scan(&cid); err != nil {
			return nil, errors.Wrap(err, "dirdb: failed to scan child id")
		}
		out = append(out, store.FileID(cid))
	}
	return out, errors.Wrap(rows.Err(), "dirdb: failed to enumerate children")
}

func (d *Database) GetChild(parent store.FileID, name string) (store.FileID, error) {
	row := d.db.QueryRow(`SELECT id FROM entries WHERE parent_id = ? AND name = ?`, int64(parent), name)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrEntryNotFound
		}
		return 0, errors.Wrap(err, "dirdb: failed to look up child")
	}
	return store.FileID(id), nil
}

func (d *Database) Touch(id store.FileID, t time.Time) error {
	res, err := d.db.Exec(`UPDATE entries SET mtime = ? WHERE id = ?`, t.UnixNano(), int64(id))
	if err != nil {
		return errors.Wrap(err, "dirdb: failed to touch entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

// NextCounter advances the monotonic path counter and returns its new
// value. The counter survives Wipe so already issued backing paths are
// never reissued.
func (d *Database) NextCounter() (int64, error) {
	row := d.db.QueryRow(`UPDATE counters SET value = value + 1 WHERE name = 'path' RETURNING value`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, errors.Wrap(err, "dirdb: failed to advance counter")
	}
	return v, nil
}

// OverwriteMove re-points dest at src's backing file and removes src in one
// transaction. Removing src first keeps the unique backing path index
// satisfied at every step.
func (d *Database) OverwriteMove(src, dest store.FileID) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(err, "dirdb: failed to begin transaction")
	}
	defer tx.Rollback()

	var dataPath string
	var mtime int64
	if err := tx.QueryRow(`SELECT data_path, mtime FROM entries WHERE id = ? AND id <> 0`, int64(src)).Scan(&dataPath, &mtime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrEntryNotFound
		}
		return errors.Wrap(err, "dirdb: failed to load move source")
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE id = ?`, int64(src)); err != nil {
		return errors.Wrap(err, "dirdb: failed to remove move source")
	}
	res, err := tx.Exec(`UPDATE entries SET data_path = ?, mtime = ? WHERE id = ? AND id <> 0`, dataPath, mtime, int64(dest))
	if err != nil {
		return errors.Wrap(err, "dirdb: failed to update move destination")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrEntryNotFound
	}
	return errors.Wrap(tx.Commit(), "dirdb: failed to commit move")
}

// Wipe removes every entry except the root. The counter is left untouched.
func (d *Database) Wipe() error {
	_, err := d.db.Exec(`DELETE FROM entries WHERE id <> 0`)
	return errors.Wrap(err, "dirdb: failed to wipe entries")
}
