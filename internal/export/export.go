// Package export dumps one snapshot of the in-memory index to a SQLite
// database for offline inspection and interop. The dump is a one-way
// copy: nothing in the engine ever reads it back.
package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	taproot "github.com/jward/taproot"
)

// Store is the SQLite writer for snapshot dumps.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath with WAL mode
// enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB, for ad-hoc queries in tools and
// tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  revision        INTEGER NOT NULL,
  scope_count     INTEGER NOT NULL,
  binding_count   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  local_id        INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  parent_local_id INTEGER,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS bindings (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  local_id        INTEGER NOT NULL,
  scope_local_id  INTEGER NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  line            INTEGER,
  col             INTEGER,
  visibility_id   INTEGER NOT NULL,
  narrowing_id    INTEGER NOT NULL,
  visibility      TEXT NOT NULL,
  narrowing       TEXT NOT NULL,
  ambiguous       BOOLEAN DEFAULT FALSE,
  unreachable     BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS constraints (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  local_id        INTEGER NOT NULL,
  op              TEXT NOT NULL,
  lhs_local_id    INTEGER,
  rhs_local_id    INTEGER,
  display         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  kind            TEXT NOT NULL,
  message         TEXT NOT NULL,
  line            INTEGER,
  col             INTEGER
);

CREATE INDEX IF NOT EXISTS idx_scopes_file ON scopes(file_id);
CREATE INDEX IF NOT EXISTS idx_bindings_file ON bindings(file_id);
CREATE INDEX IF NOT EXISTS idx_bindings_name ON bindings(name);
CREATE INDEX IF NOT EXISTS idx_bindings_scope ON bindings(file_id, scope_local_id);
CREATE INDEX IF NOT EXISTS idx_constraints_file ON constraints(file_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_file ON diagnostics(file_id);
`

// Export opens dbPath, migrates the schema, and writes every file in
// snap. The whole dump is one transaction; a partially written database
// is never observable.
func Export(ctx context.Context, snap *taproot.Snapshot, dbPath string) error {
	st, err := Open(dbPath)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return st.WriteSnapshot(ctx, snap)
}

// WriteSnapshot replaces the database contents with the state of snap.
func (s *Store) WriteSnapshot(ctx context.Context, snap *taproot.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	// Dumps are whole-snapshot replacements; delete in reverse-dependency
	// order to respect FK constraints.
	for _, q := range []string{
		"DELETE FROM diagnostics",
		"DELETE FROM constraints",
		"DELETE FROM bindings",
		"DELETE FROM scopes",
		"DELETE FROM files",
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("write snapshot: clear: %w", err)
		}
	}

	for _, path := range snap.Files() {
		ix, err := snap.Index(path)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if err := writeFileTx(tx, snap.Revision(), path, ix); err != nil {
			return fmt.Errorf("write snapshot: %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write snapshot: commit: %w", err)
	}
	return nil
}

func writeFileTx(tx *sql.Tx, rev uint64, path string, ix *taproot.Index) error {
	res, err := tx.Exec(
		"INSERT INTO files (path, revision, scope_count, binding_count) VALUES (?, ?, ?, ?)",
		path, int64(rev), len(ix.Scopes), len(ix.Bindings),
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("file id: %w", err)
	}

	scopeStmt, err := tx.Prepare(
		"INSERT INTO scopes (file_id, local_id, kind, parent_local_id, start_line, start_col, end_line, end_col) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare scopes: %w", err)
	}
	defer scopeStmt.Close()
	for _, sc := range ix.Scopes {
		sl, scol := ix.Lines.Position(sc.Start)
		el, ecol := ix.Lines.Position(sc.End)
		var parent any
		if sc.Parent >= 0 {
			parent = int64(sc.Parent)
		}
		if _, err := scopeStmt.Exec(fileID, int64(sc.ID), sc.Kind.String(), parent, sl, scol, el, ecol); err != nil {
			return fmt.Errorf("insert scope %d: %w", sc.ID, err)
		}
	}

	bindStmt, err := tx.Prepare(
		"INSERT INTO bindings (file_id, local_id, scope_local_id, name, kind, line, col, visibility_id, narrowing_id, visibility, narrowing, ambiguous, unreachable) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare bindings: %w", err)
	}
	defer bindStmt.Close()
	for _, b := range ix.Bindings {
		line, col := ix.Lines.Position(b.Start)
		if _, err := bindStmt.Exec(
			fileID, int64(b.ID), int64(b.Scope), b.Name, b.Kind.String(), line, col,
			int64(b.Visibility), int64(b.Narrowing),
			ix.Graph.String(b.Visibility), ix.Graph.String(b.Narrowing),
			b.Ambiguous, b.Unreachable,
		); err != nil {
			return fmt.Errorf("insert binding %s: %w", b.Name, err)
		}
	}

	conStmt, err := tx.Prepare(
		"INSERT INTO constraints (file_id, local_id, op, lhs_local_id, rhs_local_id, display) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare constraints: %w", err)
	}
	defer conStmt.Close()
	for id := 0; id < ix.Graph.Len(); id++ {
		cid := taproot.ConstraintID(id)
		kind, lhs, rhs := ix.Graph.Operands(cid)
		var lhsV, rhsV any
		switch kind {
		case "and", "or":
			lhsV, rhsV = int64(lhs), int64(rhs)
		case "not":
			lhsV = int64(lhs)
		}
		if _, err := conStmt.Exec(fileID, int64(cid), kind, lhsV, rhsV, ix.Graph.String(cid)); err != nil {
			return fmt.Errorf("insert constraint %d: %w", id, err)
		}
	}

	diagStmt, err := tx.Prepare(
		"INSERT INTO diagnostics (file_id, kind, message, line, col) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare diagnostics: %w", err)
	}
	defer diagStmt.Close()
	for _, d := range ix.Diagnostics() {
		line, col := ix.Lines.Position(d.Start)
		if _, err := diagStmt.Exec(fileID, d.Kind, d.Message, line, col); err != nil {
			return fmt.Errorf("insert diagnostic: %w", err)
		}
	}

	return nil
}
