// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// Store implements storage.RecordStore on SQLite.
type Store struct {
	db      *sqlx.DB
	logger  *slog.Logger
	queries atomic.Int64
}

var _ storage.RecordStore = (*Store)(nil)

// table describes how one document kind is stored.
type table struct {
	name string
	// visible restricts rows to those that may be shown to users.
	visible string
}

var tables = map[core.Kind]table{
	core.KindPaper:       {name: "papers", visible: "1 = 1"},
	core.KindAchievement: {name: "achievements", visible: "status = 'published'"},
	core.KindRequirement: {name: "requirements", visible: "status IN ('active', 'published')"},
}

// row is the column set shared by every document table.
type row struct {
	ID       string         `db:"id"`
	Title    string         `db:"title"`
	Body     string         `db:"body"`
	URL      sql.NullString `db:"url"`
	Authors  sql.NullString `db:"authors"`
	Industry sql.NullString `db:"industry"`
	Status   string         `db:"status"`
}

const columns = "id, title, body, url, authors, industry, status"

// Open connects to the SQLite database at path and creates the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "sqlite-store"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	var stmts []string
	for _, kind := range core.Kinds {
		t := tables[kind]
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+t.name+` (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				url TEXT,
				authors TEXT,
				industry TEXT,
				status TEXT NOT NULL DEFAULT 'published',
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+t.name+`_status ON `+t.name+`(status)`,
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			s.logger.Error("schema statement failed", "sql", stmt, "err", err)
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FetchByIDs hydrates refs with one IN query per kind present.
func (s *Store) FetchByIDs(ctx context.Context, refs []core.ItemRef) ([]*core.CandidateItem, error) {
	groups := core.GroupByKind(refs)
	items := make([]*core.CandidateItem, 0, len(refs))

	for _, kind := range core.Kinds {
		ids := groups[kind]
		if len(ids) == 0 {
			continue
		}
		t := tables[kind]

		query, args, err := sqlx.In(
			"SELECT "+columns+" FROM "+t.name+" WHERE id IN (?) AND "+t.visible, ids)
		if err != nil {
			return nil, err
		}

		var rows []row
		s.queries.Add(1)
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", t.name, err)
		}
		for i := range rows {
			items = append(items, rows[i].toItem(kind))
		}
	}

	s.logger.Debug("hydrated records", "requested", len(refs), "found", len(items))
	return items, nil
}

// UpsertItems inserts or replaces documents. Meta["status"] sets the row
// status and defaults to "published".
func (s *Store) UpsertItems(ctx context.Context, items ...*core.CandidateItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		t, ok := tables[item.Kind]
		if !ok {
			return fmt.Errorf("%w: %q", core.ErrInvalidKind, item.Kind)
		}
		r := fromItem(item)
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO `+t.name+` (`+columns+`)
			 VALUES (:id, :title, :body, :url, :authors, :industry, :status)
			 ON CONFLICT(id) DO UPDATE SET
			   title = excluded.title, body = excluded.body, url = excluded.url,
			   authors = excluded.authors, industry = excluded.industry,
			   status = excluded.status, updated_at = CURRENT_TIMESTAMP`, r)
		if err != nil {
			return fmt.Errorf("upserting %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// ListItems returns visible documents of kind in ID order, after afterID.
func (s *Store) ListItems(ctx context.Context, kind core.Kind, afterID string, limit int) ([]*core.CandidateItem, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidKind, kind)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+columns+" FROM "+t.name+" WHERE id > ? AND "+t.visible+" ORDER BY id LIMIT ?",
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", t.name, err)
	}

	items := make([]*core.CandidateItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toItem(kind)
	}
	return items, nil
}

func (r *row) toItem(kind core.Kind) *core.CandidateItem {
	item := &core.CandidateItem{
		ID:    r.ID,
		Kind:  kind,
		Title: r.Title,
		Body:  r.Body,
		URL:   r.URL.String,
		Meta:  map[string]string{"status": r.Status},
	}
	if r.Authors.Valid {
		item.Meta["authors"] = r.Authors.String
	}
	if r.Industry.Valid {
		item.Meta["industry"] = r.Industry.String
	}
	return item
}

func fromItem(item *core.CandidateItem) row {
	r := row{
		ID:     item.ID,
		Title:  item.Title,
		Body:   item.Body,
		URL:    nullString(item.URL),
		Status: "published",
	}
	if item.Meta != nil {
		r.Authors = nullString(item.Meta["authors"])
		r.Industry = nullString(item.Meta["industry"])
		if status := item.Meta["status"]; status != "" {
			r.Status = status
		}
	}
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
