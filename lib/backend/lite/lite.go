// Teleport
// Copyright (C) 2025 Gravitational, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package lite implements a SQLite-backed storage backend. It is the
// on-disk reference implementation; production deployments supply their
// own driver behind the backend interface.
package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gravitational/scim/lib/backend"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS scim_resources (
	tenant_id     TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	document      TEXT NOT NULL,
	PRIMARY KEY (tenant_id, resource_type, resource_id)
);
`

// Config holds the lite backend configuration.
type Config struct {
	// Path is the SQLite database file. The special value ":memory:"
	// keeps the database in process memory.
	Path string
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing database path")
	}
	return nil
}

// Lite stores documents in a single SQLite table. Writes are serialised
// by the database; each operation is one transaction.
type Lite struct {
	db *sql.DB
}

// New opens (and if necessary initialises) a lite backend at the
// configured path.
func New(ctx context.Context, cfg Config) (*Lite, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, trace.Wrap(err, "opening database %s", cfg.Path)
	}
	// SQLite handles a single writer; more connections only add lock
	// contention errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "initialising database %s", cfg.Path)
	}
	return &Lite{db: db}, nil
}

// Put implements [backend.Backend].
func (l *Lite) Put(ctx context.Context, tenantID, resourceType, id string, doc json.RawMessage) error {
	if resourceType == "" || id == "" {
		return trace.BadParameter("missing resource type or id")
	}
	if len(doc) == 0 {
		return trace.BadParameter("missing document")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO scim_resources (tenant_id, resource_type, resource_id, document)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, resource_type, resource_id) DO UPDATE SET document = excluded.document`,
		tenantID, resourceType, id, string(doc))
	return trace.Wrap(err)
}

// Get implements [backend.Backend].
func (l *Lite) Get(ctx context.Context, tenantID, resourceType, id string) (json.RawMessage, error) {
	var doc string
	err := l.db.QueryRowContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		tenantID, resourceType, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trace.NotFound("%s %q not found", resourceType, id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return json.RawMessage(doc), nil
}

// Delete implements [backend.Backend].
func (l *Lite) Delete(ctx context.Context, tenantID, resourceType, id string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		tenantID, resourceType, id)
	if err != nil {
		return false, trace.Wrap(err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return deleted > 0, nil
}

// List implements [backend.Backend]. Results are ordered by id.
func (l *Lite) List(ctx context.Context, tenantID, resourceType string, query backend.ListQuery) ([]json.RawMessage, int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = ? AND resource_type = ? ORDER BY resource_id`,
		tenantID, resourceType)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, trace.Wrap(err)
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, trace.Wrap(err)
	}

	page, total := query.Page(docs)
	return page, total, nil
}

// FindByAttributeValue implements [backend.Backend]. Matching happens in
// Go after decoding so that the path and case-folding semantics are
// identical across drivers.
func (l *Lite) FindByAttributeValue(ctx context.Context, tenantID, resourceType, path, value string) (json.RawMessage, error) {
	doc, _, err := l.find(ctx,
		`SELECT document, tenant_id FROM scim_resources WHERE tenant_id = ? AND resource_type = ?`,
		path, value, tenantID, resourceType)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return doc, nil
}

// FindByAttributeValueGlobal implements [backend.GlobalFinder].
func (l *Lite) FindByAttributeValueGlobal(ctx context.Context, resourceType, path, value string) (json.RawMessage, string, error) {
	doc, tenantID, err := l.find(ctx,
		`SELECT document, tenant_id FROM scim_resources WHERE resource_type = ?`,
		path, value, resourceType)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	return doc, tenantID, nil
}

func (l *Lite) find(ctx context.Context, query, path, value string, args ...any) (json.RawMessage, string, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc, tenantID string
		if err := rows.Scan(&doc, &tenantID); err != nil {
			return nil, "", trace.Wrap(err)
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(doc), &decoded); err != nil {
			continue
		}
		if backend.MatchAttributeValue(decoded, path, value) {
			return json.RawMessage(doc), tenantID, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", trace.Wrap(err)
	}
	return nil, "", trace.NotFound("no document with %s=%q", path, value)
}

// Exists implements [backend.Backend].
func (l *Lite) Exists(ctx context.Context, tenantID, resourceType, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		tenantID, resourceType, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	return true, nil
}

// Close implements [backend.Backend].
func (l *Lite) Close() error {
	return trace.Wrap(l.db.Close())
}
