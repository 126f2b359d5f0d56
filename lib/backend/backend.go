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

// Package backend provides the storage abstraction consumed by the
// versioned provider. Backends store opaque JSON documents sharded by
// tenant and resource type; the tenant id is an opaque sharding key and
// lookups never cross tenants.
package backend

import (
	"context"
	"encoding/json"
	"strings"
)

// Separator joins the components of a storage key.
const Separator = "/"

// Key builds the canonical storage key for a resource.
func Key(tenantID, resourceType, id string) string {
	return strings.Join([]string{tenantID, resourceType, id}, Separator)
}

// ListQuery selects a page of resources. StartIndex is 1-based, as per
// RFC 7644 section 3.4.2; Count <= 0 means no page limit.
type ListQuery struct {
	StartIndex int
	Count      int
}

// Page clips a full result set to the query's window and returns the page
// along with the total size of the set.
func (q ListQuery) Page(docs []json.RawMessage) ([]json.RawMessage, int) {
	total := len(docs)
	start := q.StartIndex - 1
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	docs = docs[start:]
	if q.Count > 0 && len(docs) > q.Count {
		docs = docs[:q.Count]
	}
	return docs, total
}

// Backend implements abstraction over local or remote resource storage.
// Every operation must be atomic; drivers may lock internally. Documents
// are opaque JSON, keyed by (tenant, resource type, id).
type Backend interface {
	// Put stores a document, replacing any existing one under the key
	Put(ctx context.Context, tenantID, resourceType, id string, doc json.RawMessage) error

	// Get returns a single document or a not found error
	Get(ctx context.Context, tenantID, resourceType, id string) (json.RawMessage, error)

	// Delete removes a document, reporting whether one existed
	Delete(ctx context.Context, tenantID, resourceType, id string) (bool, error)

	// List returns a page of documents in stable id order plus the total
	// count within the (tenant, resource type) shard
	List(ctx context.Context, tenantID, resourceType string, query ListQuery) ([]json.RawMessage, int, error)

	// FindByAttributeValue returns the first document whose attribute at
	// the given dotted path equals the given value, or a not found error.
	// String comparison is case-insensitive; multi-valued attributes
	// match if any element matches.
	FindByAttributeValue(ctx context.Context, tenantID, resourceType, path, value string) (json.RawMessage, error)

	// Exists reports whether a document exists under the key
	Exists(ctx context.Context, tenantID, resourceType, id string) (bool, error)

	// Close releases all resources held by the backend
	Close() error
}

// GlobalFinder is an optional capability for backends that can probe an
// attribute value across every tenant, used for globally-unique
// attributes. Backends without it fall back to tenant-scoped probes.
type GlobalFinder interface {
	// FindByAttributeValueGlobal is FindByAttributeValue without the
	// tenant restriction; it also reports the owning tenant.
	FindByAttributeValueGlobal(ctx context.Context, resourceType, path, value string) (doc json.RawMessage, tenantID string, err error)
}

// MatchAttributeValue walks a decoded document along a dotted attribute
// path and reports whether the value at that path equals the probe value.
// The walk is case-insensitive in both member names and string values;
// arrays match if any element matches.
func MatchAttributeValue(doc map[string]any, path, value string) bool {
	return matchPath(doc, strings.Split(path, "."), value)
}

func matchPath(node any, parts []string, value string) bool {
	if len(parts) == 0 {
		return matchScalar(node, value)
	}
	switch v := node.(type) {
	case map[string]any:
		for key, member := range v {
			if strings.EqualFold(key, parts[0]) {
				return matchPath(member, parts[1:], value)
			}
		}
	case []any:
		for _, elem := range v {
			if matchPath(elem, parts, value) {
				return true
			}
		}
	}
	return false
}

func matchScalar(node any, value string) bool {
	switch v := node.(type) {
	case string:
		return strings.EqualFold(v, value)
	case []any:
		for _, elem := range v {
			if matchScalar(elem, value) {
				return true
			}
		}
	case float64, bool:
		data, err := json.Marshal(v)
		return err == nil && string(data) == value
	}
	return false
}
