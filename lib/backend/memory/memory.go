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

// Package memory implements an in-memory storage backend. It is a
// reference implementation intended for tests and single-process
// deployments.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/backend"
)

// Memory is a mutex-guarded map backend. Documents are deep-copied on the
// way in and out so callers can never alias stored state.
type Memory struct {
	mu sync.RWMutex
	// items maps backend.Key(tenant, type, id) to the stored document
	items map[string]json.RawMessage
}

// New creates an empty in-memory backend.
func New() *Memory {
	return &Memory{
		items: make(map[string]json.RawMessage),
	}
}

// Put implements [backend.Backend].
func (m *Memory) Put(ctx context.Context, tenantID, resourceType, id string, doc json.RawMessage) error {
	if err := checkKey(tenantID, resourceType, id); err != nil {
		return trace.Wrap(err)
	}
	if len(doc) == 0 {
		return trace.BadParameter("missing document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[backend.Key(tenantID, resourceType, id)] = slices.Clone(doc)
	return nil
}

// Get implements [backend.Backend].
func (m *Memory) Get(ctx context.Context, tenantID, resourceType, id string) (json.RawMessage, error) {
	if err := checkKey(tenantID, resourceType, id); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.items[backend.Key(tenantID, resourceType, id)]
	if !ok {
		return nil, trace.NotFound("%s %q not found", resourceType, id)
	}
	return slices.Clone(doc), nil
}

// Delete implements [backend.Backend].
func (m *Memory) Delete(ctx context.Context, tenantID, resourceType, id string) (bool, error) {
	if err := checkKey(tenantID, resourceType, id); err != nil {
		return false, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := backend.Key(tenantID, resourceType, id)
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

// List implements [backend.Backend]. Results are ordered by id.
func (m *Memory) List(ctx context.Context, tenantID, resourceType string, query backend.ListQuery) ([]json.RawMessage, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := backend.Key(tenantID, resourceType, "")
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	docs := make([]json.RawMessage, len(keys))
	for i, key := range keys {
		docs[i] = slices.Clone(m.items[key])
	}
	page, total := query.Page(docs)
	return page, total, nil
}

// FindByAttributeValue implements [backend.Backend].
func (m *Memory) FindByAttributeValue(ctx context.Context, tenantID, resourceType, path, value string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, _, err := m.scan(backend.Key(tenantID, resourceType, ""), path, value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return doc, nil
}

// FindByAttributeValueGlobal implements [backend.GlobalFinder], scanning
// every tenant's shard of the given resource type.
func (m *Memory) FindByAttributeValueGlobal(ctx context.Context, resourceType, path, value string) (json.RawMessage, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infix := backend.Separator + resourceType + backend.Separator
	for key, raw := range m.items {
		if !strings.Contains(key, infix) {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		if backend.MatchAttributeValue(decoded, path, value) {
			tenantID := key[:strings.Index(key, backend.Separator)]
			return slices.Clone(raw), tenantID, nil
		}
	}
	return nil, "", trace.NotFound("no %s with %s=%q", resourceType, path, value)
}

// scan walks one shard looking for a document matching path=value.
// Callers must hold at least the read lock.
func (m *Memory) scan(prefix, path, value string) (json.RawMessage, string, error) {
	for key, raw := range m.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		if backend.MatchAttributeValue(decoded, path, value) {
			return slices.Clone(raw), key, nil
		}
	}
	return nil, "", trace.NotFound("no document with %s=%q", path, value)
}

// Exists implements [backend.Backend].
func (m *Memory) Exists(ctx context.Context, tenantID, resourceType, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[backend.Key(tenantID, resourceType, id)]
	return ok, nil
}

// Close implements [backend.Backend].
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]json.RawMessage)
	return nil
}

func checkKey(tenantID, resourceType, id string) error {
	if resourceType == "" {
		return trace.BadParameter("missing resource type")
	}
	if id == "" {
		return trace.BadParameter("missing resource id")
	}
	_ = tenantID // empty tenant id addresses the default shard
	return nil
}
