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

package schema

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/types"
)

// Registry indexes schemas by URN and by resource type. It is write-once:
// all registration happens before requests are served, reads are
// lock-cheap thereafter.
type Registry struct {
	mu             sync.RWMutex
	ordered        []*Schema
	byURN          map[string]*Schema
	byResourceType map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		byURN:          make(map[string]*Schema),
		byResourceType: make(map[string]*Schema),
	}
}

// Register validates a schema and indexes it under its URN and the given
// resource type tag. Registering a URN twice fails.
func (r *Registry) Register(resourceType string, s *Schema) error {
	if resourceType == "" {
		return trace.BadParameter("missing resource type tag")
	}
	if err := s.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byURN[s.ID]; ok {
		return trace.AlreadyExists("schema %q is already registered", s.ID)
	}
	if _, ok := r.byResourceType[resourceType]; ok {
		return trace.AlreadyExists("resource type %q already has a schema", resourceType)
	}

	r.ordered = append(r.ordered, s)
	r.byURN[s.ID] = s
	r.byResourceType[resourceType] = s
	return nil
}

// GetByURN fetches the schema registered under the given URN.
func (r *Registry) GetByURN(urn string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byURN[urn]
	if !ok {
		return nil, trace.NotFound("schema %q is not registered", urn)
	}
	return s, nil
}

// GetByResourceType fetches the schema registered for the given resource
// type tag.
func (r *Registry) GetByResourceType(resourceType string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byResourceType[resourceType]
	if !ok {
		return nil, trace.NotFound("resource type %q has no registered schema", resourceType)
	}
	return s, nil
}

// Schemas returns every registered schema in registration order.
func (r *Registry) Schemas() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Validate resolves the schema for the given resource type and runs the
// attribute contract validator over the document.
func (r *Registry) Validate(ctx context.Context, resourceType string, doc types.AttributeSet, params ValidateParams) error {
	s, err := r.GetByResourceType(resourceType)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(Validate(ctx, s, doc, params))
}
