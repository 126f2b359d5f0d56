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

// Package provider wraps the storage backend with optimistic-concurrency
// semantics. It is the sole producer of resource versions and the sole
// enforcer of If-Match preconditions.
package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/tenant"
	"github.com/gravitational/scim/lib/types"
)

// Config holds the provider configuration.
type Config struct {
	// Backend is the storage the provider writes through
	Backend backend.Backend
	// Clock is used to stamp lastModified on writes; defaults to the
	// real clock
	Clock clockwork.Clock
	// Logger is the provider's structured logger
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Backend == nil {
		return trace.BadParameter("missing Backend")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(scim.ComponentKey, scim.ComponentProvider)
	}
	return nil
}

// Provider implements versioned CRUD over the storage backend. The
// read-compare-write around If-Match runs under a provider-level mutex so
// the version check and the write appear atomic to callers sharing this
// instance; distributed deployments substitute a backend with native
// compare-and-swap.
type Provider struct {
	backend backend.Backend
	clock   clockwork.Clock
	logger  *slog.Logger

	// mu serialises read-modify-write sequences
	mu sync.Mutex
}

// New creates a versioned provider over the configured backend.
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		backend: cfg.Backend,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}, nil
}

// Backend exposes the underlying storage, mainly for uniqueness probes.
func (p *Provider) Backend() backend.Backend {
	return p.backend
}

// Create persists a new resource, allocating an id when the resource
// carries none, and stamps the content-hash version.
func (p *Provider) Create(ctx context.Context, tc tenant.Context, res *types.Resource) (*types.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res.ID == "" {
		res.ID = types.ResourceID(uuid.NewString())
	}

	exists, err := p.backend.Exists(ctx, tc.TenantID, res.ResourceType, string(res.ID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if exists {
		return nil, trace.AlreadyExists("%s %q already exists", res.ResourceType, res.ID)
	}

	if err := p.persist(ctx, tc, res); err != nil {
		return nil, trace.Wrap(err)
	}

	p.logger.DebugContext(ctx, "created resource",
		"resource_type", res.ResourceType,
		"resource_id", res.ID,
		"tenant", tc.TenantID,
	)
	return res, nil
}

// Get fetches a resource by id.
func (p *Provider) Get(ctx context.Context, tc tenant.Context, resourceType, id string) (*types.Resource, error) {
	raw, err := p.backend.Get(ctx, tc.TenantID, resourceType, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	res, err := decodeStored(resourceType, raw)
	return res, trace.Wrap(err)
}

// Replace overwrites a stored resource. When expectedVersion is non-empty
// it must match the currently stored version or the replace fails with a
// VersionMismatchError.
func (p *Provider) Replace(ctx context.Context, tc tenant.Context, res *types.Resource, expectedVersion string) (*types.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res.ID == "" {
		return nil, trace.BadParameter("cannot replace a resource without an id")
	}

	current, err := p.backend.Get(ctx, tc.TenantID, res.ResourceType, string(res.ID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := checkVersion(current, expectedVersion); err != nil {
		return nil, trace.Wrap(err)
	}

	if err := p.persist(ctx, tc, res); err != nil {
		return nil, trace.Wrap(err)
	}

	p.logger.DebugContext(ctx, "replaced resource",
		"resource_type", res.ResourceType,
		"resource_id", res.ID,
		"tenant", tc.TenantID,
	)
	return res, nil
}

// Delete removes a resource. Deleting a missing id is a no-op success
// unless a version precondition was supplied, in which case it is a not
// found error.
func (p *Provider) Delete(ctx context.Context, tc tenant.Context, resourceType, id, expectedVersion string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if expectedVersion != "" {
		current, err := p.backend.Get(ctx, tc.TenantID, resourceType, id)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := checkVersion(current, expectedVersion); err != nil {
			return trace.Wrap(err)
		}
	}

	deleted, err := p.backend.Delete(ctx, tc.TenantID, resourceType, id)
	if err != nil {
		return trace.Wrap(err)
	}
	if !deleted && expectedVersion != "" {
		return trace.NotFound("%s %q not found", resourceType, id)
	}

	p.logger.DebugContext(ctx, "deleted resource",
		"resource_type", resourceType,
		"resource_id", id,
		"tenant", tc.TenantID,
	)
	return nil
}

// List returns a page of resources plus the shard's total count.
func (p *Provider) List(ctx context.Context, tc tenant.Context, resourceType string, query backend.ListQuery) ([]*types.Resource, int, error) {
	raws, total, err := p.backend.List(ctx, tc.TenantID, resourceType, query)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}

	resources := make([]*types.Resource, 0, len(raws))
	for _, raw := range raws {
		res, err := decodeStored(resourceType, raw)
		if err != nil {
			return nil, 0, trace.Wrap(err)
		}
		resources = append(resources, res)
	}
	return resources, total, nil
}

// FindByAttribute returns the resource owning the given attribute value
// within the tenant, used for uniqueness probes.
func (p *Provider) FindByAttribute(ctx context.Context, tc tenant.Context, resourceType, path, value string) (*types.Resource, error) {
	raw, err := p.backend.FindByAttributeValue(ctx, tc.TenantID, resourceType, path, value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	res, err := decodeStored(resourceType, raw)
	return res, trace.Wrap(err)
}

// Exists reports whether a resource exists.
func (p *Provider) Exists(ctx context.Context, tc tenant.Context, resourceType, id string) (bool, error) {
	exists, err := p.backend.Exists(ctx, tc.TenantID, resourceType, id)
	return exists, trace.Wrap(err)
}

// persist stamps the content-hash version into meta and writes the
// flattened document through to storage. Callers hold p.mu.
func (p *Provider) persist(ctx context.Context, tc tenant.Context, res *types.Resource) error {
	if res.Meta == nil {
		res.Meta = types.NewMetadata(res.ResourceType, p.clock.Now())
	}

	doc, err := res.ToAttributeSet()
	if err != nil {
		return trace.Wrap(err)
	}
	version, err := ComputeVersion(doc)
	if err != nil {
		return trace.Wrap(err)
	}
	res.Meta.Version = version

	doc, err = res.ToAttributeSet()
	if err != nil {
		return trace.Wrap(err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(p.backend.Put(ctx, tc.TenantID, res.ResourceType, string(res.ID), data))
}

// checkVersion compares a client-supplied version precondition against
// the currently stored document.
func checkVersion(current json.RawMessage, expectedVersion string) error {
	if expectedVersion == "" {
		return nil
	}
	currentVersion := storedVersion(current)
	if NormalizeVersion(expectedVersion) != currentVersion {
		return trace.Wrap(&VersionMismatchError{
			Expected: NormalizeVersion(expectedVersion),
			Current:  currentVersion,
		})
	}
	return nil
}

// storedVersion extracts meta.version from a stored document.
func storedVersion(raw json.RawMessage) string {
	var doc struct {
		Meta struct {
			Version string `json:"version"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return doc.Meta.Version
}

// decodeStored revives a stored document into a typed resource. Stored
// documents were validated on the way in, so a decode failure indicates
// storage corruption rather than client error.
func decodeStored(resourceType string, raw json.RawMessage) (*types.Resource, error) {
	var doc types.AttributeSet
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, trace.Wrap(err, "decoding stored %s document", resourceType)
	}
	res, err := types.DecodeResource(resourceType, doc)
	return res, trace.Wrap(err)
}
