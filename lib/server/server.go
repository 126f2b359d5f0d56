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

// Package server implements the SCIM server orchestrator: it owns the
// schema registry and the per-resource-type handler table, routes
// operations through validation and the versioned provider, and stamps
// server-controlled metadata.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/patch"
	"github.com/gravitational/scim/lib/provider"
	"github.com/gravitational/scim/lib/schema"
	"github.com/gravitational/scim/lib/tenant"
	"github.com/gravitational/scim/lib/types"
)

// Op enumerates the operations a resource type may support.
type Op string

const (
	OpCreate  Op = "create"
	OpRead    Op = "read"
	OpReplace Op = "replace"
	OpPatch   Op = "patch"
	OpDelete  Op = "delete"
	OpList    Op = "list"
	OpSearch  Op = "search"
)

// allOps is the default allowed-operations set.
var allOps = []Op{OpCreate, OpRead, OpReplace, OpPatch, OpDelete, OpList, OpSearch}

// UnsupportedResourceTypeError indicates a request for a resource type
// with no registered handler.
type UnsupportedResourceTypeError struct {
	ResourceType string
}

// Error implements the error interface.
func (e *UnsupportedResourceTypeError) Error() string {
	return fmt.Sprintf("unsupported resource type %q", e.ResourceType)
}

// UnsupportedOperationError indicates a verb outside a resource type's
// allowed-operations set.
type UnsupportedOperationError struct {
	ResourceType string
	Op           Op
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("resource type %q does not support %s", e.ResourceType, e.Op)
}

// ResourceType describes one registered resource type: its schema, its
// collection endpoint name and the operations it supports.
type ResourceType struct {
	// Name is the resource type tag, e.g. "User"
	Name string
	// Description is surfaced in the discovery documents
	Description string
	// Schema is the resource type's primary schema
	Schema *schema.Schema
	// SchemaExtensions lists extension schema URNs advertised for the
	// type; extension payloads round-trip verbatim
	SchemaExtensions []string
	// AllowedOps restricts the supported operations; empty means all
	AllowedOps []Op
}

// Capabilities selects the optional protocol features advertised by the
// service provider configuration. ETag support is not listed: versioning
// is unconditional.
type Capabilities struct {
	Patch          bool
	Bulk           bool
	Filter         bool
	Sort           bool
	ChangePassword bool
}

// Config holds the server configuration.
type Config struct {
	// Backend is the storage backend
	Backend backend.Backend
	// BaseURL is the server's externally visible base URL
	BaseURL string
	// Strategy selects how tenants map onto generated URIs
	Strategy tenant.Strategy
	// Registry indexes schemas; a fresh one is created when nil
	Registry *schema.Registry
	// Clock stamps resource metadata; defaults to the real clock
	Clock clockwork.Clock
	// Logger is the server's structured logger
	Logger *slog.Logger
	// Capabilities are the advertised optional features
	Capabilities Capabilities
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Backend == nil {
		return trace.BadParameter("missing Backend")
	}
	if c.BaseURL == "" {
		return trace.BadParameter("missing BaseURL")
	}
	if err := c.Strategy.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if c.Registry == nil {
		c.Registry = schema.NewRegistry()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(scim.ComponentKey, scim.ComponentServer)
	}
	return nil
}

// Server routes SCIM operations for its registered resource types. The
// handler table is write-once: registration completes before requests
// are served.
type Server struct {
	registry *schema.Registry
	provider *provider.Provider
	refs     *tenant.RefBuilder
	clock    clockwork.Clock
	logger   *slog.Logger
	caps     Capabilities

	mu       sync.RWMutex
	handlers map[string]*resourceTypeHandler
}

type resourceTypeHandler struct {
	name        string
	description string
	schema      *schema.Schema
	extensions  []string
	allowed     map[Op]bool
}

// New creates a server with an empty handler table. Resource types must
// be registered before the first request.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	refs, err := tenant.NewRefBuilder(cfg.BaseURL, cfg.Strategy)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p, err := provider.New(provider.Config{
		Backend: cfg.Backend,
		Clock:   cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Server{
		registry: cfg.Registry,
		provider: p,
		refs:     refs,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		caps:     cfg.Capabilities,
		handlers: make(map[string]*resourceTypeHandler),
	}, nil
}

// NewWithCoreTypes creates a server with the RFC 7643 core User and
// Group types registered.
func NewWithCoreTypes(cfg Config) (*Server, error) {
	srv, err := New(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	userSchema, err := schema.CoreUserSchema()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := srv.RegisterResourceType(ResourceType{
		Name:        scim.ResourceTypeUser,
		Description: "User Account",
		Schema:      userSchema,
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	groupSchema, err := schema.CoreGroupSchema()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := srv.RegisterResourceType(ResourceType{
		Name:        scim.ResourceTypeGroup,
		Description: "Group",
		Schema:      groupSchema,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return srv, nil
}

// Registry exposes the schema registry for discovery documents.
func (s *Server) Registry() *schema.Registry {
	return s.registry
}

// RegisterResourceType registers a schema and handler for a resource
// type. Registration is not supported once requests are being served.
func (s *Server) RegisterResourceType(rt ResourceType) error {
	if rt.Name == "" {
		return trace.BadParameter("missing resource type name")
	}
	if rt.Schema == nil {
		return trace.BadParameter("resource type %q is missing a schema", rt.Name)
	}

	if err := s.registry.Register(rt.Name, rt.Schema); err != nil {
		return trace.Wrap(err)
	}

	ops := rt.AllowedOps
	if len(ops) == 0 {
		ops = allOps
	}
	allowed := make(map[Op]bool, len(ops))
	for _, op := range ops {
		allowed[op] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[rt.Name] = &resourceTypeHandler{
		name:        rt.Name,
		description: rt.Description,
		schema:      rt.Schema,
		extensions:  rt.SchemaExtensions,
		allowed:     allowed,
	}

	s.logger.DebugContext(context.Background(), "registered resource type",
		"resource_type", rt.Name,
		"schema", rt.Schema.ID,
	)
	return nil
}

// handlerFor resolves the handler for a resource type and verifies the
// operation is supported, before any validation work happens.
func (s *Server) handlerFor(resourceType string, op Op) (*resourceTypeHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[resourceType]
	if !ok {
		return nil, trace.Wrap(&UnsupportedResourceTypeError{ResourceType: resourceType})
	}
	if !h.allowed[op] {
		return nil, trace.Wrap(&UnsupportedOperationError{ResourceType: resourceType, Op: op})
	}
	return h, nil
}

// checkTenant enforces the strategy's tenant requirement before storage
// is touched.
func (s *Server) checkTenant(tc tenant.Context) error {
	if s.refs.Strategy().RequiresTenant() && tc.TenantID == "" {
		return trace.Wrap(&tenant.RequiredError{Strategy: s.refs.Strategy()})
	}
	return nil
}

// CreateResource validates the document, stamps fresh metadata with a
// server-allocated id and persists it through the versioned provider.
func (s *Server) CreateResource(ctx context.Context, tc tenant.Context, resourceType string, body json.RawMessage) (*types.Resource, error) {
	h, err := s.handlerFor(resourceType, OpCreate)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return nil, trace.Wrap(err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := schema.Validate(ctx, h.schema, doc, schema.ValidateParams{
		Op:         schema.OpCreate,
		Uniqueness: s.uniquenessProbe(tc, resourceType),
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := types.DecodeResource(resourceType, doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// The id is always server-generated; a client-supplied id is
	// discarded, externalId is preserved.
	res.ID = types.ResourceID(uuid.NewString())
	if resourceType == scim.ResourceTypeUser && res.Active == nil {
		active := true
		res.Active = &active
	}

	res.Meta = types.NewMetadata(resourceType, s.clock.Now())
	location, err := s.refs.ResourceURL(tc, resourceType, string(res.ID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	res.Meta.Location = location

	created, err := s.provider.Create(ctx, tc, res)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.render(tc, h, created)
}

// GetResource fetches a resource by id.
func (s *Server) GetResource(ctx context.Context, tc tenant.Context, resourceType, id string) (*types.Resource, error) {
	h, err := s.handlerFor(resourceType, OpRead)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := s.provider.Get(ctx, tc, resourceType, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.render(tc, h, res)
}

// ReplaceResource validates the replacement document against both the
// schema and the stored resource, carries server-controlled metadata
// forward and writes through the provider under the caller's version
// precondition.
func (s *Server) ReplaceResource(ctx context.Context, tc tenant.Context, resourceType, id string, body json.RawMessage, expectedVersion string) (*types.Resource, error) {
	h, err := s.handlerFor(resourceType, OpReplace)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return nil, trace.Wrap(err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	stored, err := s.provider.Get(ctx, tc, resourceType, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := s.prepareReplacement(ctx, tc, h, stored, doc, schema.OpReplace)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	replaced, err := s.provider.Replace(ctx, tc, res, expectedVersion)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.render(tc, h, replaced)
}

// PatchResource applies a PatchOp message to a deep clone of the stored
// document, then routes the result through the replace path: full
// validation, metadata touch and version bump. Without an explicit
// version precondition the write is guarded against the snapshot the
// patch was computed from.
func (s *Server) PatchResource(ctx context.Context, tc tenant.Context, resourceType, id string, body json.RawMessage, expectedVersion string) (*types.Resource, error) {
	h, err := s.handlerFor(resourceType, OpPatch)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return nil, trace.Wrap(err)
	}

	req, err := patch.ParseRequest(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	stored, err := s.provider.Get(ctx, tc, resourceType, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	storedDoc, err := stored.ToAttributeSet()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	patched, err := patch.Apply(req, storedDoc)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := s.prepareReplacement(ctx, tc, h, stored, patched, schema.OpPatch)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if expectedVersion == "" && stored.Meta != nil {
		expectedVersion = stored.Meta.Version
	}
	replaced, err := s.provider.Replace(ctx, tc, res, expectedVersion)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.render(tc, h, replaced)
}

// DeleteResource removes a resource under an optional version
// precondition.
func (s *Server) DeleteResource(ctx context.Context, tc tenant.Context, resourceType, id, expectedVersion string) error {
	if _, err := s.handlerFor(resourceType, OpDelete); err != nil {
		return trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.provider.Delete(ctx, tc, resourceType, id, expectedVersion))
}

// ListResources returns a page of resources plus the total count within
// the tenant's shard.
func (s *Server) ListResources(ctx context.Context, tc tenant.Context, resourceType string, query backend.ListQuery) ([]*types.Resource, int, error) {
	h, err := s.handlerFor(resourceType, OpList)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	if err := s.checkTenant(tc); err != nil {
		return nil, 0, trace.Wrap(err)
	}

	resources, total, err := s.provider.List(ctx, tc, resourceType, query)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	for _, res := range resources {
		if _, err := s.render(tc, h, res); err != nil {
			return nil, 0, trace.Wrap(err)
		}
	}
	return resources, total, nil
}

// prepareReplacement validates a replacement document against the stored
// resource and rebuilds the server-controlled metadata: created is
// carried forward, lastModified is touched, location is regenerated.
func (s *Server) prepareReplacement(ctx context.Context, tc tenant.Context, h *resourceTypeHandler, stored *types.Resource, doc types.AttributeSet, op schema.Op) (*types.Resource, error) {
	storedDoc, err := stored.ToAttributeSet()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := schema.Validate(ctx, h.schema, doc, schema.ValidateParams{
		Op:         op,
		Stored:     storedDoc,
		ResourceID: string(stored.ID),
		Uniqueness: s.uniquenessProbe(tc, h.name),
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := types.DecodeResource(h.name, doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	res.ID = stored.ID

	meta := types.NewMetadata(h.name, s.clock.Now())
	if stored.Meta != nil && stored.Meta.Created != nil {
		meta.Created = stored.Meta.Created
	}
	location, err := s.refs.ResourceURL(tc, h.name, string(res.ID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	meta.Location = location
	res.Meta = meta

	return res, nil
}

// render finalises a resource for the response: member $ref injection
// under the tenant strategy and scrubbing of writeOnly and never-returned
// attributes.
func (s *Server) render(tc tenant.Context, h *resourceTypeHandler, res *types.Resource) (*types.Resource, error) {
	if err := s.refs.InjectRefs(tc, res); err != nil {
		return nil, trace.Wrap(err)
	}

	for i := range h.schema.Attributes {
		attr := &h.schema.Attributes[i]
		if attr.Mutability != schema.MutabilityWriteOnly && attr.Returned != schema.ReturnedNever {
			continue
		}
		for key := range res.Attributes {
			if strings.EqualFold(key, attr.Name) {
				delete(res.Attributes, key)
			}
		}
	}
	return res, nil
}

// uniquenessProbe adapts the storage backend to the validator's
// uniqueness checker for one (tenant, resource type) pair.
func (s *Server) uniquenessProbe(tc tenant.Context, resourceType string) schema.UniquenessChecker {
	return &uniquenessProbe{
		backend:      s.provider.Backend(),
		tc:           tc,
		resourceType: resourceType,
	}
}

type uniquenessProbe struct {
	backend      backend.Backend
	tc           tenant.Context
	resourceType string
}

// FindOwner implements [schema.UniquenessChecker]. Global probes use the
// backend's cross-tenant capability when available and degrade to a
// tenant-scoped probe otherwise.
func (u *uniquenessProbe) FindOwner(ctx context.Context, path, value string, global bool) (string, bool, error) {
	var raw json.RawMessage
	var err error

	if finder, ok := u.backend.(backend.GlobalFinder); global && ok {
		raw, _, err = finder.FindByAttributeValueGlobal(ctx, u.resourceType, path, value)
	} else {
		raw, err = u.backend.FindByAttributeValue(ctx, u.tc.TenantID, u.resourceType, path, value)
	}
	if err != nil {
		if trace.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, trace.Wrap(err)
	}

	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false, trace.Wrap(err)
	}
	return doc.ID, true, nil
}

// decodeBody parses a request body into an attribute set, rejecting
// non-object roots.
func decodeBody(body json.RawMessage) (types.AttributeSet, error) {
	if len(body) == 0 {
		return nil, trace.BadParameter("missing request body")
	}
	var doc types.AttributeSet
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, trace.BadParameter("malformed SCIM document: %v", err)
	}
	if doc == nil {
		return nil, trace.BadParameter("SCIM document root must be a JSON object")
	}
	return doc, nil
}

// IsUnsupportedResourceType reports whether err carries an
// UnsupportedResourceTypeError.
func IsUnsupportedResourceType(err error) bool {
	var rt *UnsupportedResourceTypeError
	return errors.As(err, &rt)
}

// IsUnsupportedOperation reports whether err carries an
// UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	var op *UnsupportedOperationError
	return errors.As(err, &op)
}
