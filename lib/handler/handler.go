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

// Package handler is the transport-agnostic operation surface: it maps
// verb-shaped requests onto server operations and folds the error
// taxonomy into SCIM error documents with protocol status codes. HTTP,
// gRPC or test harness front-ends all speak to the same Do entry point.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/provider"
	"github.com/gravitational/scim/lib/server"
	"github.com/gravitational/scim/lib/tenant"
	"github.com/gravitational/scim/lib/types"
)

// Verb enumerates the protocol operations the handler routes.
type Verb string

const (
	VerbCreate                Verb = "create"
	VerbGet                   Verb = "get"
	VerbReplace               Verb = "replace"
	VerbPatch                 Verb = "patch"
	VerbDelete                Verb = "delete"
	VerbList                  Verb = "list"
	VerbServiceProviderConfig Verb = "serviceProviderConfig"
	VerbResourceTypes         Verb = "resourceTypes"
	VerbSchemas               Verb = "schemas"
)

// Request is one protocol operation, already stripped of transport
// framing. ExpectedVersion carries the If-Match precondition with ETag
// decoration intact; the version layer normalises it.
type Request struct {
	// Verb selects the operation
	Verb Verb
	// ResourceType names the target collection, e.g. "User"
	ResourceType string
	// ID is the target resource id for single-resource verbs
	ID string
	// Body is the raw request document for create, replace and patch
	Body json.RawMessage
	// ExpectedVersion is the If-Match precondition, empty when absent
	ExpectedVersion string
	// IfNoneMatch is the If-None-Match precondition for conditional
	// reads, empty when absent
	IfNoneMatch string
	// Tenant carries the resolved tenant and client identity
	Tenant tenant.Context
	// Query carries list pagination
	Query backend.ListQuery
}

// ResponseMetadata carries the versioning side-channel of a successful
// response.
type ResponseMetadata struct {
	// Version is the bare resource version
	Version string
	// ETag is the version rendered as a weak entity tag for transports
	// that surface it as a header
	ETag string
}

// Response is the transport-neutral outcome of one operation.
type Response struct {
	// Success is true when the operation completed
	Success bool
	// Status is the suggested protocol status code
	Status int
	// Data is the serialised response document, nil for delete
	Data json.RawMessage
	// Metadata carries the resource version on single-resource success
	Metadata *ResponseMetadata
	// Error is the SCIM error document on failure
	Error *types.ErrorResponse
}

// Config holds the handler configuration.
type Config struct {
	// Server is the orchestrator the handler routes into
	Server *server.Server
	// Clock is kept alongside for transports needing response dating
	Clock clockwork.Clock
	// Logger is the handler's structured logger
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Server == nil {
		return trace.BadParameter("missing Server")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(scim.ComponentKey, scim.ComponentHandler)
	}
	return nil
}

// Handler routes protocol operations into the server.
type Handler struct {
	server *server.Server
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a handler over a server.
func New(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Handler{
		server: cfg.Server,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Do executes one operation. Failures never escape as errors: every
// outcome is a Response, with failures folded into SCIM error documents.
func (h *Handler) Do(ctx context.Context, req Request) *Response {
	resp, err := h.dispatch(ctx, req)
	if err != nil {
		resp = h.errorResponse(ctx, req, err)
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req Request) (*Response, error) {
	switch req.Verb {
	case VerbCreate:
		res, err := h.server.CreateResource(ctx, req.Tenant, req.ResourceType, req.Body)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return resourceResponse(res, http.StatusCreated)

	case VerbGet:
		res, err := h.server.GetResource(ctx, req.Tenant, req.ResourceType, req.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if req.IfNoneMatch != "" && res.Meta != nil &&
			provider.NormalizeVersion(req.IfNoneMatch) == res.Meta.Version {
			// Conditional read against an unchanged resource: no body.
			return &Response{
				Success: true,
				Status:  http.StatusNotModified,
				Metadata: &ResponseMetadata{
					Version: res.Meta.Version,
					ETag:    provider.WeakETag(res.Meta.Version),
				},
			}, nil
		}
		return resourceResponse(res, http.StatusOK)

	case VerbReplace:
		res, err := h.server.ReplaceResource(ctx, req.Tenant, req.ResourceType, req.ID, req.Body, req.ExpectedVersion)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return resourceResponse(res, http.StatusOK)

	case VerbPatch:
		res, err := h.server.PatchResource(ctx, req.Tenant, req.ResourceType, req.ID, req.Body, req.ExpectedVersion)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return resourceResponse(res, http.StatusOK)

	case VerbDelete:
		if err := h.server.DeleteResource(ctx, req.Tenant, req.ResourceType, req.ID, req.ExpectedVersion); err != nil {
			return nil, trace.Wrap(err)
		}
		return &Response{Success: true, Status: http.StatusNoContent}, nil

	case VerbList:
		resources, total, err := h.server.ListResources(ctx, req.Tenant, req.ResourceType, req.Query)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		startIndex := req.Query.StartIndex
		if startIndex < 1 {
			startIndex = 1
		}
		body, err := types.MarshalResourceList(resources, total, startIndex)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return &Response{Success: true, Status: http.StatusOK, Data: body}, nil

	case VerbServiceProviderConfig:
		return jsonResponse(h.server.ServiceProviderConfig())

	case VerbResourceTypes:
		docs, err := h.server.ResourceTypes(req.Tenant)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return jsonResponse(docs)

	case VerbSchemas:
		return jsonResponse(h.server.Schemas())

	default:
		return nil, trace.BadParameter("unknown verb %q", req.Verb)
	}
}

// resourceResponse serialises a single resource and lifts its version
// into the response metadata.
func resourceResponse(res *types.Resource, status int) (*Response, error) {
	body, err := types.MarshalResource(res)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp := &Response{Success: true, Status: status, Data: body}
	if res.Meta != nil && res.Meta.Version != "" {
		resp.Metadata = &ResponseMetadata{
			Version: res.Meta.Version,
			ETag:    provider.WeakETag(res.Meta.Version),
		}
	}
	return resp, nil
}

func jsonResponse(doc any) (*Response, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Response{Success: true, Status: http.StatusOK, Data: body}, nil
}

// errorResponse folds the error taxonomy into a SCIM error document and
// a protocol status code.
func (h *Handler) errorResponse(ctx context.Context, req Request, err error) *Response {
	status, scimType := classify(err)

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "operation failed",
			"verb", req.Verb,
			"resource_type", req.ResourceType,
			"error", err,
		)
	} else {
		h.logger.DebugContext(ctx, "operation rejected",
			"verb", req.Verb,
			"resource_type", req.ResourceType,
			"status", status,
			"error", err,
		)
	}

	detail := trace.UserMessage(err)
	if status == http.StatusInternalServerError {
		// Storage and serialisation faults are logged in full; clients
		// get a generic detail.
		detail = "internal server error"
	}

	return &Response{
		Status: status,
		Error:  types.NewErrorResponse(strconv.Itoa(status), scimType, detail),
	}
}

// classify maps an error onto (status, scimType). The order matters:
// specific taxonomy members are matched before the generic trace
// predicates.
func classify(err error) (int, string) {
	var constraint *types.ConstraintError
	if errors.As(err, &constraint) {
		switch {
		case constraint.IsUniqueness():
			return http.StatusConflict, "uniqueness"
		case constraint.IsMutability():
			return http.StatusBadRequest, "mutability"
		default:
			return http.StatusBadRequest, "invalidValue"
		}
	}

	if provider.IsVersionMismatch(err) {
		return http.StatusPreconditionFailed, ""
	}
	if tenant.IsRequiredError(err) {
		return http.StatusBadRequest, "invalidValue"
	}
	if server.IsUnsupportedOperation(err) {
		return http.StatusNotImplemented, ""
	}
	if server.IsUnsupportedResourceType(err) {
		return http.StatusNotFound, ""
	}

	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound, ""
	case trace.IsAlreadyExists(err):
		return http.StatusConflict, "uniqueness"
	case trace.IsBadParameter(err):
		return http.StatusBadRequest, "invalidSyntax"
	}
	return http.StatusInternalServerError, ""
}
