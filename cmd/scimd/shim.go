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

package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/handler"
	"github.com/gravitational/scim/lib/tenant"
)

// contentTypeSCIM is the media type of SCIM protocol payloads.
const contentTypeSCIM = "application/scim+json"

// httpShim is a thin HTTP front-end onto the transport-agnostic
// handler: it resolves the tenant from the request shape, maps methods
// and paths onto verbs and surfaces the version as an ETag header.
type httpShim struct {
	handler  *handler.Handler
	strategy tenant.Strategy
	logger   *slog.Logger
}

func (s *httpShim) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parse(w, r)
	if !ok {
		return
	}

	resp := s.handler.Do(r.Context(), *req)
	if resp.Error != nil {
		s.logger.DebugContext(r.Context(), "request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", resp.Status,
		)
	}

	w.Header().Set("Content-Type", contentTypeSCIM)
	if resp.Metadata != nil {
		w.Header().Set("ETag", resp.Metadata.ETag)
	}
	w.WriteHeader(resp.Status)

	if resp.Error != nil {
		writeJSON(w, resp.Error)
		return
	}
	if len(resp.Data) > 0 {
		w.Write(resp.Data)
	}
}

// parse maps an HTTP request onto a handler request. It replies directly
// and returns ok=false on transport-level failures.
func (s *httpShim) parse(w http.ResponseWriter, r *http.Request) (*handler.Request, bool) {
	tc, path, ok := s.resolveTenant(r)
	if !ok {
		http.Error(w, "tenant could not be resolved", http.StatusBadRequest)
		return nil, false
	}

	rest, ok := strings.CutPrefix(path, "/v2/")
	if !ok {
		http.NotFound(w, r)
		return nil, false
	}
	collection, id, _ := strings.Cut(rest, "/")

	req := handler.Request{
		ID:              id,
		Tenant:          tc,
		ExpectedVersion: strings.TrimSpace(r.Header.Get("If-Match")),
		IfNoneMatch:     strings.TrimSpace(r.Header.Get("If-None-Match")),
	}

	switch collection {
	case "ServiceProviderConfig":
		req.Verb = handler.VerbServiceProviderConfig
		return &req, true
	case "ResourceTypes":
		req.Verb = handler.VerbResourceTypes
		return &req, true
	case "Schemas":
		req.Verb = handler.VerbSchemas
		return &req, true
	}

	// Collection endpoints are the pluralised resource type name.
	req.ResourceType = strings.TrimSuffix(collection, "s")
	if req.ResourceType == "" {
		http.NotFound(w, r)
		return nil, false
	}

	switch {
	case r.Method == http.MethodPost && id == "":
		req.Verb = handler.VerbCreate
	case r.Method == http.MethodGet && id == "":
		req.Verb = handler.VerbList
		req.Query = parseListQuery(r)
	case r.Method == http.MethodGet:
		req.Verb = handler.VerbGet
	case r.Method == http.MethodPut && id != "":
		req.Verb = handler.VerbReplace
	case r.Method == http.MethodPatch && id != "":
		req.Verb = handler.VerbPatch
	case r.Method == http.MethodDelete && id != "":
		req.Verb = handler.VerbDelete
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	if req.Verb == handler.VerbCreate || req.Verb == handler.VerbReplace || req.Verb == handler.VerbPatch {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return nil, false
		}
		req.Body = body
	}
	return &req, true
}

// resolveTenant extracts the tenant identity from the request under the
// configured strategy and returns the path with any tenant prefix
// stripped.
func (s *httpShim) resolveTenant(r *http.Request) (tenant.Context, string, bool) {
	switch s.strategy {
	case tenant.StrategySubdomain:
		host := r.Host
		if h, _, ok := strings.Cut(host, ":"); ok {
			host = h
		}
		label, _, ok := strings.Cut(host, ".")
		if !ok || label == "" {
			return tenant.Context{}, "", false
		}
		return tenant.Context{TenantID: label}, r.URL.Path, true

	case tenant.StrategyPathBased:
		trimmed := strings.TrimPrefix(r.URL.Path, "/")
		tenantID, rest, ok := strings.Cut(trimmed, "/")
		if !ok || tenantID == "" {
			return tenant.Context{}, "", false
		}
		return tenant.Context{TenantID: tenantID}, "/" + rest, true

	default:
		return tenant.Context{}, r.URL.Path, true
	}
}

func parseListQuery(r *http.Request) backend.ListQuery {
	var query backend.ListQuery
	if v, err := strconv.Atoi(r.URL.Query().Get("startIndex")); err == nil {
		query.StartIndex = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil {
		query.Count = v
	}
	return query
}

func writeJSON(w http.ResponseWriter, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	w.Write(data)
}
