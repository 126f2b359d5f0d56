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

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/backend/memory"
	"github.com/gravitational/scim/lib/server"
	"github.com/gravitational/scim/lib/tenant"
	"github.com/gravitational/scim/lib/types"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	srv, err := server.NewWithCoreTypes(server.Config{
		Backend:      memory.New(),
		BaseURL:      "https://scim.example.com",
		Strategy:     tenant.StrategySingle,
		Capabilities: server.Capabilities{Patch: true},
	})
	require.NoError(t, err)

	h, err := New(Config{Server: srv})
	require.NoError(t, err)
	return h
}

func createUser(t *testing.T, h *Handler, userName string) (id, version string) {
	t.Helper()
	resp := h.Do(context.Background(), Request{
		Verb:         VerbCreate,
		ResourceType: "User",
		Body:         json.RawMessage(`{"userName": "` + userName + `"}`),
	})
	require.True(t, resp.Success, "create failed: %+v", resp.Error)
	require.Equal(t, http.StatusCreated, resp.Status)

	var doc struct {
		ID   string `json:"id"`
		Meta struct {
			Version string `json:"version"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &doc))
	return doc.ID, doc.Meta.Version
}

func TestHandlerLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	id, version := createUser(t, h, "bjensen@example.com")

	t.Run("create carries version metadata", func(t *testing.T) {
		resp := h.Do(ctx, Request{Verb: VerbGet, ResourceType: "User", ID: id})
		require.True(t, resp.Success)
		require.NotNil(t, resp.Metadata)
		require.Equal(t, version, resp.Metadata.Version)
		require.Equal(t, `W/"`+version+`"`, resp.Metadata.ETag)
	})

	t.Run("conditional get of unchanged resource", func(t *testing.T) {
		resp := h.Do(ctx, Request{
			Verb:         VerbGet,
			ResourceType: "User",
			ID:           id,
			IfNoneMatch:  `W/"` + version + `"`,
		})
		require.True(t, resp.Success)
		require.Equal(t, http.StatusNotModified, resp.Status)
		require.Empty(t, resp.Data)
		require.NotNil(t, resp.Metadata)
	})

	t.Run("replace under matching precondition", func(t *testing.T) {
		resp := h.Do(ctx, Request{
			Verb:            VerbReplace,
			ResourceType:    "User",
			ID:              id,
			Body:            json.RawMessage(`{"userName": "barbara@example.com"}`),
			ExpectedVersion: `W/"` + version + `"`,
		})
		require.True(t, resp.Success)
		require.NotNil(t, resp.Metadata)
		require.NotEqual(t, version, resp.Metadata.Version)
	})

	t.Run("replace under stale precondition", func(t *testing.T) {
		resp := h.Do(ctx, Request{
			Verb:            VerbReplace,
			ResourceType:    "User",
			ID:              id,
			Body:            json.RawMessage(`{"userName": "late@example.com"}`),
			ExpectedVersion: `W/"` + version + `"`,
		})
		require.False(t, resp.Success)
		require.Equal(t, http.StatusPreconditionFailed, resp.Status)
		require.NotNil(t, resp.Error)
		require.Equal(t, "412", resp.Error.Status)
	})

	t.Run("delete", func(t *testing.T) {
		resp := h.Do(ctx, Request{Verb: VerbDelete, ResourceType: "User", ID: id})
		require.True(t, resp.Success)
		require.Equal(t, http.StatusNoContent, resp.Status)
		require.Empty(t, resp.Data)
	})
}

func TestHandlerList(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	createUser(t, h, "alice")
	createUser(t, h, "bob")

	resp := h.Do(ctx, Request{Verb: VerbList, ResourceType: "User"})
	require.True(t, resp.Success)

	var list types.ListResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Equal(t, []string{scim.ListResponseSchema}, list.Schemas)
	require.Equal(t, 2, list.TotalResults)
	require.Len(t, list.Resources, 2)
	require.Equal(t, 1, list.StartIndex)
}

func TestHandlerErrorMapping(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	id, _ := createUser(t, h, "bjensen@example.com")

	tests := []struct {
		name     string
		req      Request
		status   int
		scimType string
	}{
		{
			name: "uniqueness conflict",
			req: Request{
				Verb:         VerbCreate,
				ResourceType: "User",
				Body:         json.RawMessage(`{"userName": "bjensen@example.com"}`),
			},
			status:   http.StatusConflict,
			scimType: "uniqueness",
		},
		{
			name: "schema violation",
			req: Request{
				Verb:         VerbCreate,
				ResourceType: "User",
				Body:         json.RawMessage(`{"userName": "new@example.com", "favoriteColor": "teal"}`),
			},
			status:   http.StatusBadRequest,
			scimType: "invalidValue",
		},
		{
			name: "mutability violation",
			req: Request{
				Verb:         VerbReplace,
				ResourceType: "User",
				ID:           id,
				Body:         json.RawMessage(`{"id": "different", "userName": "bjensen@example.com"}`),
			},
			status:   http.StatusBadRequest,
			scimType: "mutability",
		},
		{
			name: "malformed body",
			req: Request{
				Verb:         VerbCreate,
				ResourceType: "User",
				Body:         json.RawMessage(`{not json`),
			},
			status:   http.StatusBadRequest,
			scimType: "invalidSyntax",
		},
		{
			name:   "missing resource",
			req:    Request{Verb: VerbGet, ResourceType: "User", ID: "no-such-id"},
			status: http.StatusNotFound,
		},
		{
			name:   "unsupported resource type",
			req:    Request{Verb: VerbGet, ResourceType: "Device", ID: "d1"},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown verb",
			req:    Request{Verb: Verb("purge"), ResourceType: "User"},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Do(ctx, tt.req)
			require.False(t, resp.Success)
			require.Equal(t, tt.status, resp.Status)
			require.NotNil(t, resp.Error)
			require.Equal(t, []string{scim.ErrorSchema}, resp.Error.Schemas)
			if tt.scimType != "" {
				require.Equal(t, tt.scimType, resp.Error.ScimType)
			}
		})
	}
}

func TestHandlerUnsupportedOperation(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	resp := h.Do(ctx, Request{
		Verb:         VerbPatch,
		ResourceType: "AuditEntry",
		ID:           "a1",
		Body:         json.RawMessage(`{}`),
	})
	// Unregistered type, not a disallowed op: 404 rather than 501.
	require.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHandlerDiscovery(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	t.Run("service provider config", func(t *testing.T) {
		resp := h.Do(ctx, Request{Verb: VerbServiceProviderConfig})
		require.True(t, resp.Success)

		var cfg struct {
			Schemas []string `json:"schemas"`
			ETag    struct {
				Supported bool `json:"supported"`
			} `json:"etag"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &cfg))
		require.Equal(t, []string{scim.ServiceProviderConfigSchema}, cfg.Schemas)
		require.True(t, cfg.ETag.Supported)
	})

	t.Run("resource types", func(t *testing.T) {
		resp := h.Do(ctx, Request{Verb: VerbResourceTypes})
		require.True(t, resp.Success)

		var docs []struct {
			ID       string `json:"id"`
			Endpoint string `json:"endpoint"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &docs))
		require.Len(t, docs, 2)
	})

	t.Run("schemas", func(t *testing.T) {
		resp := h.Do(ctx, Request{Verb: VerbSchemas})
		require.True(t, resp.Success)

		var docs []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &docs))
		require.Len(t, docs, 2)
	})
}
