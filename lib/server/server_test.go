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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/backend/memory"
	"github.com/gravitational/scim/lib/provider"
	"github.com/gravitational/scim/lib/schema"
	"github.com/gravitational/scim/lib/tenant"
	"github.com/gravitational/scim/lib/types"
)

func newTestServer(t *testing.T, strategy tenant.Strategy) (*Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 13, 4, 42, 34, 0, time.UTC))
	srv, err := NewWithCoreTypes(Config{
		Backend:      memory.New(),
		BaseURL:      "https://scim.example.com",
		Strategy:     strategy,
		Clock:        clock,
		Capabilities: Capabilities{Patch: true},
	})
	require.NoError(t, err)
	return srv, clock
}

func requireViolation(t *testing.T, err error, kind types.ViolationKind) {
	t.Helper()
	require.Error(t, err)
	var constraint *types.ConstraintError
	require.True(t, errors.As(err, &constraint), "expected a constraint violation, got %v", err)
	require.Equal(t, kind, constraint.Kind)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	srv, clock := newTestServer(t, tenant.StrategySingle)

	created, err := srv.CreateResource(ctx, tenant.Context{}, "User", json.RawMessage(`{
		"schemas": ["urn:ietf:params:scim:schemas:core:2.0:User"],
		"userName": "bjensen@example.com"
	}`))
	require.NoError(t, err)

	// The id is a server-allocated UUID.
	_, err = uuid.Parse(string(created.ID))
	require.NoError(t, err)

	require.NotNil(t, created.Meta)
	require.NotNil(t, created.Meta.Created)
	require.NotNil(t, created.Meta.LastModified)
	require.True(t, created.Meta.Created.Equal(clock.Now()))
	require.True(t, created.Meta.Created.Equal(*created.Meta.LastModified))
	require.Equal(t, "User", created.Meta.ResourceType)
	require.Equal(t, "https://scim.example.com/v2/Users/"+string(created.ID), created.Meta.Location)
	require.Regexp(t, "^[0-9a-f]{32}$", created.Meta.Version)

	t.Run("active defaults to true", func(t *testing.T) {
		require.NotNil(t, created.Active)
		require.True(t, *created.Active)
	})

	t.Run("client supplied id discarded", func(t *testing.T) {
		res, err := srv.CreateResource(ctx, tenant.Context{}, "User", json.RawMessage(`{
			"id": "client-chosen",
			"userName": "second@example.com"
		}`))
		require.NoError(t, err)
		require.NotEqual(t, types.ResourceID("client-chosen"), res.ID)
	})

	t.Run("duplicate userName rejected", func(t *testing.T) {
		_, err := srv.CreateResource(ctx, tenant.Context{}, "User", json.RawMessage(`{
			"userName": "bjensen@example.com"
		}`))
		requireViolation(t, err, types.ViolationServerUniqueness)
	})

	t.Run("schema violation rejected", func(t *testing.T) {
		_, err := srv.CreateResource(ctx, tenant.Context{}, "User", json.RawMessage(`{
			"userName": "third@example.com",
			"favoriteColor": "teal"
		}`))
		requireViolation(t, err, types.ViolationUnknownAttribute)
	})
}

func TestReplaceUser(t *testing.T) {
	ctx := context.Background()
	srv, clock := newTestServer(t, tenant.StrategySingle)
	tc := tenant.Context{}

	created, err := srv.CreateResource(ctx, tc, "User", json.RawMessage(`{
		"userName": "bjensen@example.com"
	}`))
	require.NoError(t, err)
	createdAt := *created.Meta.Created
	firstVersion := created.Meta.Version

	clock.Advance(time.Hour)

	replaced, err := srv.ReplaceResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
		"userName": "barbara@example.com",
		"displayName": "Barbara Jensen"
	}`), "")
	require.NoError(t, err)

	require.Equal(t, created.ID, replaced.ID)
	require.Equal(t, types.UserName("barbara@example.com"), replaced.UserName)
	require.True(t, replaced.Meta.Created.Equal(createdAt), "created must be carried forward")
	require.True(t, replaced.Meta.LastModified.After(createdAt))
	require.NotEqual(t, firstVersion, replaced.Meta.Version)

	t.Run("stale precondition rejected", func(t *testing.T) {
		_, err := srv.ReplaceResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
			"userName": "someone@example.com"
		}`), provider.WeakETag(firstVersion))
		require.True(t, provider.IsVersionMismatch(err))
	})

	t.Run("current precondition accepted", func(t *testing.T) {
		_, err := srv.ReplaceResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
			"userName": "current@example.com"
		}`), provider.WeakETag(replaced.Meta.Version))
		require.NoError(t, err)
	})

	t.Run("missing resource", func(t *testing.T) {
		_, err := srv.ReplaceResource(ctx, tc, "User", "no-such-id", json.RawMessage(`{
			"userName": "ghost@example.com"
		}`), "")
		require.True(t, trace.IsNotFound(err))
	})
}

func TestPatchUser(t *testing.T) {
	ctx := context.Background()
	srv, clock := newTestServer(t, tenant.StrategySingle)
	tc := tenant.Context{}

	created, err := srv.CreateResource(ctx, tc, "User", json.RawMessage(`{
		"userName": "bjensen@example.com",
		"active": true
	}`))
	require.NoError(t, err)

	clock.Advance(time.Minute)

	patched, err := srv.PatchResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [{"op": "replace", "path": "active", "value": false}]
	}`), "")
	require.NoError(t, err)

	require.NotNil(t, patched.Active)
	require.False(t, *patched.Active)
	require.Equal(t, types.UserName("bjensen@example.com"), patched.UserName)
	require.NotEqual(t, created.Meta.Version, patched.Meta.Version)
	require.True(t, patched.Meta.Created.Equal(*created.Meta.Created))

	t.Run("stale precondition rejected", func(t *testing.T) {
		_, err := srv.PatchResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
			"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
			"Operations": [{"op": "replace", "path": "active", "value": true}]
		}`), provider.WeakETag(created.Meta.Version))
		require.True(t, provider.IsVersionMismatch(err))
	})

	t.Run("malformed patch rejected", func(t *testing.T) {
		_, err := srv.PatchResource(ctx, tc, "User", string(created.ID), json.RawMessage(`{
			"Operations": [{"op": "replace", "path": "active", "value": true}]
		}`), "")
		require.True(t, trace.IsBadParameter(err))
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, tenant.StrategySingle)
	tc := tenant.Context{}

	created, err := srv.CreateResource(ctx, tc, "User", json.RawMessage(`{
		"userName": "bjensen@example.com"
	}`))
	require.NoError(t, err)

	require.NoError(t, srv.DeleteResource(ctx, tc, "User", string(created.ID), ""))

	_, err = srv.GetResource(ctx, tc, "User", string(created.ID))
	require.True(t, trace.IsNotFound(err))

	// Deleting an already deleted resource without a precondition is an
	// idempotent success.
	require.NoError(t, srv.DeleteResource(ctx, tc, "User", string(created.ID), ""))
}

func TestGroupMemberRefs(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, tenant.StrategySubdomain)
	tc := tenant.Context{TenantID: "acme"}

	created, err := srv.CreateResource(ctx, tc, "Group", json.RawMessage(`{
		"displayName": "Tour Guides",
		"members": [
			{"value": "2819c223", "type": "User", "display": "Babs Jensen"}
		]
	}`))
	require.NoError(t, err)

	require.Equal(t, "https://acme.scim.example.com/v2/Groups/"+string(created.ID), created.Meta.Location)
	require.Len(t, created.Members, 1)
	require.Equal(t, "https://acme.scim.example.com/v2/Users/2819c223", created.Members[0].Ref)

	t.Run("tenant required", func(t *testing.T) {
		_, err := srv.CreateResource(ctx, tenant.Context{}, "Group", json.RawMessage(`{
			"displayName": "Orphans"
		}`))
		require.True(t, tenant.IsRequiredError(err))
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		_, err := srv.GetResource(ctx, tenant.Context{TenantID: "initech"}, "Group", string(created.ID))
		require.True(t, trace.IsNotFound(err))
	})
}

func TestOperationGating(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, tenant.StrategySingle)

	t.Run("unknown resource type", func(t *testing.T) {
		_, err := srv.GetResource(ctx, tenant.Context{}, "Device", "d1")
		require.True(t, IsUnsupportedResourceType(err))
	})

	t.Run("operation outside the allowed set", func(t *testing.T) {
		readOnlySchema := &schema.Schema{
			ID: "urn:example:test:2.0:AuditEntry",
			Attributes: []schema.Attribute{
				{Name: "action", Type: schema.TypeString},
			},
		}
		require.NoError(t, readOnlySchema.CheckAndSetDefaults())
		require.NoError(t, srv.RegisterResourceType(ResourceType{
			Name:       "AuditEntry",
			Schema:     readOnlySchema,
			AllowedOps: []Op{OpRead, OpList},
		}))

		_, err := srv.CreateResource(ctx, tenant.Context{}, "AuditEntry", json.RawMessage(`{"action": "login"}`))
		require.True(t, IsUnsupportedOperation(err))

		var opErr *UnsupportedOperationError
		require.True(t, errors.As(err, &opErr))
		require.Equal(t, OpCreate, opErr.Op)
	})
}

func TestWriteOnlyScrubbing(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, tenant.StrategySingle)

	deviceSchema := &schema.Schema{
		ID: "urn:example:test:2.0:Device",
		Attributes: []schema.Attribute{
			{Name: "label", Type: schema.TypeString, Required: true},
			{Name: "enrollmentSecret", Type: schema.TypeString, Mutability: schema.MutabilityWriteOnly, Returned: schema.ReturnedNever},
		},
	}
	require.NoError(t, deviceSchema.CheckAndSetDefaults())
	require.NoError(t, srv.RegisterResourceType(ResourceType{
		Name:   "Device",
		Schema: deviceSchema,
	}))

	created, err := srv.CreateResource(ctx, tenant.Context{}, "Device", json.RawMessage(`{
		"schemas": ["urn:example:test:2.0:Device"],
		"label": "laptop-042",
		"enrollmentSecret": "hunter2"
	}`))
	require.NoError(t, err)
	require.Equal(t, "laptop-042", created.Attributes["label"])
	require.NotContains(t, created.Attributes, "enrollmentSecret")

	t.Run("scrubbed on read as well", func(t *testing.T) {
		fetched, err := srv.GetResource(ctx, tenant.Context{}, "Device", string(created.ID))
		require.NoError(t, err)
		require.NotContains(t, fetched.Attributes, "enrollmentSecret")
	})
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, tenant.StrategySingle)
	tc := tenant.Context{}

	for _, userName := range []string{"alice", "bob", "carol"} {
		_, err := srv.CreateResource(ctx, tc, "User", json.RawMessage(`{"userName": "`+userName+`"}`))
		require.NoError(t, err)
	}

	resources, total, err := srv.ListResources(ctx, tc, "User", backend.ListQuery{Count: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, resources, 2)
}

func TestDiscovery(t *testing.T) {
	srv, _ := newTestServer(t, tenant.StrategySingle)

	t.Run("service provider config", func(t *testing.T) {
		cfg := srv.ServiceProviderConfig()
		require.True(t, cfg.ETag.Supported, "etag support is unconditional")
		require.True(t, cfg.Patch.Supported)
		require.False(t, cfg.Bulk.Supported)
		require.NotEmpty(t, cfg.AuthenticationSchemes)
	})

	t.Run("resource types", func(t *testing.T) {
		docs, err := srv.ResourceTypes(tenant.Context{})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		require.Equal(t, "Group", docs[0].ID)
		require.Equal(t, "https://scim.example.com/v2/Groups", docs[0].Endpoint)
		require.Equal(t, "User", docs[1].ID)
	})

	t.Run("schemas", func(t *testing.T) {
		docs := srv.Schemas()
		require.Len(t, docs, 2)
		require.Equal(t, "urn:ietf:params:scim:schemas:core:2.0:User", docs[0].ID)
		require.NotEmpty(t, docs[0].Attributes)
	})
}
