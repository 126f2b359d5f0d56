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

package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim/lib/types"
)

func TestStrategyDefaults(t *testing.T) {
	var s Strategy
	require.NoError(t, s.CheckAndSetDefaults())
	require.Equal(t, StrategySingle, s)
	require.False(t, s.RequiresTenant())

	bogus := Strategy("round-robin")
	require.Error(t, bogus.CheckAndSetDefaults())

	require.True(t, StrategySubdomain.RequiresTenant())
	require.True(t, StrategyPathBased.RequiresTenant())
}

func TestResourceURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		strategy Strategy
		tc       Context
		want     string
	}{
		{
			name:     "single tenant",
			baseURL:  "https://scim.example.com",
			strategy: StrategySingle,
			want:     "https://scim.example.com/v2/Users/u1",
		},
		{
			name:     "single tenant with base path",
			baseURL:  "https://example.com/scim/",
			strategy: StrategySingle,
			want:     "https://example.com/scim/v2/Users/u1",
		},
		{
			name:     "subdomain",
			baseURL:  "https://scim.example.com",
			strategy: StrategySubdomain,
			tc:       Context{TenantID: "acme"},
			want:     "https://acme.scim.example.com/v2/Users/u1",
		},
		{
			name:     "path based",
			baseURL:  "https://scim.example.com",
			strategy: StrategyPathBased,
			tc:       Context{TenantID: "acme"},
			want:     "https://scim.example.com/acme/v2/Users/u1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := NewRefBuilder(tt.baseURL, tt.strategy)
			require.NoError(t, err)

			got, err := refs.ResourceURL(tt.tc, "User", "u1")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRefBuilderErrors(t *testing.T) {
	t.Run("missing tenant under subdomain strategy", func(t *testing.T) {
		refs, err := NewRefBuilder("https://scim.example.com", StrategySubdomain)
		require.NoError(t, err)

		_, err = refs.ResourceURL(Context{}, "User", "u1")
		require.True(t, IsRequiredError(err))
	})

	t.Run("non http scheme rejected", func(t *testing.T) {
		_, err := NewRefBuilder("ftp://example.com", StrategySingle)
		require.Error(t, err)
	})

	t.Run("missing host rejected", func(t *testing.T) {
		_, err := NewRefBuilder("https://", StrategySingle)
		require.Error(t, err)
	})
}

func TestInjectRefs(t *testing.T) {
	refs, err := NewRefBuilder("https://scim.example.com", StrategySubdomain)
	require.NoError(t, err)

	res, err := types.DecodeResource("Group", types.AttributeSet{
		"displayName": "Tour Guides",
		"members": []any{
			map[string]any{"value": "u1", "type": "User"},
			map[string]any{"value": "g2", "type": "group"},
			map[string]any{"value": "typeless"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, refs.InjectRefs(Context{TenantID: "acme"}, res))

	require.Equal(t, "https://acme.scim.example.com/v2/Users/u1", res.Members[0].Ref)
	// Member type casing is folded into the canonical endpoint name.
	require.Equal(t, "https://acme.scim.example.com/v2/Groups/g2", res.Members[1].Ref)
	// Without a type the target collection is unknown; no $ref is built.
	require.Empty(t, res.Members[2].Ref)
}
