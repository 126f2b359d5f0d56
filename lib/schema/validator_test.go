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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim/lib/types"
)

// fakeUniqueness is a canned uniqueness probe: value -> owner id.
type fakeUniqueness struct {
	owners map[string]string
}

func (f *fakeUniqueness) FindOwner(ctx context.Context, path, value string, global bool) (string, bool, error) {
	owner, ok := f.owners[value]
	return owner, ok, nil
}

func requireViolation(t *testing.T, err error, kind types.ViolationKind) {
	t.Helper()
	require.Error(t, err)
	var constraint *types.ConstraintError
	require.True(t, errors.As(err, &constraint), "expected a constraint violation, got %v", err)
	require.Equal(t, kind, constraint.Kind)
}

func userDoc(overrides types.AttributeSet) types.AttributeSet {
	doc := types.AttributeSet{
		"schemas":  []any{"urn:ietf:params:scim:schemas:core:2.0:User"},
		"userName": "bjensen@example.com",
	}
	for key, value := range overrides {
		if value == nil {
			delete(doc, key)
			continue
		}
		doc[key] = value
	}
	return doc
}

func TestValidateCreate(t *testing.T) {
	userSchema, err := CoreUserSchema()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  types.AttributeSet
		kind types.ViolationKind
	}{
		{
			name: "minimal user",
			doc:  userDoc(nil),
		},
		{
			name: "missing required userName",
			doc:  userDoc(types.AttributeSet{"userName": nil}),
			kind: types.ViolationMissingRequired,
		},
		{
			name: "boolean active",
			doc:  userDoc(types.AttributeSet{"active": true}),
		},
		{
			name: "active wrong type",
			doc:  userDoc(types.AttributeSet{"active": "yes"}),
			kind: types.ViolationInvalidType,
		},
		{
			name: "emails as scalar",
			doc:  userDoc(types.AttributeSet{"emails": "bjensen@example.com"}),
			kind: types.ViolationExpectedMultiValue,
		},
		{
			name: "userName as array",
			doc:  userDoc(types.AttributeSet{"userName": []any{"bjensen"}}),
			kind: types.ViolationExpectedSingleValue,
		},
		{
			name: "email type canonical case folded",
			doc: userDoc(types.AttributeSet{
				"emails": []any{map[string]any{"value": "bjensen@example.com", "type": "WORK"}},
			}),
		},
		{
			name: "email type outside canonical set",
			doc: userDoc(types.AttributeSet{
				"emails": []any{map[string]any{"value": "bjensen@example.com", "type": "carrier-pigeon"}},
			}),
			kind: types.ViolationInvalidCanonicalValue,
		},
		{
			name: "multiple primary emails",
			doc: userDoc(types.AttributeSet{
				"emails": []any{
					map[string]any{"value": "a@example.com", "primary": true},
					map[string]any{"value": "b@example.com", "primary": true},
				},
			}),
			kind: types.ViolationMultiplePrimary,
		},
		{
			name: "missing required sub-attribute",
			doc: userDoc(types.AttributeSet{
				"emails": []any{map[string]any{"type": "work"}},
			}),
			kind: types.ViolationMissingRequiredSub,
		},
		{
			name: "undeclared attribute",
			doc:  userDoc(types.AttributeSet{"favoriteColor": "teal"}),
			kind: types.ViolationUnknownAttribute,
		},
		{
			name: "extension payload listed in schemas",
			doc: userDoc(types.AttributeSet{
				"schemas": []any{
					"urn:ietf:params:scim:schemas:core:2.0:User",
					"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User",
				},
				"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User": map[string]any{
					"employeeNumber": "701984",
				},
			}),
		},
		{
			name: "extension payload not listed in schemas",
			doc: userDoc(types.AttributeSet{
				"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User": map[string]any{
					"employeeNumber": "701984",
				},
			}),
			kind: types.ViolationUnknownAttribute,
		},
		{
			name: "members differing only in case",
			doc: userDoc(types.AttributeSet{
				"UserName": "other",
			}),
			kind: types.ViolationUnknownAttribute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), userSchema, tt.doc, ValidateParams{Op: OpCreate})
			if tt.kind == "" {
				require.NoError(t, err)
				return
			}
			requireViolation(t, err, tt.kind)
		})
	}
}

func TestValidateMutability(t *testing.T) {
	userSchema, err := CoreUserSchema()
	require.NoError(t, err)

	stored := userDoc(types.AttributeSet{"id": "2819c223"})

	t.Run("id change rejected on replace", func(t *testing.T) {
		doc := userDoc(types.AttributeSet{"id": "different-id"})
		err := Validate(context.Background(), userSchema, doc, ValidateParams{
			Op:     OpReplace,
			Stored: stored,
		})
		requireViolation(t, err, types.ViolationReadOnly)
	})

	t.Run("unchanged id accepted on replace", func(t *testing.T) {
		doc := userDoc(types.AttributeSet{"id": "2819c223"})
		err := Validate(context.Background(), userSchema, doc, ValidateParams{
			Op:     OpReplace,
			Stored: stored,
		})
		require.NoError(t, err)
	})

	t.Run("client supplied id ignored on create", func(t *testing.T) {
		doc := userDoc(types.AttributeSet{"id": "client-chosen"})
		err := Validate(context.Background(), userSchema, doc, ValidateParams{Op: OpCreate})
		require.NoError(t, err)
	})
}

func TestValidateUniqueness(t *testing.T) {
	userSchema, err := CoreUserSchema()
	require.NoError(t, err)

	probe := &fakeUniqueness{owners: map[string]string{
		"bjensen@example.com": "existing-id",
	}}

	t.Run("conflicting owner rejected", func(t *testing.T) {
		err := Validate(context.Background(), userSchema, userDoc(nil), ValidateParams{
			Op:         OpCreate,
			Uniqueness: probe,
		})
		requireViolation(t, err, types.ViolationServerUniqueness)
	})

	t.Run("self match tolerated", func(t *testing.T) {
		err := Validate(context.Background(), userSchema, userDoc(nil), ValidateParams{
			Op:         OpReplace,
			Stored:     userDoc(nil),
			ResourceID: "existing-id",
			Uniqueness: probe,
		})
		require.NoError(t, err)
	})

	t.Run("unclaimed value accepted", func(t *testing.T) {
		doc := userDoc(types.AttributeSet{"userName": "fresh@example.com"})
		err := Validate(context.Background(), userSchema, doc, ValidateParams{
			Op:         OpCreate,
			Uniqueness: probe,
		})
		require.NoError(t, err)
	})
}

func TestValidateComplexSubAttributes(t *testing.T) {
	testSchema := &Schema{
		ID: "urn:example:test:2.0:Badge",
		Attributes: []Attribute{
			{Name: "badge", Type: TypeComplex, SubAttributes: []Attribute{
				{Name: "serial", Type: TypeString, Mutability: MutabilityReadOnly, Uniqueness: UniquenessServer},
				{Name: "issuer", Type: TypeString, Mutability: MutabilityImmutable},
				{Name: "label", Type: TypeString},
				{Name: "holders", Type: TypeComplex, MultiValued: true, SubAttributes: []Attribute{
					{Name: "value", Type: TypeString},
					{Name: "primary", Type: TypeBoolean},
				}},
			}},
		},
	}
	require.NoError(t, testSchema.CheckAndSetDefaults())

	stored := types.AttributeSet{
		"badge": map[string]any{"serial": "A-1", "issuer": "ops", "label": "blue"},
	}

	t.Run("readOnly sub change rejected on replace", func(t *testing.T) {
		doc := types.AttributeSet{
			"badge": map[string]any{"serial": "A-2", "label": "blue"},
		}
		err := Validate(context.Background(), testSchema, doc, ValidateParams{
			Op:     OpReplace,
			Stored: stored,
		})
		requireViolation(t, err, types.ViolationReadOnly)
	})

	t.Run("unchanged readOnly sub accepted on replace", func(t *testing.T) {
		doc := types.AttributeSet{
			"badge": map[string]any{"serial": "A-1", "label": "red"},
		}
		err := Validate(context.Background(), testSchema, doc, ValidateParams{
			Op:     OpReplace,
			Stored: stored,
		})
		require.NoError(t, err)
	})

	t.Run("immutable sub change rejected once set", func(t *testing.T) {
		doc := types.AttributeSet{
			"badge": map[string]any{"issuer": "security"},
		}
		err := Validate(context.Background(), testSchema, doc, ValidateParams{
			Op:     OpReplace,
			Stored: stored,
		})
		requireViolation(t, err, types.ViolationImmutable)
	})

	t.Run("unique sub value with conflicting owner", func(t *testing.T) {
		probe := &fakeUniqueness{owners: map[string]string{"A-9": "other-id"}}
		doc := types.AttributeSet{
			"badge": map[string]any{"serial": "A-9"},
		}
		err := Validate(context.Background(), testSchema, doc, ValidateParams{
			Op:         OpCreate,
			Uniqueness: probe,
		})
		requireViolation(t, err, types.ViolationServerUniqueness)
	})

	t.Run("multiple primary elements in sub-array", func(t *testing.T) {
		doc := types.AttributeSet{
			"badge": map[string]any{
				"holders": []any{
					map[string]any{"value": "a", "primary": true},
					map[string]any{"value": "b", "primary": true},
				},
			},
		}
		err := Validate(context.Background(), testSchema, doc, ValidateParams{Op: OpCreate})
		requireViolation(t, err, types.ViolationMultiplePrimary)
	})
}

func TestValidateTypes(t *testing.T) {
	testSchema := &Schema{
		ID: "urn:example:test:2.0:Widget",
		Attributes: []Attribute{
			{Name: "count", Type: TypeInteger},
			{Name: "weight", Type: TypeDecimal},
			{Name: "issued", Type: TypeDateTime},
			{Name: "payload", Type: TypeBinary},
			{Name: "link", Type: TypeReference},
		},
	}
	require.NoError(t, testSchema.CheckAndSetDefaults())

	tests := []struct {
		name string
		doc  types.AttributeSet
		kind types.ViolationKind
	}{
		{name: "integral float accepted", doc: types.AttributeSet{"count": float64(7)}},
		{name: "fractional integer rejected", doc: types.AttributeSet{"count": 7.5}, kind: types.ViolationInvalidType},
		{name: "decimal accepted", doc: types.AttributeSet{"weight": 7.5}},
		{name: "rfc3339 accepted", doc: types.AttributeSet{"issued": "2011-05-13T04:42:34Z"}},
		{name: "date only rejected", doc: types.AttributeSet{"issued": "2011-05-13"}, kind: types.ViolationInvalidType},
		{name: "base64 accepted", doc: types.AttributeSet{"payload": "aGVsbG8="}},
		{name: "unpadded base64 accepted", doc: types.AttributeSet{"payload": "aGVsbG8"}},
		{name: "invalid base64 rejected", doc: types.AttributeSet{"payload": "not base64!"}, kind: types.ViolationInvalidType},
		{name: "empty reference rejected", doc: types.AttributeSet{"link": ""}, kind: types.ViolationInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), testSchema, tt.doc, ValidateParams{Op: OpCreate})
			if tt.kind == "" {
				require.NoError(t, err)
				return
			}
			requireViolation(t, err, tt.kind)
		})
	}
}
