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
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/types"
)

// Op is the operation context under which a document is validated.
// Mutability and uniqueness rules are context-sensitive.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpPatch   Op = "patch"
)

// UniquenessChecker probes storage for another resource already owning an
// attribute value. Implementations scope the probe to the request's
// tenant; the global flag widens it across tenants where the backend
// supports that.
type UniquenessChecker interface {
	// FindOwner returns the id of a resource holding the given value at
	// the given attribute path, if any.
	FindOwner(ctx context.Context, path, value string, global bool) (ownerID string, found bool, err error)
}

// ValidateParams carries the context for one validation pass.
type ValidateParams struct {
	// Op selects which mutability and uniqueness rules apply.
	Op Op
	// Stored is the previously persisted document, required for
	// readOnly/immutable diffs in update contexts. Nil on create.
	Stored types.AttributeSet
	// ResourceID is the id of the resource being written; a uniqueness
	// match against it is not a violation.
	ResourceID string
	// Uniqueness is the storage probe for unique attributes. When nil,
	// uniqueness checks are skipped.
	Uniqueness UniquenessChecker
}

// Validate walks the top-level document against the schema's attribute
// list. Validation is fail-fast: the first violation is returned.
func Validate(ctx context.Context, s *Schema, doc types.AttributeSet, params ValidateParams) error {
	if doc == nil {
		return trace.BadParameter("cannot validate a nil document")
	}
	if params.Op == "" {
		params.Op = OpCreate
	}

	// Attribute names are case-insensitive; index the document keys by
	// their folded form so lookups and the trailing unknown-member scan
	// agree on what was matched.
	folded := make(map[string][]string, len(doc))
	for key := range doc {
		lk := strings.ToLower(key)
		folded[lk] = append(folded[lk], key)
	}

	for i := range s.Attributes {
		attr := &s.Attributes[i]
		keys := folded[strings.ToLower(attr.Name)]
		if len(keys) > 1 {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationUnknownAttribute,
				Attribute: attr.Name,
				Detail:    "duplicate members differing only in case",
			})
		}

		var value any
		present := false
		if len(keys) == 1 {
			value = doc[keys[0]]
			present = value != nil
		}
		if !present {
			if attr.Required && params.Op == OpCreate {
				return trace.Wrap(&types.ConstraintError{
					Kind:      types.ViolationMissingRequired,
					Attribute: attr.Name,
				})
			}
			continue
		}

		if err := validateAttribute(ctx, attr, attr.Name, value, params); err != nil {
			return trace.Wrap(err)
		}
	}

	return trace.Wrap(checkUnknownMembers(s, doc))
}

// checkUnknownMembers rejects top-level members not declared by the
// schema. The reserved schemas array is always allowed, as are extension
// payloads whose member name is a URN listed in that array.
func checkUnknownMembers(s *Schema, doc types.AttributeSet) error {
	extensions := make(map[string]struct{})
	if raw, ok := findMember(doc, "schemas"); ok {
		if uris, ok := raw.([]any); ok {
			for _, uri := range uris {
				if str, ok := uri.(string); ok {
					extensions[str] = struct{}{}
				}
			}
		}
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if strings.EqualFold(key, "schemas") {
			continue
		}
		if strings.HasPrefix(key, "urn:") {
			if _, ok := extensions[key]; ok {
				continue
			}
		}
		if s.FindAttribute(key) == nil {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationUnknownAttribute,
				Attribute: key,
			})
		}
	}
	return nil
}

// validateAttribute applies the cardinality, type, canonical-value,
// mutability and uniqueness rules to one declared attribute.
func validateAttribute(ctx context.Context, attr *Attribute, path string, value any, params ValidateParams) error {
	if attr.MultiValued {
		elems, ok := value.([]any)
		if !ok {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationExpectedMultiValue,
				Attribute: path,
				Value:     renderValue(value),
			})
		}
		primaries := 0
		for _, elem := range elems {
			if elem == nil {
				continue
			}
			if err := validateValue(ctx, attr, path, elem, params); err != nil {
				return trace.Wrap(err)
			}
			if isPrimary(elem) {
				primaries++
			}
		}
		if primaries > 1 {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationMultiplePrimary,
				Attribute: path,
			})
		}
	} else {
		if _, isArray := value.([]any); isArray {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationExpectedSingleValue,
				Attribute: path,
			})
		}
		if err := validateValue(ctx, attr, path, value, params); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := checkMutability(attr, path, value, params); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(checkUniqueness(ctx, attr, path, value, params))
}

// validateValue applies the type and canonical-value rules to a single
// value, recursing into sub-attributes for complex types.
func validateValue(ctx context.Context, attr *Attribute, path string, value any, params ValidateParams) error {
	switch attr.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return invalidType(path, value, attr.Type)
		}
		return trace.Wrap(checkCanonical(attr, path, str))

	case TypeReference:
		str, ok := value.(string)
		if !ok || str == "" {
			return invalidType(path, value, attr.Type)
		}

	case TypeDateTime:
		str, ok := value.(string)
		if !ok {
			return invalidType(path, value, attr.Type)
		}
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return invalidType(path, value, attr.Type)
		}

	case TypeBinary:
		str, ok := value.(string)
		if !ok {
			return invalidType(path, value, attr.Type)
		}
		if _, err := base64.StdEncoding.DecodeString(str); err != nil {
			if _, err := base64.RawStdEncoding.DecodeString(str); err != nil {
				return invalidType(path, value, attr.Type)
			}
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return invalidType(path, value, attr.Type)
		}

	case TypeInteger:
		num, ok := value.(float64)
		if !ok || math.Trunc(num) != num {
			return invalidType(path, value, attr.Type)
		}

	case TypeDecimal:
		if _, ok := value.(float64); !ok {
			return invalidType(path, value, attr.Type)
		}

	case TypeComplex:
		obj, ok := value.(map[string]any)
		if !ok {
			return invalidType(path, value, attr.Type)
		}
		return trace.Wrap(validateComplex(ctx, attr, path, obj, params))
	}
	return nil
}

// validateComplex recurses into the sub-attributes of a complex value,
// applying the same presence, cardinality, type, canonical, mutability
// and uniqueness rules that govern top-level attributes. Unknown
// sub-members are tolerated.
func validateComplex(ctx context.Context, attr *Attribute, path string, obj map[string]any, params ValidateParams) error {
	// Narrow the stored document to this complex value so sub-attribute
	// mutability compares against the stored counterpart. Elements of
	// multi-valued complex attributes have no stable stored identity, so
	// they narrow to nil and skip the diff.
	subParams := params
	subParams.Stored = storedObjectAt(params.Stored, path)

	for i := range attr.SubAttributes {
		sub := &attr.SubAttributes[i]
		subPath := path + "." + sub.Name

		value, ok := findMember(obj, sub.Name)
		if !ok || value == nil {
			if sub.Required && params.Op == OpCreate {
				return trace.Wrap(&types.ConstraintError{
					Kind:      types.ViolationMissingRequiredSub,
					Attribute: subPath,
				})
			}
			continue
		}

		if sub.MultiValued {
			elems, isArray := value.([]any)
			if !isArray {
				return trace.Wrap(&types.ConstraintError{
					Kind:      types.ViolationExpectedMultiValue,
					Attribute: subPath,
					Value:     renderValue(value),
				})
			}
			primaries := 0
			for _, elem := range elems {
				if elem == nil {
					continue
				}
				if err := validateValue(ctx, sub, subPath, elem, subParams); err != nil {
					return trace.Wrap(err)
				}
				if isPrimary(elem) {
					primaries++
				}
			}
			if primaries > 1 {
				return trace.Wrap(&types.ConstraintError{
					Kind:      types.ViolationMultiplePrimary,
					Attribute: subPath,
				})
			}
		} else {
			if _, isArray := value.([]any); isArray {
				return trace.Wrap(&types.ConstraintError{
					Kind:      types.ViolationExpectedSingleValue,
					Attribute: subPath,
				})
			}
			if err := validateValue(ctx, sub, subPath, value, subParams); err != nil {
				return trace.Wrap(err)
			}
		}

		if err := checkMutability(sub, subPath, value, subParams); err != nil {
			return trace.Wrap(err)
		}
		if err := checkUniqueness(ctx, sub, subPath, value, subParams); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// storedObjectAt walks a dotted attribute path through the stored
// document, returning the nested object when every step resolves to a
// single-valued complex value and nil otherwise.
func storedObjectAt(stored types.AttributeSet, path string) types.AttributeSet {
	if stored == nil {
		return nil
	}
	var current any = map[string]any(stored)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = findMember(obj, seg)
		if !ok {
			return nil
		}
	}
	obj, ok := current.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}

// checkCanonical enforces membership in the attribute's canonical value
// set, case-exactly when the attribute demands it.
func checkCanonical(attr *Attribute, path string, value string) error {
	if len(attr.CanonicalValues) == 0 {
		return nil
	}
	for _, allowed := range attr.CanonicalValues {
		if attr.CaseExact {
			if allowed == value {
				return nil
			}
		} else if strings.EqualFold(allowed, value) {
			return nil
		}
	}
	return trace.Wrap(&types.ConstraintError{
		Kind:      types.ViolationInvalidCanonicalValue,
		Attribute: path,
		Value:     value,
		Allowed:   attr.CanonicalValues,
	})
}

// checkMutability compares the supplied value against the stored document
// in update contexts. readOnly attributes must not change; immutable
// attributes must not change once set.
func checkMutability(attr *Attribute, path string, value any, params ValidateParams) error {
	if params.Op == OpCreate || params.Stored == nil {
		return nil
	}
	stored, ok := findMember(params.Stored, attr.Name)

	switch attr.Mutability {
	case MutabilityReadOnly:
		if !ok || !reflect.DeepEqual(value, stored) {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationReadOnly,
				Attribute: path,
				Value:     renderValue(value),
			})
		}
	case MutabilityImmutable:
		if ok && stored != nil && !reflect.DeepEqual(value, stored) {
			return trace.Wrap(&types.ConstraintError{
				Kind:      types.ViolationImmutable,
				Attribute: path,
				Value:     renderValue(value),
			})
		}
	}
	return nil
}

// checkUniqueness probes storage for a conflicting owner of a unique
// attribute value. A match against the resource being written is fine.
func checkUniqueness(ctx context.Context, attr *Attribute, path string, value any, params ValidateParams) error {
	if attr.Uniqueness == UniquenessNone || params.Uniqueness == nil {
		return nil
	}

	probe, ok := stringifyScalar(value)
	if !ok {
		return nil
	}

	global := attr.Uniqueness == UniquenessGlobal
	ownerID, found, err := params.Uniqueness.FindOwner(ctx, path, probe, global)
	if err != nil {
		return trace.Wrap(err, "probing uniqueness of %q", path)
	}
	if !found || ownerID == params.ResourceID {
		return nil
	}

	kind := types.ViolationServerUniqueness
	if global {
		kind = types.ViolationGlobalUniqueness
	}
	return trace.Wrap(&types.ConstraintError{
		Kind:      kind,
		Attribute: path,
		Value:     probe,
	})
}

// findMember looks up a member of a JSON object by case-insensitive name.
func findMember(obj map[string]any, name string) (any, bool) {
	if value, ok := obj[name]; ok {
		return value, true
	}
	for key, value := range obj {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return nil, false
}

// isPrimary reports whether a multi-valued element carries primary: true.
func isPrimary(elem any) bool {
	obj, ok := elem.(map[string]any)
	if !ok {
		return false
	}
	value, ok := findMember(obj, "primary")
	if !ok {
		return false
	}
	flag, ok := value.(bool)
	return ok && flag
}

// stringifyScalar renders a scalar JSON value for a uniqueness probe.
func stringifyScalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		if math.Trunc(v) == v {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%g", v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	}
	return "", false
}

func invalidType(path string, value any, expected Type) error {
	return trace.Wrap(&types.ConstraintError{
		Kind:      types.ViolationInvalidType,
		Attribute: path,
		Value:     renderValue(value),
		Detail:    fmt.Sprintf("expected %s", expected),
	})
}

// renderValue produces a short display rendering of a JSON value for
// error messages.
func renderValue(value any) string {
	const maxLen = 64
	s := fmt.Sprintf("%v", value)
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
