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

package types

import (
	"fmt"
	"strings"
)

// ViolationKind names the fine-grained category of a SCIM constraint
// violation. The operation handler maps kinds onto SCIM `scimType` values
// and HTTP-ish status codes.
type ViolationKind string

const (
	// ViolationMissingRequired indicates a required attribute was absent
	ViolationMissingRequired ViolationKind = "missingRequired"

	// ViolationMissingRequiredSub indicates a required sub-attribute of a
	// complex attribute was absent
	ViolationMissingRequiredSub ViolationKind = "missingRequiredSubAttribute"

	// ViolationExpectedMultiValue indicates a multi-valued attribute was
	// supplied as a scalar
	ViolationExpectedMultiValue ViolationKind = "expectedMultiValue"

	// ViolationExpectedSingleValue indicates a single-valued attribute was
	// supplied as an array
	ViolationExpectedSingleValue ViolationKind = "expectedSingleValue"

	// ViolationMultiplePrimary indicates more than one element of a
	// multi-valued attribute was flagged primary
	ViolationMultiplePrimary ViolationKind = "multiplePrimaryValues"

	// ViolationInvalidType indicates the JSON shape of a value did not
	// match the attribute's declared data type
	ViolationInvalidType ViolationKind = "invalidType"

	// ViolationInvalidCanonicalValue indicates a string value outside the
	// attribute's canonical value set
	ViolationInvalidCanonicalValue ViolationKind = "invalidCanonicalValue"

	// ViolationReadOnly indicates a client attempted to change a readOnly
	// attribute
	ViolationReadOnly ViolationKind = "readOnly"

	// ViolationImmutable indicates a client attempted to change an
	// immutable attribute that already holds a value
	ViolationImmutable ViolationKind = "immutable"

	// ViolationWriteOnlyReturned indicates a writeOnly attribute was about
	// to be emitted in a response
	ViolationWriteOnlyReturned ViolationKind = "writeOnlyReturned"

	// ViolationServerUniqueness indicates a server-unique attribute value
	// collided with another resource in the same tenant
	ViolationServerUniqueness ViolationKind = "serverUniqueness"

	// ViolationGlobalUniqueness indicates a globally-unique attribute value
	// collided with another resource
	ViolationGlobalUniqueness ViolationKind = "globalUniqueness"

	// ViolationUnknownAttribute indicates a top-level member not declared
	// by the resource's schema
	ViolationUnknownAttribute ViolationKind = "unknownAttributeForSchema"

	// ViolationEmptySchemas indicates a resource whose schemas array was
	// present but empty
	ViolationEmptySchemas ViolationKind = "emptySchemas"

	// ViolationInvalidMeta indicates a malformed meta sub-structure
	ViolationInvalidMeta ViolationKind = "invalidMetaStructure"
)

// ConstraintError is a SCIM attribute-contract violation. It is always
// returned wrapped in a trace error so that callers can use both
// [errors.As] and the trace helpers on it.
type ConstraintError struct {
	// Kind is the violation category
	Kind ViolationKind
	// Attribute is the dotted path of the offending attribute, if known
	Attribute string
	// Value is a display rendering of the offending value, if useful
	Value string
	// Allowed enumerates the permitted values for canonical-value
	// violations
	Allowed []string
	// Detail is an optional human-readable elaboration
	Detail string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s", e.Kind)
	if e.Attribute != "" {
		fmt.Fprintf(&sb, ": attribute %q", e.Attribute)
	}
	if e.Value != "" {
		fmt.Fprintf(&sb, ", value %q", e.Value)
	}
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&sb, ", allowed [%s]", strings.Join(e.Allowed, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", e.Detail)
	}
	return sb.String()
}

// IsMutability reports whether the violation is one of the mutability
// kinds (readOnly, immutable, writeOnly-returned).
func (e *ConstraintError) IsMutability() bool {
	switch e.Kind {
	case ViolationReadOnly, ViolationImmutable, ViolationWriteOnlyReturned:
		return true
	}
	return false
}

// IsUniqueness reports whether the violation is a uniqueness kind.
func (e *ConstraintError) IsUniqueness() bool {
	return e.Kind == ViolationServerUniqueness || e.Kind == ViolationGlobalUniqueness
}
