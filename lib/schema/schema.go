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

// Package schema implements the SCIM schema registry and the attribute
// contract validator defined by RFC 7643.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/types"
)

// Type enumerates the SCIM attribute data types.
type Type string

const (
	TypeString    Type = "string"
	TypeBoolean   Type = "boolean"
	TypeInteger   Type = "integer"
	TypeDecimal   Type = "decimal"
	TypeDateTime  Type = "dateTime"
	TypeBinary    Type = "binary"
	TypeReference Type = "reference"
	TypeComplex   Type = "complex"
)

// Mutability enumerates the SCIM attribute mutability values.
type Mutability string

const (
	MutabilityReadOnly  Mutability = "readOnly"
	MutabilityReadWrite Mutability = "readWrite"
	MutabilityImmutable Mutability = "immutable"
	MutabilityWriteOnly Mutability = "writeOnly"
)

// Uniqueness enumerates the SCIM attribute uniqueness scopes.
type Uniqueness string

const (
	UniquenessNone   Uniqueness = "none"
	UniquenessServer Uniqueness = "server"
	UniquenessGlobal Uniqueness = "global"
)

// Returned enumerates the SCIM attribute return policies.
type Returned string

const (
	ReturnedAlways  Returned = "always"
	ReturnedNever   Returned = "never"
	ReturnedDefault Returned = "default"
	ReturnedRequest Returned = "request"
)

// Attribute is a single attribute definition within a schema, as per
// RFC 7643 section 7.
type Attribute struct {
	Name            string      `json:"name"`
	Type            Type        `json:"type"`
	SubAttributes   []Attribute `json:"subAttributes,omitempty"`
	MultiValued     bool        `json:"multiValued"`
	Description     string      `json:"description,omitempty"`
	Required        bool        `json:"required"`
	CaseExact       bool        `json:"caseExact"`
	Mutability      Mutability  `json:"mutability"`
	Returned        Returned    `json:"returned"`
	Uniqueness      Uniqueness  `json:"uniqueness"`
	CanonicalValues []string    `json:"canonicalValues,omitempty"`
	ReferenceTypes  []string    `json:"referenceTypes,omitempty"`
}

// CheckAndSetDefaults validates the attribute definition and fills in the
// RFC 7643 defaults for omitted fields.
func (a *Attribute) CheckAndSetDefaults() error {
	if a.Name == "" {
		return trace.BadParameter("attribute definition is missing a name")
	}
	if a.Type == "" {
		a.Type = TypeString
	}
	switch a.Type {
	case TypeString, TypeBoolean, TypeInteger, TypeDecimal,
		TypeDateTime, TypeBinary, TypeReference, TypeComplex:
	default:
		return trace.BadParameter("attribute %q has unknown type %q", a.Name, a.Type)
	}

	if a.Mutability == "" {
		a.Mutability = MutabilityReadWrite
	}
	switch a.Mutability {
	case MutabilityReadOnly, MutabilityReadWrite, MutabilityImmutable, MutabilityWriteOnly:
	default:
		return trace.BadParameter("attribute %q has unknown mutability %q", a.Name, a.Mutability)
	}

	if a.Uniqueness == "" {
		a.Uniqueness = UniquenessNone
	}
	switch a.Uniqueness {
	case UniquenessNone, UniquenessServer, UniquenessGlobal:
	default:
		return trace.BadParameter("attribute %q has unknown uniqueness %q", a.Name, a.Uniqueness)
	}

	if a.Returned == "" {
		a.Returned = ReturnedDefault
	}
	switch a.Returned {
	case ReturnedAlways, ReturnedNever, ReturnedDefault, ReturnedRequest:
	default:
		return trace.BadParameter("attribute %q has unknown returned policy %q", a.Name, a.Returned)
	}

	if len(a.SubAttributes) > 0 && a.Type != TypeComplex {
		return trace.BadParameter("attribute %q declares sub-attributes but is not complex", a.Name)
	}
	if len(a.CanonicalValues) > 0 && a.Type != TypeString {
		return trace.BadParameter("attribute %q declares canonical values but is not a string", a.Name)
	}

	if err := checkUniqueNames(a.Name, a.SubAttributes); err != nil {
		return trace.Wrap(err)
	}
	for i := range a.SubAttributes {
		if err := a.SubAttributes[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Schema is a SCIM schema definition: a URN, a human name and an ordered
// list of attribute definitions. Schemas are immutable once registered.
type Schema struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// CheckAndSetDefaults validates the schema invariants and defaults each
// attribute definition.
func (s *Schema) CheckAndSetDefaults() error {
	if _, err := types.NewSchemaURI(s.ID); err != nil {
		return trace.Wrap(err, "schema id")
	}
	if len(s.Attributes) == 0 {
		return trace.BadParameter("schema %q declares no attributes", s.ID)
	}
	if err := checkUniqueNames(s.ID, s.Attributes); err != nil {
		return trace.Wrap(err)
	}
	for i := range s.Attributes {
		if err := s.Attributes[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// FindAttribute looks up a top-level attribute definition by name.
// Attribute names are case-insensitive per RFC 7643 section 2.1.
func (s *Schema) FindAttribute(name string) *Attribute {
	for i := range s.Attributes {
		if strings.EqualFold(s.Attributes[i].Name, name) {
			return &s.Attributes[i]
		}
	}
	return nil
}

// ParseSchema deserialises and validates a schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, trace.BadParameter("malformed schema document: %v", err)
	}
	if err := s.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &s, nil
}

// checkUniqueNames enforces case-insensitive uniqueness of attribute names
// at a single nesting level.
func checkUniqueNames(scope string, attrs []Attribute) error {
	seen := make(map[string]struct{}, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(attr.Name)
		if _, ok := seen[key]; ok {
			return trace.BadParameter("%s: duplicate attribute name %q", scope, attr.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
