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

// Package types holds the SCIM resource model: the Resource document, the
// validated value objects it is assembled from, and the loose AttributeSet
// representation used on the wire and in storage.
package types

import (
	"encoding/json"
	"io"
	"maps"
	"slices"

	"github.com/elimity-com/scim/schema"
	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"
)

// AttributeSet is the loose map representation of a SCIM document, as
// decoded from JSON. Storage and version hashing operate on this form.
type AttributeSet map[string]any

// reservedAttributeNames are the top-level members handled by the typed
// resource header. Everything else is carried in the open attribute map.
var reservedAttributeNames = []string{
	"schemas", "id", "externalId", "meta",
	"userName", "displayName", "active", "name",
	"emails", "phoneNumbers", "addresses", "members",
}

// Resource is a validated SCIM document of one resource type. A Resource
// in memory has passed every validation rule that does not require
// storage access; schema-registry validation may still reject members of
// the open attribute map.
type Resource struct {
	// ResourceType is the resource-type tag, e.g. "User". It is carried
	// out of band and never serialised.
	ResourceType string `json:"-" mapstructure:"-"`

	Schemas    []string   `json:"schemas" mapstructure:"schemas,omitempty"`
	ID         ResourceID `json:"id,omitempty" mapstructure:"id,omitempty"`
	ExternalID ExternalID `json:"externalId,omitempty" mapstructure:"externalId,omitempty"`
	UserName   UserName   `json:"userName,omitempty" mapstructure:"userName,omitempty"`

	DisplayName string `json:"displayName,omitempty" mapstructure:"displayName,omitempty"`
	Active      *bool  `json:"active,omitempty" mapstructure:"active,omitempty"`
	Name        *Name  `json:"name,omitempty" mapstructure:"name,omitempty"`

	Emails       MultiValued[EmailAddress] `json:"emails,omitempty" mapstructure:"emails,omitempty"`
	PhoneNumbers MultiValued[PhoneNumber]  `json:"phoneNumbers,omitempty" mapstructure:"phoneNumbers,omitempty"`
	Addresses    MultiValued[Address]      `json:"addresses,omitempty" mapstructure:"addresses,omitempty"`
	Members      MultiValued[GroupMember]  `json:"members,omitempty" mapstructure:"members,omitempty"`

	Meta *Metadata `json:"meta,omitempty" mapstructure:"-"`

	// Attributes collects the top-level JSON members that are not part of
	// the typed resource header: extension schema payloads and any other
	// declared-but-untyped attributes.
	Attributes AttributeSet `json:"-" mapstructure:",remain"`
}

// DefaultSchemaURI returns the primary schema URN injected when a document
// omits its schemas array.
func DefaultSchemaURI(resourceType string) string {
	switch resourceType {
	case "User":
		return schema.UserSchema
	case "Group":
		return schema.GroupSchema
	}
	return "urn:scim:schemas:custom:2.0:" + resourceType
}

// UnmarshalResource parses a JSON stream into a validated SCIM resource.
// We go through an intermediate AttributeSet so that top-level members
// outside the typed header are collected and preserved verbatim.
func UnmarshalResource(resourceType string, data io.Reader) (*Resource, error) {
	decoder := json.NewDecoder(data)

	var attribs AttributeSet
	if err := decoder.Decode(&attribs); err != nil {
		return nil, trace.BadParameter("malformed SCIM document: %v", err)
	}
	if attribs == nil {
		return nil, trace.BadParameter("SCIM document root must be a JSON object")
	}

	res, err := DecodeResource(resourceType, attribs)
	if err != nil {
		return nil, trace.Wrap(err, "decoding %s resource", resourceType)
	}
	return res, nil
}

// DecodeResource converts a flat attribute set into a validated Resource.
func DecodeResource(resourceType string, attribs AttributeSet) (*Resource, error) {
	if attribs == nil {
		return nil, trace.BadParameter("SCIM document root must be a JSON object")
	}
	attribs = maps.Clone(attribs)

	// Meta is decoded by hand so that malformed sub-fields surface
	// field-specific errors rather than a generic decode failure.
	var meta *Metadata
	if raw, ok := attribs["meta"]; ok {
		delete(attribs, "meta")
		if raw != nil {
			decoded, err := DecodeMetadata(raw)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			meta = decoded
		}
	}

	var res Resource
	mapDecoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &res,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := mapDecoder.Decode(attribs); err != nil {
		return nil, trace.BadParameter("malformed SCIM document: %v", err)
	}

	res.ResourceType = resourceType
	res.Meta = meta
	if res.Attributes == nil {
		res.Attributes = AttributeSet{}
	}

	if err := res.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &res, nil
}

// CheckAndSetDefaults runs every non-storage-dependent validation rule
// over the resource and injects the default schemas array when absent.
func (r *Resource) CheckAndSetDefaults() error {
	if r.ResourceType == "" {
		return trace.BadParameter("resource is missing its resource type tag")
	}

	if r.Schemas == nil {
		r.Schemas = []string{DefaultSchemaURI(r.ResourceType)}
	}
	if len(r.Schemas) == 0 {
		return trace.Wrap(&ConstraintError{
			Kind:      ViolationEmptySchemas,
			Attribute: "schemas",
		})
	}
	for _, uri := range r.Schemas {
		if _, err := NewSchemaURI(uri); err != nil {
			return trace.Wrap(err)
		}
	}

	if r.Name != nil {
		if err := r.Name.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}

	for i := range r.Emails {
		if err := r.Emails[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	if err := r.Emails.Check("emails"); err != nil {
		return trace.Wrap(err)
	}

	for i := range r.PhoneNumbers {
		if err := r.PhoneNumbers[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	if err := r.PhoneNumbers.Check("phoneNumbers"); err != nil {
		return trace.Wrap(err)
	}

	for i := range r.Addresses {
		if err := r.Addresses[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	if err := r.Addresses.Check("addresses"); err != nil {
		return trace.Wrap(err)
	}

	for i := range r.Members {
		if err := r.Members[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}

	if r.Meta != nil {
		if err := r.Meta.Check(); err != nil {
			return trace.Wrap(err)
		}
	}

	return nil
}

// ToAttributeSet flattens the resource into its wire representation,
// merging the open attribute map back into the top level. Reserved names
// in the open map never shadow the typed header.
func (r *Resource) ToAttributeSet() (AttributeSet, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, trace.Wrap(err, "flattening %s resource", r.ResourceType)
	}

	var attribs AttributeSet
	if err := json.Unmarshal(data, &attribs); err != nil {
		return nil, trace.Wrap(err)
	}

	for key, value := range r.Attributes {
		if slices.Contains(reservedAttributeNames, key) {
			continue
		}
		attribs[key] = value
	}
	return attribs, nil
}

// MarshalResource flattens and serialises a SCIM resource to JSON.
func MarshalResource(r *Resource) ([]byte, error) {
	attribs, err := r.ToAttributeSet()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(attribs)
	if err != nil {
		return nil, trace.Wrap(err, "marshaling SCIM resource")
	}
	return data, nil
}

// CloneAttributeSet deep-copies an attribute set via a JSON round trip.
func CloneAttributeSet(attribs AttributeSet) (AttributeSet, error) {
	data, err := json.Marshal(attribs)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var clone AttributeSet
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, trace.Wrap(err)
	}
	if clone == nil {
		clone = AttributeSet{}
	}
	return clone, nil
}
