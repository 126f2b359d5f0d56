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
	"strings"
	"unicode"

	"github.com/gravitational/trace"
)

// maxComponentLen bounds the individual components of names, displays and
// similar free-text fields.
const maxComponentLen = 256

// ResourceID is a non-empty server-assigned resource identifier.
type ResourceID string

// NewResourceID validates and wraps a raw resource id.
func NewResourceID(s string) (ResourceID, error) {
	if s == "" {
		return "", trace.BadParameter("resource id must not be empty")
	}
	return ResourceID(s), nil
}

// SchemaURI is a syntactically valid SCIM schema URN.
type SchemaURI string

// NewSchemaURI validates and wraps a raw schema URN. Test schemas using a
// urn:...:test:... namespace are accepted alongside the standard
// scim:schemas namespaces.
func NewSchemaURI(s string) (SchemaURI, error) {
	if s == "" {
		return "", trace.BadParameter("schema URI must not be empty")
	}
	if !strings.HasPrefix(s, "urn:") {
		return "", trace.BadParameter("schema URI %q is not a URN", s)
	}
	if !strings.Contains(s, "scim:schemas") && !strings.Contains(s, ":test:") {
		return "", trace.BadParameter("schema URI %q is not in a SCIM schema namespace", s)
	}
	return SchemaURI(s), nil
}

// ExternalID is the provisioning client's identifier for a resource.
type ExternalID string

// NewExternalID validates and wraps a raw external id.
func NewExternalID(s string) (ExternalID, error) {
	if s == "" {
		return "", trace.BadParameter("externalId must not be empty")
	}
	return ExternalID(s), nil
}

// UserName is the service provider's unique identifier for a user, as per
// RFC 7643 section 4.1.1.
type UserName string

// NewUserName validates and wraps a raw user name.
func NewUserName(s string) (UserName, error) {
	if s == "" {
		return "", trace.BadParameter("userName must not be empty")
	}
	return UserName(s), nil
}

// Name holds the components of a user's real name. At least one component
// must be set.
type Name struct {
	Formatted       string `json:"formatted,omitempty" mapstructure:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty" mapstructure:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty" mapstructure:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty" mapstructure:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty" mapstructure:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty" mapstructure:"honorificSuffix,omitempty"`
}

// CheckAndSetDefaults validates the name components.
func (n *Name) CheckAndSetDefaults() error {
	components := []struct {
		field string
		value string
	}{
		{"formatted", n.Formatted},
		{"familyName", n.FamilyName},
		{"givenName", n.GivenName},
		{"middleName", n.MiddleName},
		{"honorificPrefix", n.HonorificPrefix},
		{"honorificSuffix", n.HonorificSuffix},
	}
	any := false
	for _, c := range components {
		if c.value == "" {
			continue
		}
		any = true
		if len(c.value) > maxComponentLen {
			return trace.BadParameter("name.%s exceeds %d characters", c.field, maxComponentLen)
		}
		if err := checkPrintable("name." + c.field)(c.value); err != nil {
			return trace.Wrap(err)
		}
	}
	if !any {
		return trace.BadParameter("name must have at least one component")
	}
	return nil
}

// checkPrintable rejects control characters other than tab and newline.
func checkPrintable(attr string) func(string) error {
	return func(s string) error {
		for _, r := range s {
			if unicode.IsControl(r) && r != '\t' && r != '\n' {
				return trace.BadParameter("%s contains control characters", attr)
			}
		}
		return nil
	}
}

// EmailAddress is one element of a user's emails attribute.
type EmailAddress struct {
	Value   string `json:"value" mapstructure:"value"`
	Type    string `json:"type,omitempty" mapstructure:"type,omitempty"`
	Display string `json:"display,omitempty" mapstructure:"display,omitempty"`
	Primary bool   `json:"primary,omitempty" mapstructure:"primary,omitempty"`
}

// CheckAndSetDefaults validates the email element.
func (e *EmailAddress) CheckAndSetDefaults() error {
	if e.Value == "" {
		return trace.BadParameter("email value must not be empty")
	}
	return nil
}

// IsPrimary implements [PrimaryFlagged].
func (e EmailAddress) IsPrimary() bool { return e.Primary }

// phoneNumberTypes is the canonical set of phone number types from
// RFC 7643 section 4.1.2.
var phoneNumberTypes = []string{"work", "home", "mobile", "fax", "pager", "other"}

// phoneNumberChars are the characters permitted in a phone number value
// once the optional tel: prefix is stripped.
const phoneNumberChars = "0123456789+-().: "

// PhoneNumber is one element of a user's phoneNumbers attribute.
type PhoneNumber struct {
	Value   string `json:"value" mapstructure:"value"`
	Type    string `json:"type,omitempty" mapstructure:"type,omitempty"`
	Display string `json:"display,omitempty" mapstructure:"display,omitempty"`
	Primary bool   `json:"primary,omitempty" mapstructure:"primary,omitempty"`
}

// CheckAndSetDefaults validates the phone number element.
func (p *PhoneNumber) CheckAndSetDefaults() error {
	if p.Value == "" {
		return trace.BadParameter("phone number value must not be empty")
	}
	digits := strings.TrimPrefix(p.Value, "tel:")
	hasDigit := false
	for _, r := range digits {
		if r >= '0' && r <= '9' {
			hasDigit = true
			continue
		}
		if !strings.ContainsRune(phoneNumberChars, r) {
			return trace.BadParameter("phone number %q contains invalid character %q", p.Value, r)
		}
	}
	if !hasDigit {
		return trace.BadParameter("phone number %q contains no digits", p.Value)
	}
	if p.Type != "" && !containsFold(phoneNumberTypes, p.Type) {
		return trace.BadParameter("phone number type %q is not one of %v", p.Type, phoneNumberTypes)
	}
	return nil
}

// IsPrimary implements [PrimaryFlagged].
func (p PhoneNumber) IsPrimary() bool { return p.Primary }

// Address is one element of a user's addresses attribute.
type Address struct {
	Formatted     string `json:"formatted,omitempty" mapstructure:"formatted,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty" mapstructure:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty" mapstructure:"locality,omitempty"`
	Region        string `json:"region,omitempty" mapstructure:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty" mapstructure:"postalCode,omitempty"`
	Country       string `json:"country,omitempty" mapstructure:"country,omitempty"`
	Type          string `json:"type,omitempty" mapstructure:"type,omitempty"`
	Primary       bool   `json:"primary,omitempty" mapstructure:"primary,omitempty"`
}

// CheckAndSetDefaults validates the address element. Country, when set,
// must be an ISO 3166-1 alpha-2 code.
func (a *Address) CheckAndSetDefaults() error {
	if a.Formatted == "" && a.StreetAddress == "" && a.Locality == "" &&
		a.Region == "" && a.PostalCode == "" && a.Country == "" {
		return trace.BadParameter("address must have at least one component")
	}
	if a.Country != "" {
		if len(a.Country) != 2 {
			return trace.BadParameter("address country %q is not an ISO 3166-1 alpha-2 code", a.Country)
		}
		for _, r := range a.Country {
			if r < 'A' || r > 'Z' {
				return trace.BadParameter("address country %q is not an ISO 3166-1 alpha-2 code", a.Country)
			}
		}
	}
	return nil
}

// IsPrimary implements [PrimaryFlagged].
func (a Address) IsPrimary() bool { return a.Primary }

// groupMemberTypes is the canonical set of member types for the Group
// members attribute.
var groupMemberTypes = []string{"User", "Group"}

// GroupMember is one element of a group's members attribute. The member
// reference is weak: the server does not enforce that the target exists.
type GroupMember struct {
	Value   ResourceID `json:"value" mapstructure:"value"`
	Type    string     `json:"type,omitempty" mapstructure:"type,omitempty"`
	Display string     `json:"display,omitempty" mapstructure:"display,omitempty"`
	Ref     string     `json:"$ref,omitempty" mapstructure:"$ref,omitempty"`
}

// CheckAndSetDefaults validates the group member element.
func (m *GroupMember) CheckAndSetDefaults() error {
	if m.Value == "" {
		return trace.BadParameter("group member value must not be empty")
	}
	if m.Type != "" && !containsFold(groupMemberTypes, m.Type) {
		return trace.BadParameter("group member type %q is not one of %v", m.Type, groupMemberTypes)
	}
	if len(m.Display) > maxComponentLen {
		return trace.BadParameter("group member display exceeds %d characters", maxComponentLen)
	}
	return nil
}

// IsPrimary implements [PrimaryFlagged]. Group members carry no primary
// flag; the element is never primary.
func (m GroupMember) IsPrimary() bool { return false }

// PrimaryFlagged is implemented by multi-valued attribute elements that
// may carry a primary flag.
type PrimaryFlagged interface {
	IsPrimary() bool
}

// MultiValued is an ordered collection of multi-valued attribute elements.
// At most one element may be flagged primary.
type MultiValued[T PrimaryFlagged] []T

// Check enforces the at-most-one-primary invariant across the collection.
func (m MultiValued[T]) Check(attr string) error {
	primaries := 0
	for _, elem := range m {
		if elem.IsPrimary() {
			primaries++
		}
	}
	if primaries > 1 {
		return trace.Wrap(&ConstraintError{
			Kind:      ViolationMultiplePrimary,
			Attribute: attr,
		})
	}
	return nil
}

// containsFold reports whether set contains s under case folding.
func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
