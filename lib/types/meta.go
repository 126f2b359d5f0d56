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
	"time"

	"github.com/gravitational/trace"
)

// Metadata is the server-controlled meta complex attribute attached to
// every stored resource, as per RFC 7643 section 3.1.
type Metadata struct {
	ResourceType string     `json:"resourceType,omitempty" mapstructure:"resourceType,omitempty"`
	Created      *time.Time `json:"created,omitempty" mapstructure:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty" mapstructure:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty" mapstructure:"location,omitempty"`
	Version      string     `json:"version,omitempty" mapstructure:"version,omitempty"`
}

// NewMetadata stamps fresh metadata for a resource that is about to be
// created. Created and lastModified are set to the same instant, in UTC.
// The version is left unset; it is assigned by the versioned provider just
// before persistence.
func NewMetadata(resourceType string, now time.Time) *Metadata {
	ts := now.UTC()
	return &Metadata{
		ResourceType: resourceType,
		Created:      &ts,
		LastModified: &ts,
	}
}

// Touch updates only the lastModified timestamp.
func (m *Metadata) Touch(now time.Time) {
	ts := now.UTC()
	m.LastModified = &ts
}

// Check validates the metadata invariants.
func (m *Metadata) Check() error {
	if m.ResourceType != "" {
		for _, r := range m.ResourceType {
			ok := r == '_' ||
				(r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9')
			if !ok {
				return trace.Wrap(&ConstraintError{
					Kind:      ViolationInvalidMeta,
					Attribute: "meta.resourceType",
					Value:     m.ResourceType,
				})
			}
		}
	}
	if m.Created != nil && m.LastModified != nil && m.LastModified.Before(*m.Created) {
		return trace.Wrap(&ConstraintError{
			Kind:      ViolationInvalidMeta,
			Attribute: "meta.lastModified",
			Detail:    "lastModified precedes created",
		})
	}
	if m.Location != "" && !strings.HasPrefix(m.Location, "http://") && !strings.HasPrefix(m.Location, "https://") {
		return trace.Wrap(&ConstraintError{
			Kind:      ViolationInvalidMeta,
			Attribute: "meta.location",
			Value:     m.Location,
		})
	}
	if m.Version != "" {
		if err := checkVersionFormat(m.Version); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// checkVersionFormat accepts a raw content hash, a quoted strong ETag or a
// weak ETag of the form W/"...".
func checkVersionFormat(v string) error {
	quoted := v
	if strings.HasPrefix(quoted, "W/") {
		quoted = quoted[2:]
		if len(quoted) < 2 || !strings.HasPrefix(quoted, `"`) || !strings.HasSuffix(quoted, `"`) {
			return trace.Wrap(&ConstraintError{
				Kind:      ViolationInvalidMeta,
				Attribute: "meta.version",
				Value:     v,
				Detail:    "malformed weak ETag",
			})
		}
		return nil
	}
	if strings.HasPrefix(quoted, `"`) {
		if len(quoted) < 2 || !strings.HasSuffix(quoted, `"`) {
			return trace.Wrap(&ConstraintError{
				Kind:      ViolationInvalidMeta,
				Attribute: "meta.version",
				Value:     v,
				Detail:    "malformed strong ETag",
			})
		}
	}
	return nil
}

// DecodeMetadata converts the raw JSON value of a meta member into a
// Metadata, producing field-specific errors for malformed sub-fields.
// Partial metadata is accepted.
func DecodeMetadata(raw any) (*Metadata, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, trace.Wrap(&ConstraintError{
			Kind:      ViolationInvalidMeta,
			Attribute: "meta",
			Detail:    "meta must be a JSON object",
		})
	}

	var meta Metadata
	for key, value := range obj {
		switch strings.ToLower(key) {
		case "resourcetype":
			s, ok := value.(string)
			if !ok {
				return nil, trace.Wrap(&ConstraintError{
					Kind:      ViolationInvalidMeta,
					Attribute: "meta.resourceType",
					Detail:    "resourceType must be a string",
				})
			}
			meta.ResourceType = s
		case "created":
			ts, err := decodeMetaTime("meta.created", value)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			meta.Created = ts
		case "lastmodified":
			ts, err := decodeMetaTime("meta.lastModified", value)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			meta.LastModified = ts
		case "location":
			s, ok := value.(string)
			if !ok {
				return nil, trace.Wrap(&ConstraintError{
					Kind:      ViolationInvalidMeta,
					Attribute: "meta.location",
					Detail:    "location must be a string",
				})
			}
			meta.Location = s
		case "version":
			s, ok := value.(string)
			if !ok {
				return nil, trace.Wrap(&ConstraintError{
					Kind:      ViolationInvalidMeta,
					Attribute: "meta.version",
					Detail:    "version must be a string",
				})
			}
			meta.Version = s
		default:
			// Unknown meta members are dropped; meta is entirely
			// server-controlled.
		}
	}

	if err := meta.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &meta, nil
}

// decodeMetaTime parses an RFC 3339 timestamp member of meta.
func decodeMetaTime(attr string, value any) (*time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return nil, trace.Wrap(&ConstraintError{
			Kind:      ViolationInvalidMeta,
			Attribute: attr,
			Detail:    "timestamp must be an RFC 3339 string",
		})
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, trace.Wrap(&ConstraintError{
			Kind:      ViolationInvalidMeta,
			Attribute: attr,
			Value:     s,
			Detail:    "timestamp is not RFC 3339",
		})
	}
	return &ts, nil
}
