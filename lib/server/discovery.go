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
	"sort"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/schema"
	"github.com/gravitational/scim/lib/tenant"
)

// FeatureSupport is the `{"supported": bool}` shape shared by the
// service provider configuration's feature blocks.
type FeatureSupport struct {
	Supported bool `json:"supported"`
}

// FilterSupport extends FeatureSupport with the mandatory maxResults
// member.
type FilterSupport struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

// BulkSupport extends FeatureSupport with the mandatory bulk limits.
type BulkSupport struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

// AuthenticationScheme describes one advertised authentication scheme.
type AuthenticationScheme struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SpecURI     string `json:"specUri,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
}

// ServiceProviderConfig is the /ServiceProviderConfig discovery document
// per RFC 7643 section 5.
type ServiceProviderConfig struct {
	Schemas               []string               `json:"schemas"`
	DocumentationURI      string                 `json:"documentationUri,omitempty"`
	Patch                 FeatureSupport         `json:"patch"`
	Bulk                  BulkSupport            `json:"bulk"`
	Filter                FilterSupport          `json:"filter"`
	ChangePassword        FeatureSupport         `json:"changePassword"`
	Sort                  FeatureSupport         `json:"sort"`
	ETag                  FeatureSupport         `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
}

// SchemaExtensionRef is one entry of a resource type's schemaExtensions
// array.
type SchemaExtensionRef struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// ResourceTypeDoc is one /ResourceTypes discovery document per RFC 7643
// section 6.
type ResourceTypeDoc struct {
	Schemas          []string             `json:"schemas"`
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	Endpoint         string               `json:"endpoint"`
	Schema           string               `json:"schema"`
	SchemaExtensions []SchemaExtensionRef `json:"schemaExtensions,omitempty"`
}

// SchemaDoc is one /Schemas discovery document: the schema definition
// wrapped with its message URN.
type SchemaDoc struct {
	Schemas     []string           `json:"schemas"`
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Attributes  []schema.Attribute `json:"attributes"`
}

// ServiceProviderConfig renders the service provider configuration from
// the configured capabilities. ETag support is always advertised: every
// resource carries a content-hash version.
func (s *Server) ServiceProviderConfig() *ServiceProviderConfig {
	cfg := &ServiceProviderConfig{
		Schemas:        []string{scim.ServiceProviderConfigSchema},
		Patch:          FeatureSupport{Supported: s.caps.Patch},
		ChangePassword: FeatureSupport{Supported: s.caps.ChangePassword},
		Sort:           FeatureSupport{Supported: s.caps.Sort},
		ETag:           FeatureSupport{Supported: true},
		AuthenticationSchemes: []AuthenticationScheme{{
			Type:        "oauthbearertoken",
			Name:        "OAuth Bearer Token",
			Description: "Authentication scheme using the OAuth Bearer Token Standard",
			SpecURI:     "http://www.rfc-editor.org/info/rfc6750",
			Primary:     true,
		}},
	}
	if s.caps.Filter {
		cfg.Filter = FilterSupport{Supported: true, MaxResults: 200}
	}
	if s.caps.Bulk {
		cfg.Bulk = BulkSupport{Supported: true, MaxOperations: 1000, MaxPayloadSize: 1048576}
	}
	return cfg
}

// ResourceTypes renders a discovery document per registered resource
// type, with endpoints computed under the request's tenant.
func (s *Server) ResourceTypes(tc tenant.Context) ([]*ResourceTypeDoc, error) {
	s.mu.RLock()
	handlers := make([]*resourceTypeHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].name < handlers[j].name
	})

	docs := make([]*ResourceTypeDoc, 0, len(handlers))
	for _, h := range handlers {
		endpoint, err := s.refs.EndpointURL(tc, h.name)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		doc := &ResourceTypeDoc{
			Schemas:     []string{scim.ResourceTypeSchema},
			ID:          h.name,
			Name:        h.name,
			Description: h.description,
			Endpoint:    endpoint,
			Schema:      h.schema.ID,
		}
		for _, extension := range h.extensions {
			doc.SchemaExtensions = append(doc.SchemaExtensions, SchemaExtensionRef{
				Schema: extension,
			})
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Schemas renders every registered schema as a discovery document, in
// registration order.
func (s *Server) Schemas() []*SchemaDoc {
	registered := s.registry.Schemas()
	docs := make([]*SchemaDoc, 0, len(registered))
	for _, sc := range registered {
		docs = append(docs, &SchemaDoc{
			Schemas:     []string{scim.SchemaSchema},
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			Attributes:  sc.Attributes,
		})
	}
	return docs
}
