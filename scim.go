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

// Package scim holds constants shared across the SCIM server library.
package scim

import "strings"

const (
	// ComponentKey is the log field holding the name of the component
	// emitting a log entry.
	ComponentKey = "component"

	// ComponentSchema is the schema registry and validator
	ComponentSchema = "scim:schema"

	// ComponentProvider is the versioned resource provider
	ComponentProvider = "scim:provider"

	// ComponentServer is the server orchestrator
	ComponentServer = "scim:server"

	// ComponentBackend is the storage backend layer
	ComponentBackend = "scim:backend"

	// ComponentHandler is the transport-agnostic operation handler
	ComponentHandler = "scim:handler"
)

// Component generates a colon-joined component name for logging from the
// supplied parts.
func Component(parts ...string) string {
	return strings.Join(parts, ":")
}

const (
	// ResourceTypeUser indicates that a SCIM resource is a user, as per RFC 7643
	ResourceTypeUser = "User"

	// ResourceTypeGroup indicates that a SCIM resource is a group, as per RFC 7643
	ResourceTypeGroup = "Group"
)

const (
	// ListResponseSchema is the message URN wrapping list responses
	ListResponseSchema = "urn:ietf:params:scim:api:messages:2.0:ListResponse"

	// PatchOpSchema is the message URN carried by PATCH request bodies
	PatchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

	// ErrorSchema is the message URN carried by SCIM error documents
	ErrorSchema = "urn:ietf:params:scim:api:messages:2.0:Error"

	// SearchRequestSchema is the message URN carried by .search bodies
	SearchRequestSchema = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"

	// ServiceProviderConfigSchema identifies the service provider
	// configuration discovery document
	ServiceProviderConfigSchema = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"

	// ResourceTypeSchema identifies resource type discovery documents
	ResourceTypeSchema = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"

	// SchemaSchema identifies schema discovery documents
	SchemaSchema = "urn:ietf:params:scim:schemas:core:2.0:Schema"
)
