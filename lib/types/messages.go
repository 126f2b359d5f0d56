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
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
)

// ListResponse is the SCIM wrapper around a page of resources, as per
// RFC 7644 section 3.4.2.
type ListResponse struct {
	Schemas      []string       `json:"schemas"`
	TotalResults int            `json:"totalResults"`
	ItemsPerPage int            `json:"itemsPerPage,omitempty"`
	StartIndex   int            `json:"startIndex,omitempty"`
	Resources    []AttributeSet `json:"Resources"`
}

// MarshalResourceList flattens and formats a collection of resources,
// wrapping them in a valid SCIM list response before serialising to JSON.
func MarshalResourceList(resources []*Resource, totalResults, startIndex int) ([]byte, error) {
	flattened := make([]AttributeSet, len(resources))
	for i, res := range resources {
		attribs, err := res.ToAttributeSet()
		if err != nil {
			return nil, trace.Wrap(err, "flattening %s resource %s", res.ResourceType, res.ID)
		}
		flattened[i] = attribs
	}

	body, err := json.Marshal(ListResponse{
		Schemas:      []string{scim.ListResponseSchema},
		TotalResults: totalResults,
		ItemsPerPage: len(resources),
		StartIndex:   startIndex,
		Resources:    flattened,
	})
	if err != nil {
		return nil, trace.Wrap(err, "serializing resource list")
	}
	return body, nil
}

// ErrorResponse is the SCIM error document returned to identity-provider
// clients, as per RFC 7644 section 3.12.
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Status   string   `json:"status"`
}

// NewErrorResponse assembles a SCIM error document.
func NewErrorResponse(status string, scimType, detail string) *ErrorResponse {
	return &ErrorResponse{
		Schemas:  []string{scim.ErrorSchema},
		ScimType: scimType,
		Detail:   detail,
		Status:   status,
	}
}
