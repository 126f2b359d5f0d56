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
	_ "embed"
	"os"

	"github.com/gravitational/trace"
)

//go:embed core/user.json
var coreUserSchema []byte

//go:embed core/group.json
var coreGroupSchema []byte

// CoreUserSchema parses the embedded RFC 7643 core User schema.
func CoreUserSchema() (*Schema, error) {
	s, err := ParseSchema(coreUserSchema)
	return s, trace.Wrap(err)
}

// CoreGroupSchema parses the embedded RFC 7643 core Group schema.
func CoreGroupSchema() (*Schema, error) {
	s, err := ParseSchema(coreGroupSchema)
	return s, trace.Wrap(err)
}

// LoadSchemaFile parses a schema document from disk. Deployments that
// extend the core schemas point the server at their own documents.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, trace.Wrap(err, "parsing schema file %s", path)
	}
	return s, nil
}
