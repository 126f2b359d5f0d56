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

package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/types"
)

// versionLen is the length of the hex-encoded version token. The full
// SHA-256 digest is truncated for compactness; collisions within a single
// resource's history are what matter and 128 bits is plenty.
const versionLen = 32

// ComputeVersion derives the opaque content-hash version of a document.
// The hash is taken over the RFC 8785 canonical form (sorted keys, no
// insignificant whitespace) of the document minus meta.version itself, so
// two byte-canonically identical resources always version identically.
func ComputeVersion(doc types.AttributeSet) (string, error) {
	stripped, err := types.CloneAttributeSet(doc)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if meta, ok := stripped["meta"].(map[string]any); ok {
		delete(meta, "version")
		if len(meta) == 0 {
			delete(stripped, "meta")
		}
	}

	data, err := json.Marshal(stripped)
	if err != nil {
		return "", trace.Wrap(err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", trace.Wrap(err, "canonicalising document")
	}

	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:])[:versionLen], nil
}

// NormalizeVersion strips the ETag dressing from a client-supplied
// version: an optional W/ weak marker and optional surrounding quotes.
// Raw hashes pass through unchanged.
func NormalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	v = strings.TrimPrefix(v, "W/")
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = v[1 : len(v)-1]
	}
	return v
}

// WeakETag renders a version as a weak ETag header value.
func WeakETag(version string) string {
	return fmt.Sprintf(`W/%q`, version)
}

// StrongETag renders a version as a strong ETag header value.
func StrongETag(version string) string {
	return fmt.Sprintf("%q", version)
}

// VersionMismatchError is returned when an If-Match precondition fails.
// Both versions are carried for client display.
type VersionMismatchError struct {
	// Expected is the version the caller demanded, normalised
	Expected string
	// Current is the version actually stored
	Current string
}

// Error implements the error interface.
func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %q, current %q", e.Expected, e.Current)
}

// IsVersionMismatch reports whether err carries a VersionMismatchError.
func IsVersionMismatch(err error) bool {
	var mismatch *VersionMismatchError
	return errors.As(err, &mismatch)
}
