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

package patch

import (
	"strings"

	"github.com/gravitational/trace"
)

// Path is a parsed SCIM attribute path: `attr`, `attr.sub`,
// `attr[sub eq "value"]` or `attr[sub eq "value"].sub`.
type Path struct {
	// Attr is the top-level attribute name
	Attr string
	// Filter is the optional value filter selecting elements of a
	// multi-valued attribute
	Filter *Filter
	// Sub is the optional sub-attribute within the target
	Sub string
}

// Filter is the single supported value-filter form: `attr eq "value"`.
type Filter struct {
	Attr  string
	Value string
}

// parsePath parses the SCIM path grammar subset used by PATCH
// operations.
func parsePath(raw string) (*Path, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, trace.BadParameter("empty attribute path")
	}

	var path Path

	if open := strings.IndexByte(s, '['); open >= 0 {
		closing := strings.IndexByte(s, ']')
		if closing < open {
			return nil, trace.BadParameter("unbalanced brackets in path %q", raw)
		}
		path.Attr = s[:open]
		filter, err := parseFilter(s[open+1 : closing])
		if err != nil {
			return nil, trace.Wrap(err, "parsing filter in path %q", raw)
		}
		path.Filter = filter

		rest := s[closing+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ".") || len(rest) == 1 {
				return nil, trace.BadParameter("malformed sub-attribute in path %q", raw)
			}
			path.Sub = rest[1:]
		}
	} else if dot := strings.IndexByte(s, '.'); dot >= 0 {
		path.Attr = s[:dot]
		path.Sub = s[dot+1:]
		if path.Sub == "" {
			return nil, trace.BadParameter("malformed sub-attribute in path %q", raw)
		}
	} else {
		path.Attr = s
	}

	if path.Attr == "" {
		return nil, trace.BadParameter("missing attribute name in path %q", raw)
	}
	return &path, nil
}

// parseFilter parses the bracketed `attr eq "value"` form.
func parseFilter(raw string) (*Filter, error) {
	s := strings.TrimSpace(raw)

	fields := strings.SplitN(s, " ", 3)
	if len(fields) != 3 {
		return nil, trace.BadParameter("malformed filter %q", raw)
	}
	if !strings.EqualFold(strings.TrimSpace(fields[1]), "eq") {
		return nil, trace.BadParameter("unsupported filter operator %q", fields[1])
	}

	value := strings.TrimSpace(fields[2])
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}

	return &Filter{
		Attr:  strings.TrimSpace(fields[0]),
		Value: value,
	}, nil
}
