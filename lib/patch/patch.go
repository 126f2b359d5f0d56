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

// Package patch implements RFC 7644 PATCH requests: parsing the PatchOp
// message and applying add/replace/remove operations to a deep clone of
// the stored document. The patched document is then routed through the
// ordinary replace path for full validation.
package patch

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/types"
)

// Operation is a single entry of a PatchOp Operations array.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Request is a parsed SCIM PatchOp message.
type Request struct {
	Schemas    []string    `json:"schemas"`
	Operations []Operation `json:"Operations"`
}

// ParseRequest deserialises and validates a PATCH body.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, trace.BadParameter("malformed PATCH request: %v", err)
	}
	if !slices.Contains(req.Schemas, scim.PatchOpSchema) {
		return nil, trace.BadParameter("PATCH request is missing the %s schema", scim.PatchOpSchema)
	}
	if len(req.Operations) == 0 {
		return nil, trace.BadParameter("PATCH request has no operations")
	}
	for i := range req.Operations {
		op := &req.Operations[i]
		switch strings.ToLower(op.Op) {
		case "add", "replace":
			if op.Value == nil {
				return nil, trace.BadParameter("%s operation requires a value", op.Op)
			}
		case "remove":
			if op.Path == "" {
				return nil, trace.BadParameter("remove operation requires a path")
			}
		default:
			return nil, trace.BadParameter("unknown PATCH operation %q", op.Op)
		}
	}
	return &req, nil
}

// Apply runs every operation in order against a deep clone of the
// document and returns the patched clone. The input document is never
// mutated.
func Apply(req *Request, doc types.AttributeSet) (types.AttributeSet, error) {
	clone, err := types.CloneAttributeSet(doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	for i := range req.Operations {
		op := &req.Operations[i]
		var err error
		switch strings.ToLower(op.Op) {
		case "add":
			err = applySet(clone, op, true)
		case "replace":
			err = applySet(clone, op, false)
		case "remove":
			err = applyRemove(clone, op)
		}
		if err != nil {
			return nil, trace.Wrap(err, "applying %s operation %d", op.Op, i)
		}
	}
	return clone, nil
}

// applySet handles add and replace. Add appends to existing multi-valued
// targets; replace overwrites them.
func applySet(doc types.AttributeSet, op *Operation, add bool) error {
	if op.Path == "" {
		obj, ok := op.Value.(map[string]any)
		if !ok {
			return trace.BadParameter("pathless %s requires an object value", op.Op)
		}
		for member, value := range obj {
			setMember(doc, member, value, add)
		}
		return nil
	}

	path, err := parsePath(op.Path)
	if err != nil {
		return trace.Wrap(err)
	}

	if path.Filter == nil {
		if path.Sub == "" {
			setMember(doc, path.Attr, op.Value, add)
			return nil
		}
		key, ok := findKey(doc, path.Attr)
		if !ok {
			key = path.Attr
			doc[key] = map[string]any{}
		}
		obj, ok := doc[key].(map[string]any)
		if !ok {
			return trace.BadParameter("path %q does not address a complex attribute", op.Path)
		}
		setMember(obj, path.Sub, op.Value, add)
		return nil
	}

	elems, err := filteredElements(doc, path)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(elems) == 0 {
		return trace.NotFound("path %q matches no target", op.Path)
	}
	for _, elem := range elems {
		if path.Sub != "" {
			setMember(elem, path.Sub, op.Value, add)
			continue
		}
		obj, ok := op.Value.(map[string]any)
		if !ok {
			return trace.BadParameter("filtered %s without a sub-attribute requires an object value", op.Op)
		}
		for member, value := range obj {
			setMember(elem, member, value, add)
		}
	}
	return nil
}

// applyRemove handles remove at every supported path shape.
func applyRemove(doc types.AttributeSet, op *Operation) error {
	path, err := parsePath(op.Path)
	if err != nil {
		return trace.Wrap(err)
	}

	if path.Filter == nil {
		key, ok := findKey(doc, path.Attr)
		if !ok {
			return nil
		}
		if path.Sub == "" {
			delete(doc, key)
			return nil
		}
		obj, ok := doc[key].(map[string]any)
		if !ok {
			return trace.BadParameter("path %q does not address a complex attribute", op.Path)
		}
		if subKey, ok := findKey(obj, path.Sub); ok {
			delete(obj, subKey)
		}
		return nil
	}

	key, ok := findKey(doc, path.Attr)
	if !ok {
		return trace.NotFound("path %q matches no target", op.Path)
	}
	arr, ok := doc[key].([]any)
	if !ok {
		return trace.BadParameter("path %q does not address a multi-valued attribute", op.Path)
	}

	if path.Sub != "" {
		matched := false
		for _, elem := range arr {
			obj, ok := elem.(map[string]any)
			if !ok || !matchesFilter(obj, path.Filter) {
				continue
			}
			matched = true
			if subKey, ok := findKey(obj, path.Sub); ok {
				delete(obj, subKey)
			}
		}
		if !matched {
			return trace.NotFound("path %q matches no target", op.Path)
		}
		return nil
	}

	kept := arr[:0]
	matched := false
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if ok && matchesFilter(obj, path.Filter) {
			matched = true
			continue
		}
		kept = append(kept, elem)
	}
	if !matched {
		return trace.NotFound("path %q matches no target", op.Path)
	}
	if len(kept) == 0 {
		delete(doc, key)
	} else {
		doc[key] = kept
	}
	return nil
}

// setMember assigns value at a member of obj. When add is true and both
// the existing member and the value are arrays, the value is appended;
// when only the target is an array a scalar is appended to it.
func setMember(obj map[string]any, member string, value any, add bool) {
	key, ok := findKey(obj, member)
	if !ok {
		obj[member] = value
		return
	}
	if add {
		if existing, isArray := obj[key].([]any); isArray {
			if incoming, ok := value.([]any); ok {
				obj[key] = append(existing, incoming...)
			} else {
				obj[key] = append(existing, value)
			}
			return
		}
	}
	obj[key] = value
}

// filteredElements returns the elements of the multi-valued attribute at
// path.Attr that satisfy the path's filter.
func filteredElements(doc types.AttributeSet, path *Path) ([]map[string]any, error) {
	key, ok := findKey(doc, path.Attr)
	if !ok {
		return nil, nil
	}
	arr, ok := doc[key].([]any)
	if !ok {
		return nil, trace.BadParameter("attribute %q is not multi-valued", path.Attr)
	}
	var matches []map[string]any
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if matchesFilter(obj, path.Filter) {
			matches = append(matches, obj)
		}
	}
	return matches, nil
}

// matchesFilter evaluates the single supported eq filter against one
// element.
func matchesFilter(obj map[string]any, filter *Filter) bool {
	key, ok := findKey(obj, filter.Attr)
	if !ok {
		return false
	}
	str, ok := obj[key].(string)
	if !ok {
		data, err := json.Marshal(obj[key])
		return err == nil && string(data) == filter.Value
	}
	return strings.EqualFold(str, filter.Value)
}

// findKey locates a member of obj by case-insensitive name.
func findKey(obj map[string]any, name string) (string, bool) {
	if _, ok := obj[name]; ok {
		return name, true
	}
	for key := range obj {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}
