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

// Package tenant carries the per-request tenant context and builds
// tenant-correct resource URIs under the configured strategy.
package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim/lib/types"
)

// Context identifies the tenant and client a request acts on behalf of.
// The tenant id is the sharding key consumed by storage and the tenant
// token in generated URIs; it is plumbed through every call rather than
// stashed in server state.
type Context struct {
	// TenantID is the opaque tenant partition key
	TenantID string
	// ClientID identifies the provisioning client within the tenant
	ClientID string
}

// Strategy selects how tenant identity is encoded into resource URIs.
type Strategy string

const (
	// StrategySingle serves a single tenant; the tenant context is
	// optional and URIs carry no tenant token.
	StrategySingle Strategy = "single"

	// StrategySubdomain prefixes the host with the tenant id.
	StrategySubdomain Strategy = "subdomain"

	// StrategyPathBased prefixes the URL path with the tenant id.
	StrategyPathBased Strategy = "path"
)

// CheckAndSetDefaults validates the strategy, defaulting to single-tenant.
func (s *Strategy) CheckAndSetDefaults() error {
	if *s == "" {
		*s = StrategySingle
	}
	switch *s {
	case StrategySingle, StrategySubdomain, StrategyPathBased:
		return nil
	}
	return trace.BadParameter("unknown tenant strategy %q", *s)
}

// RequiresTenant reports whether the strategy demands a tenant id on
// every request.
func (s Strategy) RequiresTenant() bool {
	return s != StrategySingle
}

// RequiredError is returned when the strategy demands a tenant id but the
// request context omits one.
type RequiredError struct {
	// Strategy is the strategy that demanded the tenant
	Strategy Strategy
}

// Error implements the error interface.
func (e *RequiredError) Error() string {
	return fmt.Sprintf("tenant id is required under the %s strategy", e.Strategy)
}

// IsRequiredError reports whether err carries a RequiredError.
func IsRequiredError(err error) bool {
	var required *RequiredError
	return errors.As(err, &required)
}

// RefBuilder constructs tenant-correct resource URIs and injects $ref
// members into member collections.
type RefBuilder struct {
	base     *url.URL
	strategy Strategy
}

// NewRefBuilder parses the base URL and binds it to a strategy. The base
// URL must be absolute with an http or https scheme.
func NewRefBuilder(baseURL string, strategy Strategy) (*RefBuilder, error) {
	if err := strategy.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, trace.BadParameter("malformed base URL %q: %v", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, trace.BadParameter("base URL %q must use http or https", baseURL)
	}
	if base.Host == "" {
		return nil, trace.BadParameter("base URL %q has no host", baseURL)
	}
	return &RefBuilder{
		base:     base,
		strategy: strategy,
	}, nil
}

// Strategy returns the builder's configured strategy.
func (b *RefBuilder) Strategy() Strategy {
	return b.strategy
}

// ResourceURL builds the canonical URI of a resource: the strategy's
// tenant token, the /v2 prefix, the pluralised resource type and the id.
func (b *RefBuilder) ResourceURL(tc Context, resourceType, id string) (string, error) {
	endpoint, err := b.EndpointURL(tc, resourceType)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return endpoint + "/" + id, nil
}

// EndpointURL builds the URI of a resource type's collection endpoint.
func (b *RefBuilder) EndpointURL(tc Context, resourceType string) (string, error) {
	if b.strategy.RequiresTenant() && tc.TenantID == "" {
		return "", trace.Wrap(&RequiredError{Strategy: b.strategy})
	}

	basePath := strings.TrimSuffix(b.base.Path, "/")
	switch b.strategy {
	case StrategySubdomain:
		u := *b.base
		u.Host = tc.TenantID + "." + b.base.Host
		return u.Scheme + "://" + u.Host + basePath + "/v2/" + resourceType + "s", nil
	case StrategyPathBased:
		return b.base.Scheme + "://" + b.base.Host + basePath + "/" + tc.TenantID + "/v2/" + resourceType + "s", nil
	default:
		return b.base.Scheme + "://" + b.base.Host + basePath + "/v2/" + resourceType + "s", nil
	}
}

// InjectRefs walks the resource's member collection and fills in the
// $ref member of every entry that has both a value and a type, computed
// under the builder's strategy for the request's tenant.
func (b *RefBuilder) InjectRefs(tc Context, res *types.Resource) error {
	for i := range res.Members {
		member := &res.Members[i]
		if member.Value == "" || member.Type == "" {
			continue
		}
		ref, err := b.ResourceURL(tc, canonicalMemberType(member.Type), string(member.Value))
		if err != nil {
			return trace.Wrap(err)
		}
		member.Ref = ref
	}
	return nil
}

// canonicalMemberType folds a member type to its canonical User/Group
// capitalisation so generated URIs are stable regardless of client casing.
func canonicalMemberType(memberType string) string {
	for _, canonical := range []string{"User", "Group"} {
		if strings.EqualFold(memberType, canonical) {
			return canonical
		}
	}
	return memberType
}
