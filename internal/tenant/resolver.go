// Package tenant resolves the authenticated principal to a search index.
package tenant

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoIndex indicates that no search index could be resolved for the
// principal. Callers treat this as "skip augmentation", not a request error.
var ErrNoIndex = errors.New("no search index resolved")

// identifierPattern matches characters permitted in index names.
var identifierPattern = regexp.MustCompile(`[^a-z0-9_-]+`)

// Principal is the verified identity the resolver routes on.
type Principal struct {
	// TenantID is the organizational scope from the token's tid claim.
	TenantID string
	// ObjectID is the principal's oid claim.
	ObjectID string
	// Username is the preferred_username claim (fallback: upn), usually a
	// mailbox address.
	Username string
}

// Resolver maps principals to search indexes.
//
// Resolution order is a deliberate, single policy (the predecessor system
// mixed three): an explicit per-tenant mapping wins, then the mailbox local
// part of the username, then the configured default. An empty result means
// augmentation is skipped for the request.
type Resolver struct {
	// indexByTenant is the explicit tenant-id → index mapping.
	indexByTenant map[string]string
	// defaultIndex is used when nothing else resolves. May be empty.
	defaultIndex string
}

// NewResolver creates a resolver with an explicit mapping and default index.
func NewResolver(indexByTenant map[string]string, defaultIndex string) *Resolver {
	return &Resolver{
		indexByTenant: indexByTenant,
		defaultIndex:  defaultIndex,
	}
}

// Resolve returns the search index for the principal.
func (r *Resolver) Resolve(p Principal) (string, error) {
	if index, ok := r.indexByTenant[p.TenantID]; ok && index != "" {
		return index, nil
	}

	if local := mailboxLocalPart(p.Username); local != "" {
		return local, nil
	}

	if r.defaultIndex != "" {
		return r.defaultIndex, nil
	}

	return "", ErrNoIndex
}

// mailboxLocalPart extracts the part before '@' from a mailbox address and
// sanitizes it into a valid index name. Usernames without '@' are used
// whole; unusable names collapse to "".
func mailboxLocalPart(username string) string {
	local := username
	if at := strings.IndexByte(username, '@'); at >= 0 {
		local = username[:at]
	}
	return sanitizeIdentifier(local)
}

// sanitizeIdentifier lowercases the name and strips every character that is
// not valid in an index name.
func sanitizeIdentifier(s string) string {
	s = identifierPattern.ReplaceAllString(strings.ToLower(s), "")
	return s
}
