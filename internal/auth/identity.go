// Package auth resolves API keys to callers and guards the HTTP routes.
package auth

import (
	"context"
	"slices"
)

const (
	RoleQueryReader   = "query_reader"
	RoleHistoryReader = "history_reader"
)

var knownRoles = []string{RoleHistoryReader, RoleQueryReader}

// Identity is the authenticated caller. The query pipeline records Caller
// with every history entry and scopes history reads to it.
type Identity struct {
	Caller string
	Roles  []string
}

// Anonymous stands in for every request when authentication is off.
func Anonymous() Identity {
	return Identity{Caller: "anonymous", Roles: slices.Clone(knownRoles)}
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
