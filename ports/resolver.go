package ports

import "context"

// RoleResolver resolves the role and optional identity handle for a
// wallet address against an external registry. Resolution is used
// opportunistically; session-exchange invariants never depend on it.
type RoleResolver interface {
	ResolveRole(ctx context.Context, address string) (role string, handle string, err error)
}
