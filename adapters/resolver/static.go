package resolver

import (
	"context"

	"github.com/veridoc/authgate/ports"
)

// Static resolves every address to a fixed role. It stands in for the
// on-chain registry client in deployments that have not wired one.
type Static struct {
	role string
}

func NewStatic(role string) ports.RoleResolver {
	return &Static{role: role}
}

func (r *Static) ResolveRole(ctx context.Context, address string) (string, string, error) {
	return r.role, "", nil
}
