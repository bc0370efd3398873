package services

import (
	"context"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

type principalKey struct{}

// WithPrincipal returns a child context carrying the authenticated key.
func WithPrincipal(ctx context.Context, k *domain.APIKey) context.Context {
	return context.WithValue(ctx, principalKey{}, k)
}

// PrincipalFrom returns the authenticated key, or nil for anonymous calls.
func PrincipalFrom(ctx context.Context) *domain.APIKey {
	k, _ := ctx.Value(principalKey{}).(*domain.APIKey)
	return k
}

// principalID returns the surrogate id of the caller, or nil.
func principalID(ctx context.Context) *uint {
	if k := PrincipalFrom(ctx); k != nil {
		id := k.ID
		return &id
	}
	return nil
}
