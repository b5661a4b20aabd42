// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating the principal via context

package auth

import (
	"context"
)

// principalKey is the key type for storing the Principal in context.Context.
type principalKey struct{}

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil if not present.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// MustFromContext retrieves the Principal from the context, panicking if not present.
func MustFromContext(ctx context.Context) Principal {
	p := FromContext(ctx)
	if p == nil {
		panic("auth: Principal not found in context")
	}
	return p
}

// HumanFromContext returns the human principal, or nil if the caller is not human.
func HumanFromContext(ctx context.Context) *Human {
	h, _ := FromContext(ctx).(*Human)
	return h
}

// AgentFromContext returns the agent principal, or nil if the caller is not an agent.
func AgentFromContext(ctx context.Context) *Agent {
	a, _ := FromContext(ctx).(*Agent)
	return a
}
