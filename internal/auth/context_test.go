// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests principal propagation helpers and the tagged union accessors

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/agentdrop/internal/store"
)

func TestFromContext_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Nil(t, HumanFromContext(ctx))
	assert.Nil(t, AgentFromContext(ctx))
}

func TestWithPrincipal_Human(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &Human{UserID: "user-1"})

	p := FromContext(ctx)
	assert.Equal(t, "user-1", p.ID())
	assert.Equal(t, store.PrincipalHuman, p.Type())
	assert.NotNil(t, HumanFromContext(ctx))
	assert.Nil(t, AgentFromContext(ctx))
}

func TestWithPrincipal_Agent(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &Agent{KeyHash: "hash-1", KeyID: "key-1", UserID: "user-1"})

	p := FromContext(ctx)
	assert.Equal(t, "hash-1", p.ID())
	assert.Equal(t, store.PrincipalAgent, p.Type())
	assert.Nil(t, HumanFromContext(ctx))
	assert.Equal(t, "key-1", AgentFromContext(ctx).KeyID)
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() { MustFromContext(context.Background()) })
	assert.NotPanics(t, func() {
		MustFromContext(WithPrincipal(context.Background(), &Human{UserID: "u"}))
	})
}

func TestError_CodeMatching(t *testing.T) {
	err := &Error{Code: CodeBadSignature, Reason: "nope", Err: assert.AnError}

	assert.ErrorIs(t, err, Reject(CodeBadSignature, "other reason"))
	assert.NotErrorIs(t, err, Reject(CodeStaleRequest, ""))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, CodeBadSignature, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(assert.AnError))
	assert.True(t, IsTransient(Unavailable("db down", assert.AnError)))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "BAD_SIGNATURE")
}
