// ABOUTME: Authenticated principal: either a human user or an agent key
// ABOUTME: A closed tagged union resolved once per request

package auth

import (
	"crypto/ed25519"

	"github.com/2389/agentdrop/internal/store"
)

// Principal is the authenticated identity behind a request.
// The only implementations are Human and Agent.
type Principal interface {
	// ID is the owner identifier used for files and grants:
	// the user id for humans, the key hash for agents.
	ID() string
	Type() store.PrincipalType
	isPrincipal()
}

// Human is a user authenticated by a session bearer token.
type Human struct {
	UserID string
}

func (h *Human) ID() string                { return h.UserID }
func (h *Human) Type() store.PrincipalType { return store.PrincipalHuman }
func (*Human) isPrincipal()                {}

// Agent is a caller authenticated by an Ed25519 request signature.
type Agent struct {
	KeyHash   string
	KeyID     string // registry row id
	UserID    string // owning human
	PublicKey ed25519.PublicKey
}

func (a *Agent) ID() string                { return a.KeyHash }
func (a *Agent) Type() store.PrincipalType { return store.PrincipalAgent }
func (*Agent) isPrincipal()                {}
