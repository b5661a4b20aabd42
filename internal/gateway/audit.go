// ABOUTME: Synchronous audit recording for API actions
// ABOUTME: A failed audit write is logged and never fails the request

package gateway

import (
	"context"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/store"
)

// audit records action by p on a resource. keyID names the agent key row the
// entry belongs to; agent callers default to their own key.
func (g *Gateway) audit(ctx context.Context, p auth.Principal, action store.AuditAction, resourceType, resourceID, keyID string, detail map[string]any) {
	if keyID == "" {
		if agent, ok := p.(*auth.Agent); ok {
			keyID = agent.KeyID
		}
	}

	entry := &store.AuditEntry{
		ActorType:    p.Type(),
		ActorID:      p.ID(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    g.now().UTC(),
		Detail:       detail,
	}
	if keyID != "" {
		entry.KeyID = &keyID
	}

	if err := g.store.AppendAuditLog(ctx, entry); err != nil {
		g.logger.Warn("failed to write audit entry",
			"error", err,
			"action", string(action),
			"resource_id", resourceID,
		)
	}
}
