// Package security reports sign-in activity to the audit trail.
package security

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const (
	UserRegistered    = "user.registered"
	UserCreated       = "user.created"
	UserDeactivated   = "user.deactivated"
	UserReactivated   = "user.reactivated"
	LoginSucceeded    = "login.succeeded"
	LoginFailed       = "login.failed"
	TokenRefreshed    = "token.refreshed"
	RefreshReused     = "token.reuse_detected"
	LoggedOut         = "logout"
	SigningKeyRotated = "jwt.rotate"
)

// Record enqueues one security event in tx. actorID may be empty for
// anonymous attempts.
func Record(ctx context.Context, tx pgx.Tx, eventType, actorID string, metadata map[string]any) error {
	aggregateID := actorID
	if aggregateID == "" {
		aggregateID = "anonymous"
	}
	return outbox.EnqueueJSON(ctx, tx, "auth", aggregateID, events.SecurityAudit, events.SecurityAuditPayload{
		EventType: eventType,
		ActorID:   actorID,
		Metadata:  metadata,
		At:        time.Now().UTC(),
	})
}
