package services

import (
	"context"

	"github.com/sataplan/server/internal/auditctx"
)

// recordAudit logs the supplied entry while tolerating audit failures.
// Request metadata from the context fills any fields the caller left empty.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == nil && actor.UserID != "" {
			userID := actor.UserID
			entry.UserID = &userID
		}
		if entry.Username == "" {
			entry.Username = actor.Username
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	_ = audit.Log(ctx, entry)
}
