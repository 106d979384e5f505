// Package audit records the authorization trail: every role, policy and
// assignment mutation, and every request denied by enforcement.
//
// # Sinks
//
// DBLogger writes to the audit_logs table. LogrusLogger writes JSON lines.
// MultiLogger writes to a primary sink, normally the database, and mirrors
// each event to the others.
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleUpdate, audit.EventStatusSuccess).
//		WithResource(audit.ResourceTypeRole, role.ID).
//		WithChanges(
//			map[string]interface{}{"capabilities": before},
//			map[string]interface{}{"capabilities": after},
//		)
//	_ = logger.Log(ctx, event)
//
// # Querying
//
// DBStore searches, exports (JSON, NDJSON, CSV) and summarizes events. The
// HTTP handlers are org scoped and gated by org.audit.view.
//
// # Retention
//
// Cleanup deletes rows older than the retention period. When archiving is
// enabled the expiring rows are first uploaded as NDJSON through an Archiver,
// normally S3Archiver, and nothing is deleted if the upload fails.
package audit
