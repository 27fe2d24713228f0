// Package audit records who did what to which organization, role, member or
// session.
//
// Records are append-only. Recorder.Record is best effort: a record that
// cannot be written is logged in full at error level and counted in
// warden_audit_write_failures_total, and the audited operation proceeds.
//
//	rec := audit.NewRecorder(audit.NewSQLStore(db), audit.WithLogger(logger), audit.WithMetrics(metrics))
//	rec.Record(ctx, audit.Entry{
//		Actor:     audit.Actor{ID: caller.MemberID, OrgCode: caller.OrgCode},
//		Module:    audit.ModuleOrgs,
//		Operation: "move",
//		Target:    audit.Target{Type: "organization", ID: "ORG-A"},
//		Before:    before,
//		After:     after,
//		Err:       err,
//	})
//
// CaptureOrigin attaches the caller's address, user agent and request id to
// the request context so every record written while serving it carries them.
//
// Reads go through List and Get. List accepts extra predicates so callers can
// restrict results to a data scope over the actor_org and actor_id columns.
// Export renders JSON, NDJSON or CSV, and Archiver copies each day's records
// to an object store as NDJSON.
package audit
