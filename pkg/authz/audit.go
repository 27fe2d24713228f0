package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/scope"
)

var auditScope = scope.NewFilter(
	scope.WithOrgColumn(audit.OrgColumn),
	scope.WithOwnerColumn(audit.OwnerColumn),
)

// RecordAudit writes e on behalf of callers outside the core. An empty actor
// is filled from the context. Failures are logged, never returned.
func (s *Service) RecordAudit(ctx context.Context, e audit.Entry) *audit.Record {
	if e.Actor == (audit.Actor{}) {
		e.Actor = actor(ctx, contextkeys.GetACL(ctx))
	}
	return s.audit.Record(ctx, e)
}

// ListAudit returns the records matching f that the caller's scope covers:
// ALL sees every record, ORG the records of actors in its organization, SELF
// its own.
func (s *Service) ListAudit(ctx context.Context, f audit.Filter) (*audit.Page, error) {
	extra, err := s.auditPredicates(ctx, "authz.ListAudit")
	if err != nil {
		return nil, err
	}
	return s.audit.List(ctx, f, extra...)
}

// ExportAudit renders the records ListAudit would return, without paging
func (s *Service) ExportAudit(ctx context.Context, f audit.Filter, format audit.ExportFormat) ([]byte, error) {
	extra, err := s.auditPredicates(ctx, "authz.ExportAudit")
	if err != nil {
		return nil, err
	}
	return s.audit.Export(ctx, f, format, extra...)
}

// GetAudit returns one record. Records outside the caller's scope are
// reported as not found.
func (s *Service) GetAudit(ctx context.Context, id string) (*audit.Record, error) {
	const op = "authz.GetAudit"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, err := s.audit.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeRecord(acl, rec) {
		return nil, errs.NotFound(op, "audit record %s not found", id)
	}
	return rec, nil
}

func (s *Service) auditPredicates(ctx context.Context, op string) ([]scope.Predicate, error) {
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if acl == nil {
		return nil, nil
	}
	p, restricted, err := auditScope.Predicate(acl)
	if err != nil {
		return nil, err
	}
	if !restricted {
		return nil, nil
	}
	return []scope.Predicate{p}, nil
}

func canSeeRecord(acl *rbac.ACL, rec *audit.Record) bool {
	if acl == nil {
		return true
	}
	switch acl.Scope {
	case rbac.ScopeAll:
		return true
	case rbac.ScopeOrg:
		return acl.CanSeeOrg(rec.Actor.OrgCode)
	case rbac.ScopeSelf:
		return acl.MemberID != "" && rec.Actor.ID == acl.MemberID
	}
	return false
}
