package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const targetSession = "session"

// RoleSource loads roles by id
type RoleSource interface {
	GetRole(ctx context.Context, id string) (*rbac.Role, error)
}

// SubjectLoader returns the loader the token manager uses on refresh. A member
// or role that has been disabled since login can no longer refresh.
func SubjectLoader(members rbac.MemberSource, roles RoleSource) auth.SubjectLoader {
	return func(ctx context.Context, memberID string) (auth.Subject, error) {
		const op = "authz.LoadSubject"
		member, err := members.GetMember(ctx, memberID)
		if errs.IsNotFound(err) {
			return auth.Subject{}, errs.Authentication(op, errs.TokenRevoked)
		}
		if err != nil {
			return auth.Subject{}, err
		}
		role, err := roles.GetRole(ctx, member.RoleID)
		if errs.IsNotFound(err) {
			return auth.Subject{}, errs.Authentication(op, errs.TokenRevoked)
		}
		if err != nil {
			return auth.Subject{}, err
		}
		if !member.IsActive() || !role.IsActive() {
			return auth.Subject{}, errs.Authentication(op, errs.TokenRevoked)
		}
		return auth.Subject{MemberID: member.ID, RoleCode: role.Code, OrgCode: member.OrgCode}, nil
	}
}

// Authenticate verifies a member's credentials. Every attempt is audited;
// the secret never is.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string) (*orgs.Member, error) {
	member, err := s.authn.Authenticate(ctx, identifier, secret)

	target := audit.Target{Type: targetMember, Name: identifier}
	var who audit.Actor
	if member != nil {
		target.ID = member.ID
		who = audit.Actor{ID: member.ID, Code: member.Code, OrgCode: member.OrgCode}
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:     who,
		Module:    audit.ModuleAuth,
		Operation: "login",
		Target:    target,
		Err:       err,
	})
	return member, err
}

// Login authenticates and issues a token pair, ending any previous session
func (s *Service) Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenPair, error) {
	member, err := s.Authenticate(ctx, req.Identifier, req.Secret)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, member)
}

// IssueTokens issues a token pair for member. The previous refresh token of
// the member stops working.
func (s *Service) IssueTokens(ctx context.Context, member *orgs.Member) (*auth.TokenPair, error) {
	const op = "authz.IssueTokens"
	if member == nil {
		return nil, errs.Validation(op, "member is required")
	}
	pair, err := s.issue(ctx, member)
	s.audit.Record(ctx, audit.Entry{
		Actor:     audit.Actor{ID: member.ID, Code: member.Code, OrgCode: member.OrgCode},
		Module:    audit.ModuleAuth,
		Operation: "issue_tokens",
		Target:    audit.Target{Type: targetSession, ID: member.ID},
		Err:       err,
	})
	return pair, err
}

func (s *Service) issue(ctx context.Context, member *orgs.Member) (*auth.TokenPair, error) {
	const op = "authz.IssueTokens"
	if !member.IsActive() {
		return nil, errs.Authentication(op, errs.InvalidCredentials)
	}
	role, err := s.policy.Store().GetRole(ctx, member.RoleID)
	if errs.IsNotFound(err) {
		return nil, errs.Authentication(op, errs.InvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	return s.tokens.Issue(ctx, auth.Subject{MemberID: member.ID, RoleCode: role.Code, OrgCode: member.OrgCode})
}

// RefreshAccessToken exchanges a live refresh token for a new access token.
// The refresh token itself is returned unchanged.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// RevokeSession ends memberID's refresh session. Members may always end their
// own session; ending another member's needs scope over their organization.
func (s *Service) RevokeSession(ctx context.Context, memberID string) error {
	const op = "authz.RevokeSession"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return err
	}

	err = func() error {
		if acl != nil && acl.MemberID == memberID {
			return s.tokens.Revoke(ctx, memberID)
		}
		member, err := s.orgs.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := requireOrg(op, acl, member.OrgCode); err != nil {
			return err
		}
		return s.tokens.Revoke(ctx, memberID)
	}()
	s.record(ctx, acl, audit.ModuleAuth, "revoke_session",
		audit.Target{Type: targetSession, ID: memberID}, nil, nil, err)
	return err
}

// Session reports whether memberID has a live refresh session
func (s *Service) Session(ctx context.Context, memberID string) (*auth.Session, error) {
	const op = "authz.Session"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if acl != nil && acl.MemberID != memberID {
		member, err := s.orgs.GetMember(ctx, memberID)
		if err != nil {
			return nil, err
		}
		if err := requireOrg(op, acl, member.OrgCode); err != nil {
			return nil, err
		}
	}
	return s.tokens.Session(ctx, memberID)
}
