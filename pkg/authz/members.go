package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/validation"
)

const targetMember = "member"

// CreateMemberRequest adds a member with a plaintext secret
type CreateMemberRequest struct {
	Code        string `json:"code" validate:"required,code,max=64"`
	LoginName   string `json:"login_name" validate:"required,max=128"`
	DisplayName string `json:"display_name,omitempty" validate:"max=255"`
	OrgCode     string `json:"org_code" validate:"required,max=64"`
	RoleID      string `json:"role_id" validate:"required"`
	Secret      string `json:"secret" validate:"required,min=8,max=72"`
}

// CreateMember hashes the secret and adds the member
func (s *Service) CreateMember(ctx context.Context, req CreateMemberRequest) (*orgs.Member, error) {
	const op = "authz.CreateMember"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var member *orgs.Member
	err = func() error {
		if err := validation.Struct(op, req); err != nil {
			return err
		}
		if err := requireOrg(op, acl, req.OrgCode); err != nil {
			return err
		}
		if _, err := s.assignableRole(ctx, op, acl, req.RoleID, req.OrgCode); err != nil {
			return err
		}
		hash, err := s.hasher.Hash(req.Secret)
		if err != nil {
			return err
		}
		member, err = s.orgs.CreateMember(ctx, orgs.CreateMemberRequest{
			Code:           req.Code,
			LoginName:      req.LoginName,
			DisplayName:    req.DisplayName,
			OrgCode:        req.OrgCode,
			RoleID:         req.RoleID,
			CredentialHash: hash,
		})
		return err
	}()

	target := audit.Target{Type: targetMember, Name: req.Code}
	if member != nil {
		target.ID = member.ID
	}
	s.record(ctx, acl, audit.ModuleMembers, "create", target, nil, member, err)
	return member, err
}

// GetMember returns a member inside the caller's scope. SELF scope sees only
// the caller.
func (s *Service) GetMember(ctx context.Context, memberID string) (*orgs.Member, error) {
	const op = "authz.GetMember"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	member, err := s.orgs.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if acl != nil && acl.MemberID == memberID {
		return member, nil
	}
	if err := requireOrg(op, acl, member.OrgCode); err != nil {
		return nil, errs.NotFound(op, "member %s not found", memberID)
	}
	return member, nil
}

// ListMembers returns the members of orgCode
func (s *Service) ListMembers(ctx context.Context, orgCode string) ([]*orgs.Member, error) {
	const op = "authz.ListMembers"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := requireOrg(op, acl, orgCode); err != nil {
		return nil, err
	}
	return s.orgs.ListMembers(ctx, orgCode)
}

// ChangeMemberRole assigns roleID to a member. The member's cached ACL is
// dropped before returning.
func (s *Service) ChangeMemberRole(ctx context.Context, memberID, roleID string) (*orgs.Member, error) {
	const op = "authz.ChangeMemberRole"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var before, after *orgs.Member
	err = func() error {
		current, err := s.orgs.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := requireOrg(op, acl, current.OrgCode); err != nil {
			return err
		}
		if _, err := s.assignableRole(ctx, op, acl, roleID, current.OrgCode); err != nil {
			return err
		}
		if before, err = s.orgs.ChangeMemberRole(ctx, memberID, roleID); err != nil {
			return err
		}
		if err := s.resolver.Invalidate(ctx, rbac.TriggerMemberRole, memberID); err != nil {
			return err
		}
		after, err = s.orgs.GetMember(ctx, memberID)
		return err
	}()

	s.record(ctx, acl, audit.ModuleMembers, "change_role",
		audit.Target{Type: targetMember, ID: memberID}, before, after, err)
	return after, err
}

// SetMemberStatus enables or disables a member. Disabling also ends the
// member's refresh session. The cached ACL is dropped before returning.
func (s *Service) SetMemberStatus(ctx context.Context, memberID string, status orgs.Status) (*orgs.Member, error) {
	const op = "authz.SetMemberStatus"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var before, after *orgs.Member
	err = func() error {
		current, err := s.orgs.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := requireOrg(op, acl, current.OrgCode); err != nil {
			return err
		}
		if before, err = s.orgs.SetMemberStatus(ctx, memberID, status); err != nil {
			return err
		}
		if err := s.resolver.Invalidate(ctx, rbac.TriggerMemberStatus, memberID); err != nil {
			return err
		}
		if status == orgs.StatusDisabled {
			if err := s.tokens.Revoke(ctx, memberID); err != nil {
				return err
			}
		}
		after, err = s.orgs.GetMember(ctx, memberID)
		return err
	}()

	s.record(ctx, acl, audit.ModuleMembers, "set_status",
		audit.Target{Type: targetMember, ID: memberID}, before, after, err)
	return after, err
}

// assignableRole checks that roleID may be held by a member of orgCode and
// granted by the caller. An org admin role belongs to exactly one
// organization, and only ALL scope hands out the super admin role.
func (s *Service) assignableRole(ctx context.Context, op string, acl *rbac.ACL, roleID, orgCode string) (*rbac.Role, error) {
	role, err := s.policy.Store().GetRole(ctx, roleID)
	if errs.IsNotFound(err) {
		return nil, errs.Validation(op, "role %s does not exist", roleID)
	}
	if err != nil {
		return nil, err
	}
	if !role.IsActive() {
		return nil, errs.Validation(op, "role %s is disabled", role.Code)
	}
	switch role.Level {
	case rbac.LevelSuperAdmin:
		if err := requireAll(op, acl); err != nil {
			return nil, err
		}
	case rbac.LevelOrgAdmin:
		if role.OrgCode != orgCode {
			return nil, errs.Validation(op, "role %s belongs to organization %s, not %s", role.Code, role.OrgCode, orgCode)
		}
	}
	return role, nil
}
