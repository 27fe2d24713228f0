package orgs

import (
	"context"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/validation"
)

// CreateMember adds a member to an active organization
func (m *Manager) CreateMember(ctx context.Context, req CreateMemberRequest) (*Member, error) {
	const op = "orgs.CreateMember"
	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}

	var member *Member
	err := m.store.DB().InTx(ctx, func(ctx context.Context) error {
		// row lock serializes against Delete's active member count
		org, err := m.store.GetOrg(ctx, req.OrgCode, true)
		if errs.IsNotFound(err) {
			return errs.Validation(op, "organization %s does not exist", req.OrgCode)
		}
		if err != nil {
			return err
		}
		if !org.IsActive() {
			return errs.Validation(op, "organization %s is disabled", req.OrgCode)
		}

		now := m.now()
		member = &Member{
			Code:           req.Code,
			LoginName:      req.LoginName,
			DisplayName:    req.DisplayName,
			OrgCode:        req.OrgCode,
			RoleID:         req.RoleID,
			CredentialHash: req.CredentialHash,
			Status:         StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return m.store.InsertMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"member_id": member.ID,
		"org_code":  member.OrgCode,
	}).Info("Member created")
	return member, nil
}

// GetMember retrieves a member by ID
func (m *Manager) GetMember(ctx context.Context, id string) (*Member, error) {
	return m.store.GetMember(ctx, id)
}

// FindMemberByLogin retrieves a member by login name or code
func (m *Manager) FindMemberByLogin(ctx context.Context, identifier string) (*Member, error) {
	return m.store.FindMemberByLogin(ctx, identifier)
}

// ListMembers returns the members of an organization
func (m *Manager) ListMembers(ctx context.Context, orgCode string) ([]*Member, error) {
	if _, err := m.store.GetOrg(ctx, orgCode, false); err != nil {
		return nil, err
	}
	return m.store.ListMembers(ctx, orgCode)
}

// RecordLogin counts a successful login
func (m *Manager) RecordLogin(ctx context.Context, id string) error {
	return m.store.RecordLogin(ctx, id, m.now())
}

// ChangeMemberRole assigns roleID to a member and returns the previous state
func (m *Manager) ChangeMemberRole(ctx context.Context, id, roleID string) (before *Member, err error) {
	if roleID == "" {
		return nil, errs.Validation("orgs.ChangeMemberRole", "role id is required")
	}
	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		before, err = m.store.GetMember(ctx, id)
		if err != nil {
			return err
		}
		return m.store.UpdateMemberRole(ctx, id, roleID, m.now())
	})
	if err != nil {
		return nil, err
	}
	return before, nil
}

// SetMemberStatus enables or disables a member and returns the previous state
func (m *Manager) SetMemberStatus(ctx context.Context, id string, status Status) (before *Member, err error) {
	if status != StatusActive && status != StatusDisabled {
		return nil, errs.Validation("orgs.SetMemberStatus", "invalid status %q", status)
	}
	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		before, err = m.store.GetMember(ctx, id)
		if err != nil {
			return err
		}
		return m.store.SetMemberStatus(ctx, id, status, m.now())
	})
	if err != nil {
		return nil, err
	}
	return before, nil
}
