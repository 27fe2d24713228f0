package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const targetOrganization = "organization"

// CreateOrg creates an organization. Callers with ORG scope may only create
// organizations under their own; roots need ALL scope.
func (s *Service) CreateOrg(ctx context.Context, req orgs.CreateOrgRequest) (*orgs.Organization, error) {
	const op = "authz.CreateOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var org *orgs.Organization
	if err = requireOrg(op, acl, req.ParentCode); err == nil {
		org, err = s.orgs.Create(ctx, req)
	}
	s.record(ctx, acl, audit.ModuleOrgs, "create",
		audit.Target{Type: targetOrganization, ID: req.Code, Name: req.Name}, nil, org, err)
	return org, err
}

// MoveOrg re-parents code under newParentCode, or makes it a root when
// newParentCode is empty. The caller's scope must cover the node and its new
// parent.
func (s *Service) MoveOrg(ctx context.Context, code, newParentCode string) (*orgs.MoveResult, error) {
	const op = "authz.MoveOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var result *orgs.MoveResult
	if err = s.requireOrgNode(ctx, op, acl, code); err == nil {
		if err = requireOrg(op, acl, newParentCode); err == nil {
			result, err = s.orgs.Move(ctx, code, newParentCode)
		}
	}

	var before, after interface{}
	if result != nil {
		before, after = result.Before, result.After
	}
	s.record(ctx, acl, audit.ModuleOrgs, "move",
		audit.Target{Type: targetOrganization, ID: code}, before, after, err)
	return result, err
}

// DeleteOrg soft deletes code
func (s *Service) DeleteOrg(ctx context.Context, code string) (*orgs.Organization, error) {
	const op = "authz.DeleteOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var org *orgs.Organization
	if err = s.requireOrgNode(ctx, op, acl, code); err == nil {
		org, err = s.orgs.Delete(ctx, code)
	}
	var name string
	if org != nil {
		name = org.Name
	}
	s.record(ctx, acl, audit.ModuleOrgs, "delete",
		audit.Target{Type: targetOrganization, ID: code, Name: name}, nil, org, err)
	return org, err
}

// EnableOrg reactivates a disabled organization
func (s *Service) EnableOrg(ctx context.Context, code string) (*orgs.Organization, error) {
	const op = "authz.EnableOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var org *orgs.Organization
	if err = s.requireOrgNode(ctx, op, acl, code); err == nil {
		org, err = s.orgs.Enable(ctx, code)
	}
	s.record(ctx, acl, audit.ModuleOrgs, "enable",
		audit.Target{Type: targetOrganization, ID: code}, nil, org, err)
	return org, err
}

// UpdateOrg changes the name or contact of code
func (s *Service) UpdateOrg(ctx context.Context, code string, req orgs.UpdateOrgRequest) (*orgs.Organization, error) {
	const op = "authz.UpdateOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var before, after *orgs.Organization
	err = func() error {
		if err := requireOrg(op, acl, code); err != nil {
			return err
		}
		if before, err = s.orgs.Get(ctx, code); err != nil {
			return err
		}
		after, err = s.orgs.Update(ctx, code, req)
		return err
	}()
	s.record(ctx, acl, audit.ModuleOrgs, "update",
		audit.Target{Type: targetOrganization, ID: code}, before, after, err)
	return after, err
}

// GetOrg returns code if the caller's scope covers it
func (s *Service) GetOrg(ctx context.Context, code string) (*orgs.Organization, error) {
	const op = "authz.GetOrg"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := requireOrg(op, acl, code); err != nil {
		return nil, err
	}
	return s.orgs.Get(ctx, code)
}

// OrgAncestors returns the chain from the root down to code, code included.
// Only the part of the chain inside the caller's scope is returned.
func (s *Service) OrgAncestors(ctx context.Context, code string) ([]orgs.Organization, error) {
	const op = "authz.OrgAncestors"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := requireOrg(op, acl, code); err != nil {
		return nil, err
	}
	chain, err := s.orgs.Ancestors(ctx, code, true)
	if err != nil {
		return nil, err
	}
	visible := chain[:0]
	for _, org := range chain {
		if requireOrg(op, acl, org.Code) == nil {
			visible = append(visible, org)
		}
	}
	return visible, nil
}

// OrgChildren returns the descendants of code ordered by depth and code,
// filtered to the caller's scope
func (s *Service) OrgChildren(ctx context.Context, code string, includeSelf bool) ([]orgs.Organization, error) {
	const op = "authz.OrgChildren"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := requireOrg(op, acl, code); err != nil {
		return nil, err
	}
	nodes, err := s.orgs.Children(ctx, code, includeSelf)
	if err != nil {
		return nil, err
	}
	visible := nodes[:0]
	for _, org := range nodes {
		if requireOrg(op, acl, org.Code) == nil {
			visible = append(visible, org)
		}
	}
	return visible, nil
}

// OrgTree returns the subtree rooted at rootCode. An empty rootCode selects the
// whole forest for ALL scope and the caller's own organization otherwise.
func (s *Service) OrgTree(ctx context.Context, rootCode string) ([]*orgs.TreeNode, error) {
	const op = "authz.OrgTree"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}
	if rootCode == "" && acl != nil && acl.Scope != rbac.ScopeAll {
		rootCode = acl.OrgCode
	}
	if err := requireOrg(op, acl, rootCode); err != nil {
		return nil, err
	}
	return s.orgs.Tree(ctx, rootCode)
}

// requireOrgNode is requireOrg for an existing node. Unknown codes surface
// as NotFound only to callers that could see them.
func (s *Service) requireOrgNode(ctx context.Context, op string, acl *rbac.ACL, code string) error {
	if err := requireOrg(op, acl, code); err != nil {
		return err
	}
	_, err := s.orgs.Get(ctx, code)
	return err
}
