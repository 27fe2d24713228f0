package orgs

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/validation"
)

// Manager maintains the organization tree and its members. Structural changes
// run in a single transaction holding the hierarchy lock, so concurrent moves
// never observe a half rewritten subtree.
type Manager struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new hierarchy manager
func NewManager(store *Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		logger:  observability.NopLogger(),
		metrics: observability.NewNopMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = errs.KindOf(err).String()
	}
	m.metrics.HierarchyMutationsTotal.WithLabelValues(operation, result).Inc()
}

// Create adds an organization under req.ParentCode, or as a root when no
// parent is given. The parent must exist and be active.
func (m *Manager) Create(ctx context.Context, req CreateOrgRequest) (org *Organization, err error) {
	const op = "orgs.Create"
	ctx, span := observability.StartSpan(ctx, op, "org.code", req.Code, "org.parent", req.ParentCode)
	defer func() {
		observability.EndSpan(span, err)
		m.observe("create", err)
	}()

	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}

	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		if _, err := m.store.GetOrg(ctx, req.Code, false); err == nil {
			return errs.Conflict(op, errs.DuplicateCode, "organization %s already exists", req.Code)
		} else if !errs.IsNotFound(err) {
			return err
		}

		now := m.now()
		org = &Organization{
			Code:      req.Code,
			Name:      req.Name,
			Path:      BuildPath("", req.Code),
			Status:    StatusActive,
			Contact:   req.Contact,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if req.ParentCode != "" {
			parent, err := m.store.GetOrg(ctx, req.ParentCode, true)
			if errs.IsNotFound(err) {
				return errs.E(errs.KindValidation, op, errs.InvalidParent, "parent %s does not exist", req.ParentCode)
			}
			if err != nil {
				return err
			}
			if !parent.IsActive() {
				return errs.E(errs.KindValidation, op, errs.InvalidParent, "parent %s is disabled", req.ParentCode)
			}
			for _, code := range PathCodes(parent.Path) {
				if code == req.Code {
					return errs.Conflict(op, errs.CycleDetected, "%s is an ancestor of parent %s", req.Code, parent.Code)
				}
			}
			org.ParentCode = parent.Code
			org.Depth = parent.Depth + 1
			org.Path = BuildPath(parent.Path, req.Code)
		}

		return m.store.InsertOrg(ctx, org)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"org_code": org.Code,
		"parent":   org.ParentCode,
		"depth":    org.Depth,
	}).Info("Organization created")
	return org, nil
}

// Move re-parents code under newParentCode, or makes it a root when
// newParentCode is empty. The node and every descendant get a recomputed depth
// and path in the same transaction.
func (m *Manager) Move(ctx context.Context, code, newParentCode string) (result *MoveResult, err error) {
	const op = "orgs.Move"
	ctx, span := observability.StartSpan(ctx, op, "org.code", code, "org.parent", newParentCode)
	defer func() {
		observability.EndSpan(span, err)
		m.observe("move", err)
	}()

	if code == "" {
		return nil, errs.Validation(op, "organization code is required")
	}
	if code == newParentCode {
		return nil, errs.Conflict(op, errs.SelfParent, "organization %s cannot be its own parent", code)
	}

	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		if err := m.store.lockHierarchy(ctx); err != nil {
			return err
		}

		node, err := m.store.GetOrg(ctx, code, true)
		if err != nil {
			return err
		}

		var parent *Organization
		if newParentCode != "" {
			parent, err = m.store.GetOrg(ctx, newParentCode, true)
			if errs.IsNotFound(err) {
				return errs.E(errs.KindValidation, op, errs.InvalidParent, "parent %s does not exist", newParentCode)
			}
			if err != nil {
				return err
			}
			if !parent.IsActive() {
				return errs.E(errs.KindValidation, op, errs.InvalidParent, "parent %s is disabled", newParentCode)
			}
			if IsWithin(parent.Path, node.Path) {
				return errs.Conflict(op, errs.CycleDetected, "%s is a descendant of %s", newParentCode, code)
			}
		}

		result = &MoveResult{Before: *node, After: *node}
		if node.ParentCode == newParentCode {
			return nil
		}

		subtree, err := m.store.ListSubtree(ctx, node.Path, true)
		if err != nil {
			return err
		}

		now := m.now()
		rebased := rebase(subtree, code, parent)
		for i := range rebased {
			if err := m.store.UpdatePlacement(ctx, &rebased[i], now); err != nil {
				return err
			}
		}

		result.After = rebased[0]
		result.After.UpdatedAt = now
		result.Updated = len(rebased)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.HierarchyNodesMovedTotal.Add(float64(result.Updated))
	m.logger.WithFields(map[string]interface{}{
		"org_code":   code,
		"old_parent": result.Before.ParentCode,
		"new_parent": newParentCode,
		"updated":    result.Updated,
	}).Info("Organization moved")
	return result, nil
}

// Delete soft deletes an organization. It fails while the organization has an
// active child or an active member. Deleting a disabled organization is a no-op.
func (m *Manager) Delete(ctx context.Context, code string) (org *Organization, err error) {
	const op = "orgs.Delete"
	ctx, span := observability.StartSpan(ctx, op, "org.code", code)
	defer func() {
		observability.EndSpan(span, err)
		m.observe("delete", err)
	}()

	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		if err := m.store.lockHierarchy(ctx); err != nil {
			return err
		}

		org, err = m.store.GetOrg(ctx, code, true)
		if err != nil {
			return err
		}
		if !org.IsActive() {
			return nil
		}

		children, err := m.store.CountActiveChildren(ctx, code)
		if err != nil {
			return err
		}
		if children > 0 {
			return errs.Conflict(op, errs.HasChildren, "organization %s has %d active children", code, children)
		}

		members, err := m.store.CountActiveMembers(ctx, code)
		if err != nil {
			return err
		}
		if members > 0 {
			return errs.Conflict(op, errs.HasMembers, "organization %s has %d active members", code, members)
		}

		org.Status = StatusDisabled
		org.UpdatedAt = m.now()
		return m.store.SetOrgStatus(ctx, code, StatusDisabled, org.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithField("org_code", code).Info("Organization disabled")
	return org, nil
}

// Enable reactivates a disabled organization. Its parent must be active.
func (m *Manager) Enable(ctx context.Context, code string) (org *Organization, err error) {
	const op = "orgs.Enable"
	ctx, span := observability.StartSpan(ctx, op, "org.code", code)
	defer func() {
		observability.EndSpan(span, err)
		m.observe("enable", err)
	}()

	err = m.store.DB().InTx(ctx, func(ctx context.Context) error {
		if err := m.store.lockHierarchy(ctx); err != nil {
			return err
		}

		org, err = m.store.GetOrg(ctx, code, true)
		if err != nil {
			return err
		}
		if org.IsActive() {
			return nil
		}
		if !org.IsRoot() {
			parent, err := m.store.GetOrg(ctx, org.ParentCode, false)
			if err != nil {
				return err
			}
			if !parent.IsActive() {
				return errs.E(errs.KindValidation, op, errs.InvalidParent, "parent %s is disabled", parent.Code)
			}
		}

		org.Status = StatusActive
		org.UpdatedAt = m.now()
		return m.store.SetOrgStatus(ctx, code, StatusActive, org.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// Update changes the name or contact of an organization
func (m *Manager) Update(ctx context.Context, code string, req UpdateOrgRequest) (*Organization, error) {
	const op = "orgs.Update"
	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}

	var org *Organization
	err := m.store.DB().InTx(ctx, func(ctx context.Context) error {
		var err error
		org, err = m.store.GetOrg(ctx, code, true)
		if err != nil {
			return err
		}
		if req.Name != nil {
			org.Name = *req.Name
		}
		if req.Contact != nil {
			if err := validation.Struct(op, req.Contact); err != nil {
				return err
			}
			org.Contact = *req.Contact
		}
		org.UpdatedAt = m.now()
		return m.store.UpdateDetails(ctx, org)
	})
	m.observe("update", err)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// Get retrieves an organization by code
func (m *Manager) Get(ctx context.Context, code string) (*Organization, error) {
	return m.store.GetOrg(ctx, code, false)
}

// Children returns the descendants of code ordered by (depth, code), with code
// itself first when includeSelf is set.
func (m *Manager) Children(ctx context.Context, code string, includeSelf bool) ([]Organization, error) {
	node, err := m.store.GetOrg(ctx, code, false)
	if err != nil {
		return nil, err
	}

	subtree, err := m.store.ListSubtree(ctx, node.Path, false)
	if err != nil {
		return nil, err
	}
	if includeSelf {
		return subtree, nil
	}

	out := make([]Organization, 0, len(subtree))
	for _, org := range subtree {
		if org.Code != code {
			out = append(out, org)
		}
	}
	return out, nil
}

// Ancestors returns the ancestors of code from the root down, ending with code
// itself when includeSelf is set.
func (m *Manager) Ancestors(ctx context.Context, code string, includeSelf bool) ([]Organization, error) {
	node, err := m.store.GetOrg(ctx, code, false)
	if err != nil {
		return nil, err
	}

	codes := PathCodes(node.Path)
	if !includeSelf && len(codes) > 0 {
		codes = codes[:len(codes)-1]
	}
	return m.store.ListByCodes(ctx, codes)
}

// Tree returns the subtree rooted at rootCode, or the whole forest when
// rootCode is empty. Disabled organizations are included.
func (m *Manager) Tree(ctx context.Context, rootCode string) ([]*TreeNode, error) {
	var (
		nodes []Organization
		err   error
	)
	if rootCode == "" {
		nodes, err = m.store.ListAll(ctx)
	} else {
		nodes, err = m.Children(ctx, rootCode, true)
	}
	if err != nil {
		return nil, err
	}
	return buildTree(nodes), nil
}

// Verify recomputes every depth and path from the parent links and reports the
// nodes that disagree.
func (m *Manager) Verify(ctx context.Context) ([]Violation, error) {
	ctx, span := observability.StartSpan(ctx, "orgs.Verify")
	nodes, err := m.store.ListAll(ctx)
	defer func() { observability.EndSpan(span, err) }()
	if err != nil {
		return nil, err
	}

	violations := verify(nodes)
	m.metrics.HierarchyIntegrityViolations.Set(float64(len(violations)))
	for _, v := range violations {
		m.logger.WithFields(map[string]interface{}{
			"org_code":      v.Code,
			"path":          v.Path,
			"expected_path": v.ExpectedPath,
			"reason":        v.Reason,
		}).Error("Hierarchy integrity violation")
	}
	return violations, nil
}
