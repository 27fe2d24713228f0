package scope

import (
	"sort"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const (
	DefaultOrgColumn   = "org_code"
	DefaultOwnerColumn = "owner_id"
)

// Filter injects data-scope predicates into queries
type Filter struct {
	orgColumn   string
	ownerColumn string
}

// Option configures a Filter
type Option func(*Filter)

// WithOrgColumn sets the column holding the owning organization code
func WithOrgColumn(column string) Option {
	return func(f *Filter) { f.orgColumn = column }
}

// WithOwnerColumn sets the column holding the owning member id
func WithOwnerColumn(column string) Option {
	return func(f *Filter) { f.ownerColumn = column }
}

// NewFilter creates a filter over org_code and owner_id unless overridden
func NewFilter(opts ...Option) *Filter {
	f := &Filter{orgColumn: DefaultOrgColumn, ownerColumn: DefaultOwnerColumn}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFilter = NewFilter()

// Apply restricts q to acl's scope using the default columns
func Apply(q *Query, acl *rbac.ACL) (*Query, error) {
	return defaultFilter.Apply(q, acl)
}

// Apply returns a copy of q restricted to acl's scope. q is not modified.
// An ACL that cannot name the rows it may see is denied rather than widened.
func (f *Filter) Apply(q *Query, acl *rbac.ACL) (*Query, error) {
	const op = "scope.Apply"
	if q == nil {
		return nil, errs.Validation(op, "query is required")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	pred, restricted, err := f.Predicate(acl)
	if err != nil {
		return nil, err
	}
	out := q.Clone()
	if restricted {
		out.And(pred)
	}
	return out, nil
}

// Predicate returns the restriction for acl. restricted is false for ALL.
func (f *Filter) Predicate(acl *rbac.ACL) (p Predicate, restricted bool, err error) {
	const op = "scope.Apply"
	if acl == nil {
		return Predicate{}, false, errs.Authorization(op, errs.ScopeDenied, "no access control list")
	}

	switch acl.Scope {
	case rbac.ScopeAll:
		return Predicate{}, false, nil
	case rbac.ScopeOrg:
		codes := orgCodes(acl)
		switch len(codes) {
		case 0:
			return Predicate{}, false, errs.Authorization(op, errs.ScopeDenied, "organization scope without an organization")
		case 1:
			return Eq(f.orgColumn, codes[0]), true, nil
		default:
			values := make([]interface{}, len(codes))
			for i, c := range codes {
				values[i] = c
			}
			return In(f.orgColumn, values...), true, nil
		}
	case rbac.ScopeSelf:
		if acl.MemberID == "" {
			return Predicate{}, false, errs.Authorization(op, errs.ScopeDenied, "self scope without a member")
		}
		return Eq(f.ownerColumn, acl.MemberID), true, nil
	default:
		return Predicate{}, false, errs.Authorization(op, errs.ScopeDenied, "unknown scope %q", acl.Scope)
	}
}

// orgCodes returns the sorted distinct organizations of an ORG scope
func orgCodes(acl *rbac.ACL) []string {
	seen := make(map[string]bool, len(acl.OrgCodes)+1)
	var codes []string
	for _, c := range append([]string{acl.OrgCode}, acl.OrgCodes...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
