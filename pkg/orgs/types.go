package orgs

import (
	"time"
)

// Status represents organization and member status
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Contact holds the organization's contact fields
type Contact struct {
	Name  string `json:"name,omitempty" validate:"max=128"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"max=32"`
}

// Organization is a node of the organization tree. Path is the materialized
// ancestor chain, e.g. "/R/C1/C2/" for C2 under C1 under root R.
type Organization struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	ParentCode string    `json:"parent_code,omitempty"`
	Depth      int       `json:"depth"`
	Path       string    `json:"path"`
	Status     Status    `json:"status"`
	Contact    Contact   `json:"contact"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsRoot reports whether the organization has no parent
func (o *Organization) IsRoot() bool {
	return o.ParentCode == ""
}

// IsActive reports whether the organization is active
func (o *Organization) IsActive() bool {
	return o.Status == StatusActive
}

// CreateOrgRequest represents a request to create an organization
type CreateOrgRequest struct {
	Code       string  `json:"code" validate:"required,code,max=64"`
	Name       string  `json:"name" validate:"required,max=255"`
	ParentCode string  `json:"parent_code,omitempty" validate:"omitempty,code,max=64"`
	Contact    Contact `json:"contact"`
}

// UpdateOrgRequest changes the descriptive fields of an organization.
// Placement changes go through Move.
type UpdateOrgRequest struct {
	Name    *string  `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Contact *Contact `json:"contact,omitempty"`
}

// TreeNode is an organization with its children, ordered by code
type TreeNode struct {
	Organization
	Children []*TreeNode `json:"children,omitempty"`
}

// MoveResult describes a completed move
type MoveResult struct {
	Before Organization `json:"before"`
	After  Organization `json:"after"`
	// Updated counts the moved node and every descendant whose path changed
	Updated int `json:"updated"`
}

// Violation is a node whose depth or path disagrees with its parent
type Violation struct {
	Code          string `json:"code"`
	ParentCode    string `json:"parent_code,omitempty"`
	Depth         int    `json:"depth"`
	ExpectedDepth int    `json:"expected_depth"`
	Path          string `json:"path"`
	ExpectedPath  string `json:"expected_path"`
	Reason        string `json:"reason"`
}

// Member is a user owned by exactly one organization and holding one role
type Member struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	LoginName      string     `json:"login_name"`
	DisplayName    string     `json:"display_name,omitempty"`
	OrgCode        string     `json:"org_code"`
	RoleID         string     `json:"role_id"`
	CredentialHash string     `json:"-"`
	Status         Status     `json:"status"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	LoginCount     int        `json:"login_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsActive reports whether the member may authenticate
func (m *Member) IsActive() bool {
	return m.Status == StatusActive
}

// CreateMemberRequest represents a request to add a member. CredentialHash is
// produced by the credential adapter before the request reaches the store.
type CreateMemberRequest struct {
	Code           string `json:"code" validate:"required,code,max=64"`
	LoginName      string `json:"login_name" validate:"required,max=128"`
	DisplayName    string `json:"display_name,omitempty" validate:"max=255"`
	OrgCode        string `json:"org_code" validate:"required,max=64"`
	RoleID         string `json:"role_id" validate:"required"`
	CredentialHash string `json:"-" validate:"required"`
}
