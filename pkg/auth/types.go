package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access from refresh tokens
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims are the JWT claims of both token kinds. The member id is the subject.
type Claims struct {
	Role string    `json:"role,omitempty"`
	Org  string    `json:"org,omitempty"`
	Type TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// MemberID returns the subject
func (c *Claims) MemberID() string {
	return c.Subject
}

// Subject is the identity embedded in issued tokens
type Subject struct {
	MemberID string
	RoleCode string
	OrgCode  string
}

// TokenPair is returned on login and refresh
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Session describes a member's refresh session
type Session struct {
	MemberID  string     `json:"member_id"`
	Active    bool       `json:"active"`
	TokenID   string     `json:"token_id,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// sessionRecord is the cached state of a refresh token
type sessionRecord struct {
	TokenHash string    `json:"hash"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// LoginRequest represents a credential check
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=128"`
	Secret     string `json:"secret" validate:"required,max=72"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}
