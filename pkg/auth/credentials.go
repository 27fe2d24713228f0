package auth

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/validation"
)

// Hasher hashes and verifies member secrets
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// BcryptHasher is the bcrypt Hasher
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher. Costs outside bcrypt's range use the default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// MemberStore is the member access the Authenticator needs
type MemberStore interface {
	FindMemberByLogin(ctx context.Context, identifier string) (*orgs.Member, error)
	GetMember(ctx context.Context, id string) (*orgs.Member, error)
	RecordLogin(ctx context.Context, id string) error
}

// Authenticator verifies member credentials
type Authenticator struct {
	members MemberStore
	hasher  Hasher
	logger  *observability.Logger
	metrics *observability.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(members MemberStore, hasher Hasher, logger *observability.Logger, metrics *observability.Metrics) *Authenticator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Authenticator{members: members, hasher: hasher, logger: logger, metrics: metrics}
}

// Authenticate looks a member up by login name or code and verifies secret.
// On success the member's login count and last login time are updated and the
// refreshed member is returned. Failures leave the member untouched.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) (*orgs.Member, error) {
	const op = "auth.Authenticate"
	ctx, span := observability.StartSpan(ctx, op)
	member, err := a.authenticate(ctx, identifier, secret)
	observability.EndSpan(span, err)

	if err != nil {
		a.metrics.AuthenticationsTotal.WithLabelValues("failure").Inc()
		if errs.ReasonOf(err) == errs.InvalidCredentials {
			a.logger.WithField("identifier", identifier).Info("Authentication failed")
		}
		return nil, err
	}
	a.metrics.AuthenticationsTotal.WithLabelValues("success").Inc()
	return member, nil
}

func (a *Authenticator) authenticate(ctx context.Context, identifier, secret string) (*orgs.Member, error) {
	const op = "auth.Authenticate"
	if err := validation.Struct(op, LoginRequest{Identifier: identifier, Secret: secret}); err != nil {
		return nil, errs.Authentication(op, errs.InvalidCredentials)
	}

	member, err := a.members.FindMemberByLogin(ctx, identifier)
	if errs.IsNotFound(err) {
		// equalize timing with the known-member path
		a.hasher.Verify(secret, a.dummy())
		return nil, errs.Authentication(op, errs.InvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	if !a.hasher.Verify(secret, member.CredentialHash) || !member.IsActive() {
		return nil, errs.Authentication(op, errs.InvalidCredentials)
	}

	if err := a.members.RecordLogin(ctx, member.ID); err != nil {
		return nil, err
	}
	return a.members.GetMember(ctx, member.ID)
}

func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash("warden-dummy-secret")
		if err != nil {
			a.logger.WithError(err).Warn("Failed to prepare dummy credential hash")
		}
		a.dummyHash = hash
	})
	return a.dummyHash
}
