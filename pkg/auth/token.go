package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

const (
	// MinSecretLength is the minimum HMAC key size
	MinSecretLength = 32
	// MaxAccessTTL bounds how long a revoked member can keep using an access token
	MaxAccessTTL = 30 * time.Minute

	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "warden"

	refreshKeyPrefix = "refresh:"
	accessKeyPrefix  = "access:"
)

// RefreshKey returns the KV key of a member's refresh session
func RefreshKey(memberID string) string {
	return refreshKeyPrefix + memberID
}

// AccessKey returns the KV key of a member's latest access token id
func AccessKey(memberID string) string {
	return accessKeyPrefix + memberID
}

// HashToken computes the SHA256 hash of a token for storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// SubjectLoader re-reads a member's identity on refresh
type SubjectLoader func(ctx context.Context, memberID string) (Subject, error)

// TokenManager issues, validates, refreshes and revokes tokens
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	kv         storage.KV
	loader     SubjectLoader
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a TokenManager
type Option func(*TokenManager)

// WithIssuer sets the iss claim
func WithIssuer(issuer string) Option {
	return func(tm *TokenManager) { tm.issuer = issuer }
}

// WithTTL sets the access and refresh token lifetimes
func WithTTL(access, refresh time.Duration) Option {
	return func(tm *TokenManager) {
		tm.accessTTL = access
		tm.refreshTTL = refresh
	}
}

// WithSubjectLoader makes Refresh embed the member's current role and org
func WithSubjectLoader(loader SubjectLoader) Option {
	return func(tm *TokenManager) { tm.loader = loader }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(tm *TokenManager) { tm.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(tm *TokenManager) { tm.metrics = metrics }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(tm *TokenManager) { tm.now = now }
}

// NewTokenManager creates a token manager signing with secret
func NewTokenManager(secret []byte, kv storage.KV, opts ...Option) (*TokenManager, error) {
	tm := &TokenManager{
		secret:     secret,
		issuer:     DefaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		kv:         kv,
		logger:     observability.NopLogger(),
		metrics:    observability.NewNopMetrics(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(tm)
	}

	if len(tm.secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if kv == nil {
		return nil, errors.New("token manager requires a KV store")
	}
	if tm.accessTTL <= 0 || tm.accessTTL > MaxAccessTTL {
		return nil, fmt.Errorf("access token ttl must be in (0, %s], got %s", MaxAccessTTL, tm.accessTTL)
	}
	if tm.refreshTTL <= tm.accessTTL {
		return nil, fmt.Errorf("refresh token ttl %s must exceed access token ttl %s", tm.refreshTTL, tm.accessTTL)
	}
	return tm, nil
}

// AccessTTL returns the access token lifetime
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// Issue signs a new token pair for s and makes its refresh token the member's
// only live session.
func (tm *TokenManager) Issue(ctx context.Context, s Subject) (*TokenPair, error) {
	const op = "auth.Issue"
	if s.MemberID == "" {
		return nil, errs.Validation(op, "member id is required")
	}

	ctx, span := observability.StartSpan(ctx, op, "member.id", s.MemberID)
	pair, err := tm.issue(ctx, s)
	observability.EndSpan(span, err)
	return pair, err
}

func (tm *TokenManager) issue(ctx context.Context, s Subject) (*TokenPair, error) {
	const op = "auth.Issue"
	now := tm.now()

	access, accessID, err := tm.sign(s, KindAccess, now, tm.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshID, err := tm.sign(s, KindRefresh, now, tm.refreshTTL)
	if err != nil {
		return nil, err
	}

	record, err := json.Marshal(sessionRecord{
		TokenHash: HashToken(refresh),
		TokenID:   refreshID,
		IssuedAt:  now,
		ExpiresAt: now.Add(tm.refreshTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := tm.kv.Set(ctx, RefreshKey(s.MemberID), string(record), tm.refreshTTL); err != nil {
		return nil, errs.Transient(op, err)
	}
	if err := tm.kv.Set(ctx, AccessKey(s.MemberID), accessID, tm.accessTTL); err != nil {
		return nil, errs.Transient(op, err)
	}

	tm.metrics.TokensIssuedTotal.WithLabelValues(string(KindAccess)).Inc()
	tm.metrics.TokensIssuedTotal.WithLabelValues(string(KindRefresh)).Inc()
	tm.logger.WithFields(map[string]interface{}{
		"member_id":  s.MemberID,
		"refresh_id": refreshID,
	}).Debug("Token pair issued")

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(tm.accessTTL / time.Second),
		RefreshExpiresIn: int64(tm.refreshTTL / time.Second),
	}, nil
}

func (tm *TokenManager) sign(s Subject, kind TokenKind, now time.Time, ttl time.Duration) (string, string, error) {
	id := uuid.NewString()
	claims := Claims{
		Role: s.RoleCode,
		Org:  s.OrgCode,
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   s.MemberID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        id,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, id, nil
}

// ParseAccess validates an access token's signature and expiry. It does not
// consult the KV store.
func (tm *TokenManager) ParseAccess(token string) (*Claims, error) {
	return tm.parse("auth.ParseAccess", token, KindAccess)
}

func (tm *TokenManager) parse(op, token string, kind TokenKind) (*Claims, error) {
	if token == "" {
		return nil, errs.E(errs.KindAuthentication, op, errs.TokenMalformed, "token is empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &errs.Error{Kind: errs.KindAuthentication, Op: op, Reason: errs.TokenExpired, Err: err}
	case err != nil:
		return nil, &errs.Error{Kind: errs.KindAuthentication, Op: op, Reason: errs.TokenMalformed, Err: err}
	}

	if claims.Type != kind {
		return nil, errs.E(errs.KindAuthentication, op, errs.TokenMalformed, "expected %s token, got %q", kind, claims.Type)
	}
	if claims.Subject == "" {
		return nil, errs.E(errs.KindAuthentication, op, errs.TokenMalformed, "token has no subject")
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// is not rotated and is returned unchanged in the pair. It fails with
// TokenRevoked once the member has logged out or a newer session replaced it.
func (tm *TokenManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "auth.Refresh"
	ctx, span := observability.StartSpan(ctx, op)
	pair, err := tm.refresh(ctx, refreshToken)
	observability.EndSpan(span, err)

	result := "success"
	if err != nil {
		result = string(errs.ReasonOf(err))
		if result == "" {
			result = errs.KindOf(err).String()
		}
	}
	tm.metrics.TokenRefreshesTotal.WithLabelValues(result).Inc()
	return pair, err
}

func (tm *TokenManager) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "auth.Refresh"
	claims, err := tm.parse(op, refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}

	record, ok, err := tm.session(ctx, claims.Subject)
	if err != nil {
		return nil, errs.Transient(op, err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(HashToken(refreshToken))) != 1 {
		return nil, errs.Authentication(op, errs.TokenRevoked)
	}

	subject := Subject{MemberID: claims.Subject, RoleCode: claims.Role, OrgCode: claims.Org}
	if tm.loader != nil {
		if subject, err = tm.loader(ctx, claims.Subject); err != nil {
			return nil, err
		}
	}

	now := tm.now()
	access, accessID, err := tm.sign(subject, KindAccess, now, tm.accessTTL)
	if err != nil {
		return nil, err
	}
	if err := tm.kv.Set(ctx, AccessKey(subject.MemberID), accessID, tm.accessTTL); err != nil {
		return nil, errs.Transient(op, err)
	}
	tm.metrics.TokensIssuedTotal.WithLabelValues(string(KindAccess)).Inc()

	remaining := record.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(tm.accessTTL / time.Second),
		RefreshExpiresIn: int64(remaining / time.Second),
	}, nil
}

// Revoke ends a member's session. Already issued access tokens stay valid
// until they expire. Revoking a member without a session succeeds.
func (tm *TokenManager) Revoke(ctx context.Context, memberID string) error {
	const op = "auth.Revoke"
	if memberID == "" {
		return errs.Validation(op, "member id is required")
	}
	if err := tm.kv.Del(ctx, RefreshKey(memberID), AccessKey(memberID)); err != nil {
		return errs.Transient(op, err)
	}

	tm.metrics.SessionsRevokedTotal.Inc()
	tm.logger.WithField("member_id", memberID).Info("Session revoked")
	return nil
}

// Session reports whether memberID has a live refresh session
func (tm *TokenManager) Session(ctx context.Context, memberID string) (*Session, error) {
	const op = "auth.Session"
	record, ok, err := tm.session(ctx, memberID)
	if err != nil {
		return nil, errs.Transient(op, err)
	}
	if !ok {
		return &Session{MemberID: memberID}, nil
	}
	return &Session{
		MemberID:  memberID,
		Active:    true,
		TokenID:   record.TokenID,
		IssuedAt:  &record.IssuedAt,
		ExpiresAt: &record.ExpiresAt,
	}, nil
}

func (tm *TokenManager) session(ctx context.Context, memberID string) (*sessionRecord, bool, error) {
	raw, ok, err := tm.kv.Get(ctx, RefreshKey(memberID))
	if err != nil || !ok {
		return nil, false, err
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		tm.logger.WithError(err).WithField("member_id", memberID).Warn("Discarding malformed session record")
		return nil, false, nil
	}
	return &record, true, nil
}
