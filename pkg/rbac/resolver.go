package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/storage"
)

const (
	aclKeyPrefix     = "acl:"
	versionKeyPrefix = "aclver:"
)

// ACLKey returns the cache key of a member's resolved ACL
func ACLKey(memberID string) string {
	return aclKeyPrefix + memberID
}

// VersionKey returns the key holding a member's current ACL cache version.
// Invalidate replaces it, so entries stamped with an earlier version are
// never served again.
func VersionKey(memberID string) string {
	return versionKeyPrefix + memberID
}

// cachedACL is the stored form of a resolved ACL
type cachedACL struct {
	Version string `json:"version"`
	ACL     *ACL   `json:"acl"`
}

// MemberSource loads members for resolution
type MemberSource interface {
	GetMember(ctx context.Context, id string) (*orgs.Member, error)
}

// Resolver expands a member into an ACL. Resolved ACLs are cached under
// acl:{member_id}, stamped with the member's version read before the store
// was consulted. An entry is served only while its stamp equals the version
// in aclver:{member_id}.
type Resolver struct {
	store   *Store
	members MemberSource
	cache   storage.KV
	ttl     time.Duration
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache enables the ACL cache. A zero ttl disables caching.
func WithCache(cache storage.KV, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
		r.ttl = ttl
	}
}

// WithResolverLogger sets the logger
func WithResolverLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResolverMetrics sets the metrics sink
func WithResolverMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// NewResolver creates a new ACL resolver
func NewResolver(store *Store, members MemberSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:   store,
		members: members,
		logger:  observability.NopLogger(),
		metrics: observability.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) cacheEnabled() bool {
	return r.cache != nil && r.ttl > 0
}

// ResolveACL returns the ACL of memberID. Disabled members and roles resolve
// to an empty capability set with SELF scope. Store failures are returned as
// errors so callers deny.
func (r *Resolver) ResolveACL(ctx context.Context, memberID string) (*ACL, error) {
	if memberID == "" {
		return nil, errs.Validation("rbac.ResolveACL", "member id is required")
	}

	if acl, ok := r.cached(ctx, memberID); ok {
		return acl, nil
	}

	v, err, _ := r.group.Do(memberID, func() (interface{}, error) {
		ctx, span := observability.StartSpan(ctx, "rbac.ResolveACL", "member.id", memberID)
		version := r.currentVersion(ctx, memberID)
		acl, err := r.resolve(ctx, memberID)
		observability.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		r.remember(ctx, version, acl)
		return acl, nil
	})
	if err != nil {
		return nil, err
	}

	acl := v.(*ACL)
	r.metrics.ACLResolutionsTotal.WithLabelValues(string(acl.Scope)).Inc()
	return acl, nil
}

func (r *Resolver) resolve(ctx context.Context, memberID string) (*ACL, error) {
	member, err := r.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return r.resolveMember(ctx, member)
}

func (r *Resolver) resolveMember(ctx context.Context, member *orgs.Member) (*ACL, error) {
	if !member.IsActive() {
		return DenyAll(member.ID, member.OrgCode), nil
	}

	role, err := r.store.GetRole(ctx, member.RoleID)
	if errs.IsNotFound(err) {
		r.logger.WithFields(map[string]interface{}{
			"member_id": member.ID,
			"role_id":   member.RoleID,
		}).Warn("Member references a missing role")
		return DenyAll(member.ID, member.OrgCode), nil
	}
	if err != nil {
		return nil, err
	}
	if !role.IsActive() {
		return DenyAll(member.ID, member.OrgCode), nil
	}

	acl := &ACL{
		MemberID: member.ID,
		RoleCode: role.Code,
		Level:    role.Level,
		OrgCode:  member.OrgCode,
		Scope:    ScopeForLevel(role.Level),
	}
	if role.Level == LevelSuperAdmin {
		acl.Capabilities = []string{Wildcard}
		return acl, nil
	}

	template, err := r.store.TemplateCodes(ctx, role.Level)
	if err != nil {
		return nil, err
	}
	grants, revokes, err := r.store.Overrides(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	acl.Capabilities = capabilitySet(template, grants, revokes)
	return acl, nil
}

func (r *Resolver) cached(ctx context.Context, memberID string) (*ACL, bool) {
	if !r.cacheEnabled() {
		return nil, false
	}

	raw, ok, err := r.cache.Get(ctx, ACLKey(memberID))
	if err != nil {
		r.cacheReadFailed(err, memberID)
		return nil, false
	}
	if !ok {
		r.metrics.ACLCacheMissesTotal.Inc()
		return nil, false
	}

	var entry cachedACL
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.ACL == nil {
		r.logger.WithField("member_id", memberID).Warn("Discarding malformed cached ACL")
		return nil, false
	}

	version, ok, err := r.cache.Get(ctx, VersionKey(memberID))
	if err != nil {
		r.cacheReadFailed(err, memberID)
		return nil, false
	}
	if !ok || version != entry.Version {
		r.metrics.ACLCacheMissesTotal.Inc()
		return nil, false
	}
	r.metrics.ACLCacheHitsTotal.Inc()
	return entry.ACL, true
}

func (r *Resolver) cacheReadFailed(err error, memberID string) {
	r.logger.WithError(err).WithField("member_id", memberID).Warn("ACL cache read failed")
	r.metrics.StoreErrorsTotal.WithLabelValues("cache", errs.KindOf(err).String()).Inc()
}

// currentVersion returns the member's cache version, creating one when none
// exists. An empty result disables caching for this resolution.
func (r *Resolver) currentVersion(ctx context.Context, memberID string) string {
	if !r.cacheEnabled() {
		return ""
	}
	version, ok, err := r.cache.Get(ctx, VersionKey(memberID))
	if err != nil {
		r.cacheReadFailed(err, memberID)
		return ""
	}
	if ok {
		return version
	}
	version = uuid.NewString()
	if err := r.cache.Set(ctx, VersionKey(memberID), version, 0); err != nil {
		r.logger.WithError(err).WithField("member_id", memberID).Warn("ACL cache write failed")
		return ""
	}
	return version
}

// remember stores acl stamped with version unless the member's version has
// moved on since resolution started.
func (r *Resolver) remember(ctx context.Context, version string, acl *ACL) {
	if version == "" {
		return
	}
	if current, ok, err := r.cache.Get(ctx, VersionKey(acl.MemberID)); err != nil || !ok || current != version {
		return
	}
	data, err := json.Marshal(cachedACL{Version: version, ACL: acl})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, ACLKey(acl.MemberID), string(data), r.ttl); err != nil {
		r.logger.WithError(err).WithField("member_id", acl.MemberID).Warn("ACL cache write failed")
	}
}

// Invalidate moves memberIDs to a new cache version and drops their cached
// ACLs. A resolution already in flight can still store its result, but that
// entry carries the old version and is never served. trigger labels the
// metric. A failure is returned as a transient error: the caller must not
// acknowledge an authorization change whose stale ACLs may still be served.
func (r *Resolver) Invalidate(ctx context.Context, trigger string, memberIDs ...string) error {
	for _, id := range memberIDs {
		r.group.Forget(id)
	}
	if r.cache == nil || len(memberIDs) == 0 {
		return nil
	}

	fail := func(err error) error {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"trigger": trigger,
			"members": len(memberIDs),
		}).Error("ACL invalidation failed")
		return errs.Transient("rbac.Invalidate", err)
	}

	keys := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		if err := r.cache.Set(ctx, VersionKey(id), uuid.NewString(), 0); err != nil {
			return fail(err)
		}
		keys[i] = ACLKey(id)
	}
	if err := r.cache.Del(ctx, keys...); err != nil {
		return fail(err)
	}

	r.metrics.ACLInvalidationsTotal.WithLabelValues(trigger).Add(float64(len(memberIDs)))
	r.logger.WithFields(map[string]interface{}{
		"trigger": trigger,
		"members": len(memberIDs),
	}).Debug("ACL cache invalidated")
	return nil
}

// HasCapability resolves memberID and checks code, recording the decision.
// Resolution errors deny.
func (r *Resolver) HasCapability(ctx context.Context, memberID, code string) (bool, error) {
	acl, err := r.ResolveACL(ctx, memberID)
	if err != nil {
		r.metrics.AuthzDecisionsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	allowed := acl.HasCapability(code)
	if allowed {
		r.metrics.AuthzDecisionsTotal.WithLabelValues("allow").Inc()
	} else {
		r.metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
	}
	return allowed, nil
}
