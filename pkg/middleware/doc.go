// Package middleware holds the HTTP guards in front of the authz facade.
//
// AuthMiddleware.Handler turns a bearer access token into a caller: it
// validates the token, resolves the member's ACL and stores both in the
// request context. Guards then check capabilities:
//
//	authn := middleware.NewAuthMiddleware(tokens, resolver, metrics)
//	r.Use(authn.Handler)
//	r.Handle("/v1/roles", authn.RequireCapability("role.write")(h))
//	r.Use(authn.RequireRoutePermission(policy))
//
// A missing or invalid token answers 401, a missing capability 403.
//
// RateLimit throttles unauthenticated endpoints such as login, either with
// the in-process RateLimiter or with DistributedRateLimiter over Redis.
package middleware
