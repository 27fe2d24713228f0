// Package scope rewrites read queries so that they only return the rows an
// ACL's data scope may see.
//
// The restriction is injected into the statement itself, never applied to
// fetched rows, so LIMIT/OFFSET pagination and COUNT queries stay correct:
//
//	q := &scope.Query{Table: "orders", Limit: 20}
//	scoped, err := scope.Apply(q, acl)
//	query, args := scoped.ToSQL()
//	rows, err := db.QueryContext(ctx, query, args...)
//
// ALL scopes pass through unchanged, ORG scopes gain an org_code predicate and
// SELF scopes an owner_id predicate. Column names are configurable per Filter.
// Applying a filter twice yields the same query.
package scope
