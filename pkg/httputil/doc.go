// Package httputil holds the JSON plumbing shared by the HTTP surfaces.
//
// Errors from the core carry an errs.Kind; WriteKindError turns them into
// a status code and an ErrorResponse:
//
//	validation       400
//	not_found        404
//	conflict         409
//	authentication   401
//	authorization    403
//	transient_store  503 (with Retry-After)
//	anything else    500, message withheld
//
// Request parsing helpers return validation errors so handlers can pass them
// straight to WriteKindError:
//
//	var req authz.CreateMemberRequest
//	if err := httputil.DecodeJSON(r, op, &req); err != nil {
//		httputil.WriteKindError(w, err)
//		return
//	}
//
// The middleware chain used by the server:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
