package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type codesRequest struct {
	Codes []string `json:"codes"`
}

type routeMatch struct {
	Path       string `json:"path"`
	Method     string `json:"method"`
	Permission string `json:"permission,omitempty"`
	Found      bool   `json:"found"`
}

func (s *Server) registerPolicyRoutes(r *mux.Router) {
	r.Handle(apiPrefix+"/roles", s.guard(authz.CapRoleWrite, s.createRole)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/roles/{id}/status", s.guard(authz.CapRoleWrite, s.setRoleStatus)).Methods(http.MethodPut)
	r.Handle(apiPrefix+"/roles/{id}/grants", s.guard(authz.CapRoleWrite, s.grant)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/roles/{id}/revokes", s.guard(authz.CapRoleWrite, s.revoke)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/templates/{level}", s.guard(authz.CapRoleWrite, s.assignTemplate)).Methods(http.MethodPut)
	r.Handle(apiPrefix+"/permissions", s.guard(authz.CapPermissionWrite, s.createPermission)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/permissions/route", s.guard(authz.CapPermissionRead, s.permissionForRoute)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/permissions/{code}/status", s.guard(authz.CapPermissionWrite, s.setPermissionStatus)).Methods(http.MethodPut)
}

// createRole handles POST /v1/roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req rbac.CreateRoleRequest
	if err := httputil.DecodeJSON(r, "server.createRole", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	role, err := s.svc.CreateRole(r.Context(), req)
	writeResult(w, http.StatusCreated, role, err)
}

// setRoleStatus handles PUT /v1/roles/{id}/status
func (s *Server) setRoleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httputil.DecodeJSON(r, "server.setRoleStatus", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	err := s.svc.SetRoleStatus(r.Context(), mux.Vars(r)["id"], rbac.Status(req.Status))
	writeResult(w, http.StatusNoContent, nil, err)
}

// grant handles POST /v1/roles/{id}/grants
func (s *Server) grant(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if err := httputil.DecodeJSON(r, "server.grant", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	writeResult(w, http.StatusNoContent, nil, s.svc.Grant(r.Context(), mux.Vars(r)["id"], req.Codes))
}

// revoke handles POST /v1/roles/{id}/revokes
func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if err := httputil.DecodeJSON(r, "server.revoke", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	writeResult(w, http.StatusNoContent, nil, s.svc.Revoke(r.Context(), mux.Vars(r)["id"], req.Codes))
}

// assignTemplate handles PUT /v1/templates/{level}
func (s *Server) assignTemplate(w http.ResponseWriter, r *http.Request) {
	const op = "server.assignTemplate"
	n, err := strconv.Atoi(mux.Vars(r)["level"])
	if err != nil || !rbac.Level(n).Valid() {
		httputil.WriteKindError(w, errs.Validation(op, "level must be 1, 2 or 3"))
		return
	}
	var req codesRequest
	if err := httputil.DecodeJSON(r, op, &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	writeResult(w, http.StatusNoContent, nil, s.svc.AssignTemplate(r.Context(), rbac.Level(n), req.Codes))
}

// createPermission handles POST /v1/permissions
func (s *Server) createPermission(w http.ResponseWriter, r *http.Request) {
	var perm rbac.Permission
	if err := httputil.DecodeJSON(r, "server.createPermission", &perm); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	created, err := s.svc.CreatePermission(r.Context(), perm)
	writeResult(w, http.StatusCreated, created, err)
}

// setPermissionStatus handles PUT /v1/permissions/{code}/status
func (s *Server) setPermissionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httputil.DecodeJSON(r, "server.setPermissionStatus", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	err := s.svc.SetPermissionStatus(r.Context(), mux.Vars(r)["code"], rbac.Status(req.Status))
	writeResult(w, http.StatusNoContent, nil, err)
}

// permissionForRoute handles GET /v1/permissions/route?path=/x&method=GET
func (s *Server) permissionForRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	match := routeMatch{Path: q.Get("path"), Method: q.Get("method")}
	if match.Path == "" || match.Method == "" {
		httputil.WriteKindError(w, errs.Validation("server.permissionForRoute", "path and method are required"))
		return
	}
	code, found, err := s.svc.PermissionForRoute(r.Context(), match.Path, match.Method)
	match.Permission, match.Found = code, found
	writeResult(w, http.StatusOK, match, err)
}
