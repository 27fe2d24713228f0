package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/orgs"
)

type moveOrgRequest struct {
	ParentCode string `json:"parent_code"`
}

func (s *Server) registerOrgRoutes(r *mux.Router) {
	r.Handle(apiPrefix+"/orgs", s.guard(authz.CapOrgWrite, s.createOrg)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/orgs/tree", s.guard(authz.CapOrgRead, s.orgTree)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/orgs/{code}", s.guard(authz.CapOrgRead, s.getOrg)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/orgs/{code}", s.guard(authz.CapOrgWrite, s.updateOrg)).Methods(http.MethodPatch)
	r.Handle(apiPrefix+"/orgs/{code}", s.guard(authz.CapOrgWrite, s.deleteOrg)).Methods(http.MethodDelete)
	r.Handle(apiPrefix+"/orgs/{code}/move", s.guard(authz.CapOrgWrite, s.moveOrg)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/orgs/{code}/enable", s.guard(authz.CapOrgWrite, s.enableOrg)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/orgs/{code}/ancestors", s.guard(authz.CapOrgRead, s.orgAncestors)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/orgs/{code}/children", s.guard(authz.CapOrgRead, s.orgChildren)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/orgs/{code}/members", s.guard(authz.CapOrgRead, s.listMembers)).Methods(http.MethodGet)
}

// createOrg handles POST /v1/orgs
func (s *Server) createOrg(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateOrgRequest
	if err := httputil.DecodeJSON(r, "server.createOrg", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	org, err := s.svc.CreateOrg(r.Context(), req)
	writeResult(w, http.StatusCreated, org, err)
}

// orgTree handles GET /v1/orgs/tree?root=CODE
func (s *Server) orgTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.svc.OrgTree(r.Context(), r.URL.Query().Get("root"))
	if err == nil && tree == nil {
		tree = []*orgs.TreeNode{}
	}
	writeResult(w, http.StatusOK, tree, err)
}

// getOrg handles GET /v1/orgs/{code}
func (s *Server) getOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.svc.GetOrg(r.Context(), mux.Vars(r)["code"])
	writeResult(w, http.StatusOK, org, err)
}

// updateOrg handles PATCH /v1/orgs/{code}
func (s *Server) updateOrg(w http.ResponseWriter, r *http.Request) {
	var req orgs.UpdateOrgRequest
	if err := httputil.DecodeJSON(r, "server.updateOrg", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	org, err := s.svc.UpdateOrg(r.Context(), mux.Vars(r)["code"], req)
	writeResult(w, http.StatusOK, org, err)
}

// deleteOrg handles DELETE /v1/orgs/{code}
func (s *Server) deleteOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.svc.DeleteOrg(r.Context(), mux.Vars(r)["code"])
	writeResult(w, http.StatusOK, org, err)
}

// moveOrg handles POST /v1/orgs/{code}/move
func (s *Server) moveOrg(w http.ResponseWriter, r *http.Request) {
	var req moveOrgRequest
	if err := httputil.DecodeJSON(r, "server.moveOrg", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	result, err := s.svc.MoveOrg(r.Context(), mux.Vars(r)["code"], req.ParentCode)
	writeResult(w, http.StatusOK, result, err)
}

// enableOrg handles POST /v1/orgs/{code}/enable
func (s *Server) enableOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.svc.EnableOrg(r.Context(), mux.Vars(r)["code"])
	writeResult(w, http.StatusOK, org, err)
}

// orgAncestors handles GET /v1/orgs/{code}/ancestors
func (s *Server) orgAncestors(w http.ResponseWriter, r *http.Request) {
	chain, err := s.svc.OrgAncestors(r.Context(), mux.Vars(r)["code"])
	writeResult(w, http.StatusOK, chain, err)
}

// orgChildren handles GET /v1/orgs/{code}/children?include_self=true
func (s *Server) orgChildren(w http.ResponseWriter, r *http.Request) {
	includeSelf, err := httputil.QueryBool(r, "server.orgChildren", "include_self", false)
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	nodes, err := s.svc.OrgChildren(r.Context(), mux.Vars(r)["code"], includeSelf)
	if err == nil && nodes == nil {
		nodes = []orgs.Organization{}
	}
	writeResult(w, http.StatusOK, nodes, err)
}

// listMembers handles GET /v1/orgs/{code}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.ListMembers(r.Context(), mux.Vars(r)["code"])
	if err == nil && members == nil {
		members = []*orgs.Member{}
	}
	writeResult(w, http.StatusOK, members, err)
}
