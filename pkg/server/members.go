package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/orgs"
)

type changeRoleRequest struct {
	RoleID string `json:"role_id"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) registerMemberRoutes(r *mux.Router) {
	r.Handle(apiPrefix+"/members", s.guard(authz.CapMemberWrite, s.createMember)).Methods(http.MethodPost)
	r.Handle(apiPrefix+"/members/{id}", s.guard(authz.CapOrgRead, s.getMember)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/members/{id}/role", s.guard(authz.CapMemberWrite, s.changeMemberRole)).Methods(http.MethodPut)
	r.Handle(apiPrefix+"/members/{id}/status", s.guard(authz.CapMemberWrite, s.setMemberStatus)).Methods(http.MethodPut)
}

// createMember handles POST /v1/members
func (s *Server) createMember(w http.ResponseWriter, r *http.Request) {
	var req authz.CreateMemberRequest
	if err := httputil.DecodeJSON(r, "server.createMember", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	member, err := s.svc.CreateMember(r.Context(), req)
	writeResult(w, http.StatusCreated, member, err)
}

// getMember handles GET /v1/members/{id}
func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	member, err := s.svc.GetMember(r.Context(), mux.Vars(r)["id"])
	writeResult(w, http.StatusOK, member, err)
}

// changeMemberRole handles PUT /v1/members/{id}/role
func (s *Server) changeMemberRole(w http.ResponseWriter, r *http.Request) {
	const op = "server.changeMemberRole"
	var req changeRoleRequest
	if err := httputil.DecodeJSON(r, op, &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	member, err := s.svc.ChangeMemberRole(r.Context(), mux.Vars(r)["id"], req.RoleID)
	writeResult(w, http.StatusOK, member, err)
}

// setMemberStatus handles PUT /v1/members/{id}/status
func (s *Server) setMemberStatus(w http.ResponseWriter, r *http.Request) {
	const op = "server.setMemberStatus"
	var req statusRequest
	if err := httputil.DecodeJSON(r, op, &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	member, err := s.svc.SetMemberStatus(r.Context(), mux.Vars(r)["id"], orgs.Status(req.Status))
	writeResult(w, http.StatusOK, member, err)
}
