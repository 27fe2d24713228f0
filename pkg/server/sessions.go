package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
)

func (s *Server) registerSessionRoutes(r *mux.Router) {
	r.HandleFunc(apiPrefix+"/auth/logout", s.logout).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/auth/session", s.ownSession).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/auth/acl", s.ownACL).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/sessions/{member_id}", s.guard(authz.CapSessionRevoke, s.memberSession)).Methods(http.MethodGet)
	r.Handle(apiPrefix+"/sessions/{member_id}", s.guard(authz.CapSessionRevoke, s.revokeSession)).Methods(http.MethodDelete)
}

// login handles POST /v1/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := httputil.DecodeJSON(r, "server.login", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	pair, err := s.svc.Login(r.Context(), req)
	writeResult(w, http.StatusOK, pair, err)
}

// refresh handles POST /v1/auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := httputil.DecodeJSON(r, "server.refresh", &req); err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	pair, err := s.svc.RefreshAccessToken(r.Context(), req.RefreshToken)
	writeResult(w, http.StatusOK, pair, err)
}

// logout handles POST /v1/auth/logout. The access token stays valid until it
// expires; the refresh token stops working immediately.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := contextkeys.GetIdentity(r.Context())
	writeResult(w, http.StatusNoContent, nil, s.svc.RevokeSession(r.Context(), id.MemberID))
}

// ownSession handles GET /v1/auth/session
func (s *Server) ownSession(w http.ResponseWriter, r *http.Request) {
	id, _ := contextkeys.GetIdentity(r.Context())
	session, err := s.svc.Session(r.Context(), id.MemberID)
	writeResult(w, http.StatusOK, session, err)
}

// ownACL handles GET /v1/auth/acl
func (s *Server) ownACL(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, contextkeys.GetACL(r.Context()))
}

// memberSession handles GET /v1/sessions/{member_id}
func (s *Server) memberSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Session(r.Context(), mux.Vars(r)["member_id"])
	writeResult(w, http.StatusOK, session, err)
}

// revokeSession handles DELETE /v1/sessions/{member_id}
func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusNoContent, nil, s.svc.RevokeSession(r.Context(), mux.Vars(r)["member_id"]))
}
