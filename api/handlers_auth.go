package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadworks-hub/core/auth"
	"roadworks-hub/core/rbac"
)

func statusFor(code auth.ResultCode) int {
	switch code {
	case auth.CodeOK:
		return http.StatusOK
	case auth.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case auth.CodeLocked:
		return http.StatusLocked
	case auth.CodeDuplicate:
		return http.StatusConflict
	case auth.CodeInvalidRequest:
		return http.StatusBadRequest
	case auth.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := s.auth.Login(r.Context(), req)
	writeJSON(w, statusFor(res.Code), res)
}

// register always creates a default-role identity; roles are granted
// afterwards by an administrator.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Role = ""
	res := s.auth.Register(r.Context(), req)
	status := statusFor(res.Code)
	if res.Success {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	uid := strings.TrimSpace(chi.URLParam(r, "uid"))
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid required")
		return
	}
	var upd auth.ProfileUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	admin := s.policy.Allowed([]string{claims.Role}, rbac.PermUsersEdit)
	if uid != claims.UID && !admin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if upd.Role != nil && !admin {
		writeError(w, http.StatusForbidden, "role change requires an administrator")
		return
	}
	res := s.auth.UpdateProfile(r.Context(), uid, upd)
	writeJSON(w, statusFor(res.Code), res)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auth.Status(r.Context()))
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync disabled")
		return
	}
	st, err := s.sync.Status(r.Context())
	if err != nil {
		s.logger.Errorf("sync status: %v", err)
		writeError(w, http.StatusInternalServerError, "sync status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
