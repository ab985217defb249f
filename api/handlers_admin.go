package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadworks-hub/core/remote"
	"roadworks-hub/core/syncer"
)

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, true)
}

func (s *Server) unblockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, false)
}

func (s *Server) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	uid := strings.TrimSpace(chi.URLParam(r, "uid"))
	actor := claimsFrom(r.Context()).Email
	var ok bool
	if blocked {
		ok = s.auth.Block(r.Context(), uid, actor)
	} else {
		ok = s.auth.Unblock(r.Context(), uid, actor)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uid": uid, "blocked": blocked})
}

func (s *Server) importUsers(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync disabled")
		return
	}
	counts, err := s.sync.ImportIdentities(r.Context())
	if err != nil {
		s.writeSyncError(w, "import identities", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) forceSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync disabled")
		return
	}
	res, err := s.sync.ForceSync(r.Context(), claimsFrom(r.Context()).Email)
	if err != nil && errors.Is(err, syncer.ErrOffline) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "remote unreachable", "result": res})
		return
	}
	if err != nil {
		// Per-record failures are in the counts; the run still completed.
		s.logger.Warnf("force sync finished with errors: %v", err)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) adminSyncStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.sync != nil {
		st, err := s.sync.Status(r.Context())
		if err != nil {
			s.writeSyncError(w, "sync status", err)
			return
		}
		out["status"] = st
	}
	if s.scheduler != nil {
		out["scheduler"] = s.scheduler.StatsSnapshot()
		out["schedulerRunning"] = s.scheduler.Running()
	}
	if s.probe != nil {
		out["connectivity"] = s.probe.State()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lockouts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.auth.Lockouts()})
}

func (s *Server) connectivityCheck(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		writeJSON(w, http.StatusOK, map[string]any{"online": false})
		return
	}
	online := s.probe.ForceCheck(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"online": online, "state": s.probe.State()})
}

func (s *Server) writeSyncError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, syncer.ErrOffline), errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "remote unreachable")
		return
	case errors.Is(err, remote.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "remote not configured")
		return
	}
	s.logger.Errorf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}
