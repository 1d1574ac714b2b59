package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/outputpkg"
	"github.com/MrWong99/claimcast/internal/render"
	"github.com/MrWong99/claimcast/internal/run"
)

// startRequest is the body of POST /start.
type startRequest struct {
	YouTubeURL string `json:"youtubeUrl"`
}

// claimRequest is the shared body of the per-claim review actions. Fields
// beyond ExpectedVersion are used only by the actions that document them.
type claimRequest struct {
	ExpectedVersion int    `json:"expectedVersion"`
	Reason          string `json:"reason,omitempty"`
	Tag             string `json:"tag,omitempty"`
	Force           bool   `json:"force,omitempty"`
	ForceNonce      string `json:"forceNonce,omitempty"`
}

// ─── run control ──────────────────────────────────────────────────────────────

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := url.Parse(req.YouTubeURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url", "youtubeUrl must be an absolute http(s) URL")
		return
	}

	runID, err := s.deps.Controller.Start(req.YouTubeURL)
	if errors.Is(err, run.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "already_running", "a run is already active, stop it first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "runId": runID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Controller.Stop()
	if errors.Is(err, run.ErrNotRunning) {
		writeError(w, http.StatusConflict, "not_running", "no run is active")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": false})
}

// ─── read surface ─────────────────────────────────────────────────────────────

func (s *Server) handleClaims(w http.ResponseWriter, _ *http.Request) {
	runID, running := s.deps.Controller.Running()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"running": running,
		"runId":   runID,
		"claims":  s.deps.Store.List(),
	})
}

// ─── claim review actions ─────────────────────────────────────────────────────

func (s *Server) handleApproveOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}

	snap, err := s.deps.Store.ApproveOutput(id, req.ExpectedVersion)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}

	// Approval immediately produces the output package and queues a render,
	// both pinned to the version the operator just signed off on.
	pkg, err := s.deps.Packages.Generate(snap.RunID, snap)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	job, err := s.deps.Renderer.Render(context.Background(), snap.RunID, snap, pkg, false, "")
	if err != nil {
		s.writeClaimError(w, err)
		return
	}

	cur, _ := s.deps.Store.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"claim":     cur,
		"package":   pkg,
		"renderJob": job,
	})
}

func (s *Server) handleRejectOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.deps.Store.RejectOutput(id, req.ExpectedVersion)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": snap})
}

func (s *Server) handleGeneratePackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.claimAtVersion(id, req.ExpectedVersion)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}

	pkg, err := s.deps.Packages.Generate(snap.RunID, snap)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	cur, _ := s.deps.Store.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": cur, "package": pkg})
}

func (s *Server) handleRenderImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.claimAtVersion(id, req.ExpectedVersion)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}

	pkg, ok := s.deps.Packages.Latest(snap)
	if !ok {
		pkg, err = s.deps.Packages.Generate(snap.RunID, snap)
		if err != nil {
			s.writeClaimError(w, err)
			return
		}
		snap, _ = s.deps.Store.Get(id)
	}
	job, err := s.deps.Renderer.Render(context.Background(), snap.RunID, snap, pkg, req.Force, req.ForceNonce)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	cur, _ := s.deps.Store.Get(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "claim": cur, "package": pkg, "renderJob": job})
}

func (s *Server) handleTagOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.deps.Store.OverrideTag(id, req.ExpectedVersion, claims.TypeTag(req.Tag), req.Reason)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": snap})
}

// claimAtVersion fetches a claim and applies the optimistic version check
// for actions that do not mutate the store themselves.
func (s *Server) claimAtVersion(id string, expectedVersion int) (*claims.Snapshot, error) {
	snap, ok := s.deps.Store.Get(id)
	if !ok {
		return nil, claims.ErrNotFound
	}
	if snap.Version != expectedVersion {
		return nil, &claims.VersionConflictError{Current: snap.Version}
	}
	return snap, nil
}

// ─── encoding and error mapping ───────────────────────────────────────────────

// decode reads a JSON body into dst and writes the error response itself on
// failure. An empty body is accepted as an all-defaults request.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds 1 MiB")
		return false
	}
	writeError(w, http.StatusBadRequest, "bad_json", "request body is not valid JSON")
	return false
}

// writeClaimError maps store and collaborator errors onto the wire contract.
func (s *Server) writeClaimError(w http.ResponseWriter, err error) {
	var (
		conflict *claims.VersionConflictError
		blocked  *claims.PolicyBlockedError
	)
	switch {
	case errors.Is(err, claims.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no claim with that id in the current run")
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":             false,
			"error":          "version_conflict",
			"currentVersion": conflict.Current,
			"message":        "the claim changed since you loaded it, refresh and retry",
		})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":      false,
			"error":   "policy_blocked",
			"reason":  blocked.Reason,
			"message": blockMessage(blocked.Reason),
		})
	case errors.Is(err, outputpkg.ErrNotExportable), errors.Is(err, render.ErrNotExportable):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":      false,
			"error":   "policy_blocked",
			"message": err.Error(),
		})
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

// blockMessage translates a policy block reason for operators.
func blockMessage(reason claims.BlockReason) string {
	switch reason {
	case claims.BlockRejectedLocked:
		return "the claim was rejected and stays locked until its content changes"
	case claims.BlockStillResearching:
		return "research for this claim is still in progress"
	case claims.BlockNotResearched:
		return "the claim has not been researched yet"
	case claims.BlockProviderDegraded:
		return "a research provider failed, the verdict cannot be trusted"
	case claims.BlockInsufficient:
		return "not enough independent sources support the verdict"
	case claims.BlockConflicted:
		return "the collected sources disagree about the verdict"
	case claims.BlockBelowThreshold:
		return "confidence is below the approval threshold for this claim type"
	case claims.BlockNotApproved:
		return "the claim has not been approved for export"
	default:
		return string(reason)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code, "message": message})
}
