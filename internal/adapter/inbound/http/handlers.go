package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/shield"
)

// checkRequest is the wire shape of POST /api/v1/check.
type checkRequest struct {
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args"`
	SessionID string         `json:"session_id,omitempty" validate:"omitempty,max=256"`
	Sender    string         `json:"sender,omitempty" validate:"omitempty,max=256"`
	RequestID string         `json:"request_id,omitempty" validate:"omitempty,max=256"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if err := requireJSONContentType(r.Header.Get("Content-Type")); err != nil {
		s.writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error())
		return
	}

	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateToolName(req.ToolName); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateArgsDepth(req.Args); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}

	res := s.engine.Check(r.Context(), req.ToolName, req.Args, req.SessionID, req.Sender)
	if req.RequestID != "" {
		res.RequestID = req.RequestID
	}
	s.metrics.CheckVerdictsTotal.WithLabelValues(string(res.Verdict)).Inc()
	writeJSON(w, http.StatusOK, res)
}

// postCheckRequest is the wire shape of POST /api/v1/post-check.
type postCheckRequest struct {
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args"`
	Result    any            `json:"result"`
	SessionID string         `json:"session_id,omitempty" validate:"omitempty,max=256"`
}

func (s *Server) handlePostCheck(w http.ResponseWriter, r *http.Request) {
	if err := requireJSONContentType(r.Header.Get("Content-Type")); err != nil {
		s.writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error())
		return
	}

	var req postCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateToolName(req.ToolName); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateArgsDepth(req.Args); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if err := validateStruct(req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}

	res := s.engine.PostCheck(r.Context(), req.ToolName, req.Result, req.SessionID)
	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status     string     `json:"status"`
	RulesCount int        `json:"rules_count"`
	Mode       shield.Mode `json:"mode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.Summary()
	status := "ok"
	if summary.Killed {
		status = "killed"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		RulesCount: summary.RuleCount,
		Mode:       summary.Mode,
	})
}

type constraintsResponse struct {
	Summary string `json:"summary"`
}

func (s *Server) handleConstraints(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.Summary()
	text := formatConstraintsSummary(summary)
	writeJSON(w, http.StatusOK, constraintsResponse{Summary: text})
}

func formatConstraintsSummary(sum shield.PolicySummary) string {
	status := "active"
	if sum.Killed {
		status = "killed: " + sum.KillReason
	}
	return "mode=" + string(sum.Mode) +
		" rules=" + strconv.Itoa(sum.RuleCount) +
		" rate_limits=" + strconv.Itoa(sum.RateLimitCount) +
		" honeypots=" + strconv.Itoa(sum.HoneypotCount) +
		" status=" + status
}

type reloadResponse struct {
	OldCount int `json:"old_count"`
	NewCount int `json:"new_count"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	oldCount := s.engine.Summary().RuleCount

	raw, err := s.rulesLoader()
	if err != nil {
		s.writeInvalidInput(w, err)
		return
	}

	if err := s.engine.Reload(raw); err != nil {
		s.writeInvalidInput(w, err)
		return
	}

	newCount := s.engine.Summary().RuleCount
	writeJSON(w, http.StatusOK, reloadResponse{OldCount: oldCount, NewCount: newCount})
}

type killRequest struct {
	Reason string `json:"reason,omitempty"`
}

type killResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	// Body is optional; an empty body is not an error.
	_ = decodeJSON(r, &req)

	s.engine.Kill(req.Reason)
	writeJSON(w, http.StatusOK, killResponse{Status: "killed", Reason: req.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type statusResponse struct {
	Status     string      `json:"status"`
	Killed     bool        `json:"killed"`
	Mode       shield.Mode `json:"mode"`
	RulesCount int         `json:"rules_count"`
	Version    string      `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.Summary()
	status := "ok"
	if summary.Killed {
		status = "killed"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     status,
		Killed:     summary.Killed,
		Mode:       summary.Mode,
		RulesCount: summary.RuleCount,
		Version:    s.version,
	})
}

type checkApprovalRequest struct {
	ApprovalID string `json:"approval_id"`
}

type checkApprovalResponse struct {
	ApprovalID  string `json:"approval_id"`
	Status      string `json:"status"`
	Responder   string `json:"responder,omitempty"`
	AutoVerdict string `json:"auto_verdict,omitempty"`
}

func (s *Server) handleCheckApproval(w http.ResponseWriter, r *http.Request) {
	var req checkApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if req.ApprovalID == "" {
		s.writeInvalidInput(w, errors.New("approval_id is required"))
		return
	}

	approved, err := s.engine.GetApprovalStatus(r.Context(), req.ApprovalID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "approval request not found")
			return
		}
		s.writeInternalError(w, err)
		return
	}

	resp := checkApprovalResponse{
		ApprovalID: approved.ID,
		Status:     string(approved.Status),
		Responder:  approved.Responder,
	}
	if approved.Status == approval.StatusTimeout {
		resp.AutoVerdict = string(s.timeoutVerdict())
	}
	writeJSON(w, http.StatusOK, resp)
}

type respondApprovalRequest struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Responder  string `json:"responder,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

func (s *Server) handleRespondApproval(w http.ResponseWriter, r *http.Request) {
	var req respondApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeInvalidInput(w, err)
		return
	}
	if req.ApprovalID == "" {
		s.writeInvalidInput(w, errors.New("approval_id is required"))
		return
	}

	if err := s.engine.RespondApproval(r.Context(), req.ApprovalID, req.Approved, req.Responder, req.Comment); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "approval request not found")
			return
		}
		if errors.Is(err, approval.ErrAlreadyResolved) {
			s.writeError(w, http.StatusConflict, "already_resolved", "approval request already resolved")
			return
		}
		s.writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pendingApprovalsResponse struct {
	Items []approval.Request `json:"items"`
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.PendingApprovals(r.Context())
	if err != nil {
		s.writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, pendingApprovalsResponse{Items: items})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	if s.engine.Summary().RuleCount == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no rules loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) timeoutVerdict() rule.Verdict {
	// TimeoutVerdict is read through engine.Summary-adjacent config in the
	// caller that built this Server (see NewServer); exposed here for the
	// check-approval handler's auto_verdict field.
	if s.timeoutVerdictIsAllow {
		return rule.Allow
	}
	return rule.Block
}

// writeInvalidInput reports a 422. The raw error text is only echoed back
// to the caller in debug mode; otherwise a generic message is sent and the
// detail is logged instead (spec §7: internals hidden unless debug mode).
func (s *Server) writeInvalidInput(w http.ResponseWriter, err error) {
	s.logger.Warn("invalid request", "error", err)
	msg := "invalid request"
	if s.debug {
		msg = err.Error()
	}
	s.writeError(w, http.StatusUnprocessableEntity, "invalid_input", msg)
}

func (s *Server) writeInternalError(w http.ResponseWriter, err error) {
	s.logger.Error("internal error handling request", "error", err)
	msg := "internal error"
	if s.debug {
		msg = err.Error()
	}
	failMode := s.failMode
	writeError(w, http.StatusInternalServerError, "internal_error", msg, &failMode)
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	writeError(w, status, kind, message, nil)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

