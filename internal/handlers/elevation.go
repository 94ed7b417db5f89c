package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/elevation"
	"github.com/rebelopsio/pam-core/pkg/models"
)

type ElevationHandler struct {
	components *Components
}

type SubmitRequestBody struct {
	RoleID    string `json:"role_id"`
	Reason    string `json:"reason"`
	Duration  string `json:"duration"`
	Urgency   string `json:"urgency"`
	Emergency bool   `json:"emergency"`
}

type DecisionBody struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
}

type RevokeBody struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

type VerifyMFABody struct {
	ChallengeID  string `json:"challenge_id"`
	Code         string `json:"code"`
	BackupMethod string `json:"backup_method,omitempty"`
}

type ActivityBody struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Resource  string `json:"resource,omitempty"`
}

func NewElevationHandler(c *Components) *ElevationHandler {
	return &ElevationHandler{components: c}
}

func (h *ElevationHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body SubmitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.RoleID == "" || body.Reason == "" {
		http.Error(w, "missing required fields: role_id, reason", http.StatusBadRequest)
		return
	}

	duration, err := time.ParseDuration(body.Duration)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid duration format: %s", body.Duration), http.StatusBadRequest)
		return
	}

	urgency := models.Urgency(body.Urgency)
	if urgency == "" {
		urgency = models.UrgencyLow
	}

	req, err := h.components.Elevation.Submit(r.Context(), elevation.SubmitInput{
		Requester: userID,
		RoleID:    body.RoleID,
		Reason:    body.Reason,
		Duration:  duration,
		Urgency:   urgency,
		Emergency: body.Emergency,
		SourceIP:  clientIP(r),
	})
	if err != nil {
		// A denied request still exists and carries its audit trail; the
		// caller gets the record alongside the failure status.
		if req != nil && pamerrors.IsPolicyDenial(err) {
			writeJSON(w, http.StatusForbidden, req)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

func (h *ElevationHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		http.Error(w, "missing request_id parameter", http.StatusBadRequest)
		return
	}

	req, err := h.components.Elevation.Get(requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *ElevationHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filterRequester := r.URL.Query().Get("requester")
	filterStatus := r.URL.Query().Get("status")

	var out []*models.AccessRequest
	for _, req := range h.components.Elevation.List() {
		if filterRequester != "" && req.Requester != filterRequester {
			continue
		}
		if filterStatus != "" && string(req.Status) != filterStatus {
			continue
		}
		out = append(out, req)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ElevationHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body DecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	decision := models.Decision(body.Decision)
	if decision != models.DecisionApproved && decision != models.DecisionDenied {
		http.Error(w, "decision must be approved or denied", http.StatusBadRequest)
		return
	}

	if err := h.components.Elevation.RecordDecision(r.Context(), body.RequestID, userID, decision, body.Comment); err != nil {
		writeError(w, err)
		return
	}

	req, err := h.components.Elevation.Get(body.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *ElevationHandler) RevokeRequest(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body RevokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.components.Elevation.Revoke(r.Context(), body.RequestID, userID, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetChallenge returns the open challenge gating a request. Secrets and
// expected codes never serialize.
func (h *ElevationHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		http.Error(w, "missing request_id parameter", http.StatusBadRequest)
		return
	}

	ch, err := h.components.Elevation.PendingChallenge(requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ElevationHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body VerifyMFABody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	if body.BackupMethod != "" {
		err = h.components.MFA.VerifyBackup(r.Context(), body.ChallengeID,
			models.MFAMethod(body.BackupMethod), body.Code)
	} else {
		err = h.components.MFA.Verify(r.Context(), body.ChallengeID, body.Code)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *ElevationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id parameter", http.StatusBadRequest)
		return
	}

	sess, err := h.components.Sessions.Get(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *ElevationHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body ActivityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.components.Sessions.RecordActivity(body.SessionID, body.Action, body.Resource); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pamerrors.ErrRequestNotFound),
		errors.Is(err, pamerrors.ErrSessionNotFound),
		errors.Is(err, pamerrors.ErrChallengeNotFound),
		errors.Is(err, pamerrors.ErrRoleNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pamerrors.ErrNotApprover):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, pamerrors.ErrDuplicateDecision),
		errors.Is(err, pamerrors.ErrInvalidTransition),
		errors.Is(err, pamerrors.ErrChallengeNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case pamerrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case pamerrors.IsPolicyDenial(err), pamerrors.IsConflictViolation(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
