package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rebelopsio/pam-core/pkg/duty"
)

type DutyHandler struct {
	components *Components
}

type AuthorizeBody struct {
	Category          string `json:"category"`
	OperationType     string `json:"operation_type"`
	Resource          string `json:"resource,omitempty"`
	EmergencyOverride bool   `json:"emergency_override,omitempty"`
	OverrideBy        string `json:"override_by,omitempty"`
	Justification     string `json:"justification,omitempty"`
}

type CreateAssignmentBody struct {
	Principal  string `json:"principal"`
	DutyRoleID string `json:"duty_role_id"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type RevokeAssignmentBody struct {
	AssignmentID string `json:"assignment_id"`
}

type MembershipBody struct {
	Principal string `json:"principal"`
	RoleID    string `json:"role_id"`
	Action    string `json:"action"` // "grant" or "revoke"
}

func NewDutyHandler(c *Components) *DutyHandler {
	return &DutyHandler{components: c}
}

// Authorize evaluates one sensitive operation. A blocked operation comes back
// with 403 and the recorded operation, violations included.
func (h *DutyHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body AuthorizeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Category == "" || body.OperationType == "" {
		http.Error(w, "missing required fields: category, operation_type", http.StatusBadRequest)
		return
	}

	op, err := h.components.Duty.Authorize(r.Context(), duty.AuthorizeInput{
		Principal:         userID,
		Category:          body.Category,
		OperationType:     body.OperationType,
		Resource:          body.Resource,
		EmergencyOverride: body.EmergencyOverride,
		OverrideBy:        body.OverrideBy,
		Justification:     body.Justification,
	})
	if err != nil {
		writeJSON(w, http.StatusForbidden, op)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *DutyHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		http.Error(w, "missing principal parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.components.Duty.Assignments(principal))
}

func (h *DutyHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body CreateAssignmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Principal == "" || body.DutyRoleID == "" {
		http.Error(w, "missing required fields: principal, duty_role_id", http.StatusBadRequest)
		return
	}

	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			http.Error(w, "invalid expires_at, expected RFC3339", http.StatusBadRequest)
			return
		}
		expiresAt = &t
	}

	a, err := h.components.Duty.Assign(r.Context(), body.Principal, body.DutyRoleID, userID, expiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *DutyHandler) RevokeAssignment(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body RevokeAssignmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.components.Duty.RevokeAssignment(r.Context(), body.AssignmentID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ManageMembership grants or revokes standing role membership in the approver
// directory.
func (h *DutyHandler) ManageMembership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing user ID", http.StatusUnauthorized)
		return
	}

	var body MembershipBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch body.Action {
	case "grant":
		h.components.Directory.GrantRole(body.Principal, body.RoleID)
	case "revoke":
		h.components.Directory.RevokeRole(body.Principal, body.RoleID)
	default:
		http.Error(w, "action must be grant or revoke", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal": body.Principal,
		"roles":     h.components.Directory.PrincipalRoles(body.Principal),
	})
}
