package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/auth"
	"github.com/rebelopsio/pam-core/pkg/clock"
	"github.com/rebelopsio/pam-core/pkg/duty"
	"github.com/rebelopsio/pam-core/pkg/elevation"
	"github.com/rebelopsio/pam-core/pkg/mfa"
	"github.com/rebelopsio/pam-core/pkg/models"
	"github.com/rebelopsio/pam-core/pkg/notify"
	"github.com/rebelopsio/pam-core/pkg/registry"
	"github.com/rebelopsio/pam-core/pkg/risk"
	"github.com/rebelopsio/pam-core/pkg/session"
	"github.com/rebelopsio/pam-core/pkg/store"
)

func testPolicySet() registry.PolicySet {
	return registry.PolicySet{
		Roles: []models.PrivilegedRole{
			{
				ID:                 "security-lead",
				Name:               "Security Lead",
				MaxSessionDuration: 8 * time.Hour,
				RiskLevel:          models.RiskLevelMedium,
				Enabled:            true,
			},
			{
				ID:                 "log-reader",
				Name:               "Log Reader",
				MaxSessionDuration: time.Hour,
				RiskLevel:          models.RiskLevelLow,
				Enabled:            true,
			},
			{
				ID:                 "db-admin",
				Name:               "Database Administrator",
				RequiresApproval:   true,
				ApproverRoles:      []string{"security-lead"},
				MFARequired:        true,
				MFAMethods:         []models.MFAMethod{models.MFAMethodSMS},
				MaxSessionDuration: 8 * time.Hour,
				RiskLevel:          models.RiskLevelHigh,
				Enabled:            true,
			},
		},
		DutyRoles: []models.DutyRole{
			{
				ID:              "payment-initiator",
				Name:            "Payment Initiator",
				Category:        "payment-initiation",
				SeparationLevel: models.SeparationStrong,
			},
			{
				ID:              "payment-approver",
				Name:            "Payment Approver",
				Category:        "payment-approval",
				SeparationLevel: models.SeparationStrong,
			},
		},
		SeparationRules: []models.SeparationRule{
			{
				ID:                    "payment-separation",
				Name:                  "Payment initiation and approval",
				PrimaryCategory:       "payment-approval",
				ConflictingCategories: []string{"payment-initiation"},
				ConflictType:          models.ConflictTypeRole,
				EnforcementLevel:      models.EnforcementFatal,
				Enabled:               true,
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Components) {
	t.Helper()
	reg, err := registry.New(testPolicySet())
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	memStore := store.NewMemoryStore()
	directory := auth.NewDirectory()
	directory.GrantRole("lead-1", "security-lead")

	logger := zap.NewNop()
	emitter := audit.NopEmitter{}
	evaluator := risk.NewEvaluator(clk, nil)
	mfaEngine := mfa.NewEngine(memStore, clk, &mfa.StaticProvider{Code: "123456"}, emitter, logger)
	sessions := session.NewManager(memStore, clk, emitter, logger, session.Config{})
	elevationMgr := elevation.NewManager(
		reg, directory, memStore, clk, evaluator, mfaEngine, sessions,
		emitter, notify.NopDispatcher{}, logger,
	)
	detector := duty.NewDetector(reg, memStore, clk, emitter, logger)

	c := &Components{
		Registry:  reg,
		Store:     memStore,
		Clock:     clk,
		Directory: directory,
		MFA:       mfaEngine,
		Sessions:  sessions,
		Elevation: elevationMgr,
		Duty:      detector,
	}
	srv := httptest.NewServer(newMux(c))
	t.Cleanup(srv.Close)
	return srv, c
}

func doJSON(t *testing.T, method, url, userID string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSubmitRequiresUserHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests", "", SubmitRequestBody{
		RoleID: "log-reader", Reason: "triage", Duration: "30m",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitAutoApprove(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests", "carol", SubmitRequestBody{
		RoleID: "log-reader", Reason: "incident triage", Duration: "30m",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var req models.AccessRequest
	decode(t, resp, &req)
	assert.Equal(t, models.RequestStatusActive, req.Status)
	assert.NotEmpty(t, req.SessionID)

	// The spawned session is visible over the API.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/status?session_id="+req.SessionID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess models.PrivilegedSession
	decode(t, resp, &sess)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
}

func TestSubmitValidationError(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests", "carol", SubmitRequestBody{
		RoleID: "ghost-role", Reason: "triage", Duration: "30m",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApprovalAndMFAFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests", "alice", SubmitRequestBody{
		RoleID: "db-admin", Reason: "migration", Duration: "2h",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var req models.AccessRequest
	decode(t, resp, &req)
	require.Equal(t, models.RequestStatusPendingApproval, req.Status)

	// A non-approver is rejected.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests/decision", "rando", DecisionBody{
		RequestID: req.ID, Decision: "approved",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/requests/decision", "lead-1", DecisionBody{
		RequestID: req.ID, Decision: "approved", Comment: "ok",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &req)
	require.Equal(t, models.RequestStatusPendingMFA, req.Status)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/mfa/challenge?request_id="+req.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ch models.MFAChallenge
	decode(t, resp, &ch)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/mfa/verify", "alice", VerifyMFABody{
		ChallengeID: ch.ID, Code: "123456",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/requests/status?request_id="+req.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &req)
	assert.Equal(t, models.RequestStatusActive, req.Status)
}

func TestDutyAuthorizeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/duty/assignments", "admin", CreateAssignmentBody{
		Principal: "dave", DutyRoleID: "payment-initiator",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Clean category executes.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/duty/authorize", "dave", AuthorizeBody{
		Category: "payment-initiation", OperationType: "initiate_wire",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var op models.DutyOperation
	decode(t, resp, &op)
	assert.Equal(t, models.OperationStatusExecuted, op.Status)

	// The conflicting category comes back 403 with the recorded operation.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/duty/authorize", "dave", AuthorizeBody{
		Category: "payment-approval", OperationType: "approve_wire",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	decode(t, resp, &op)
	assert.Equal(t, models.OperationStatusBlocked, op.Status)
	assert.NotEmpty(t, op.Violations)
}

func TestMembershipEndpoint(t *testing.T) {
	srv, c := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/memberships", "admin", MembershipBody{
		Principal: "erin", RoleID: "security-lead", Action: "grant",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, c.Directory.HasRole("erin", "security-lead"))

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/memberships", "admin", MembershipBody{
		Principal: "erin", RoleID: "security-lead", Action: "revoke",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, c.Directory.HasRole("erin", "security-lead"))
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
