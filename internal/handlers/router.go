package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/internal/config"
	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/auth"
	"github.com/rebelopsio/pam-core/pkg/clock"
	"github.com/rebelopsio/pam-core/pkg/duty"
	"github.com/rebelopsio/pam-core/pkg/elevation"
	"github.com/rebelopsio/pam-core/pkg/mfa"
	"github.com/rebelopsio/pam-core/pkg/notify"
	"github.com/rebelopsio/pam-core/pkg/registry"
	"github.com/rebelopsio/pam-core/pkg/risk"
	"github.com/rebelopsio/pam-core/pkg/session"
	"github.com/rebelopsio/pam-core/pkg/store"
)

// Components bundles the assembled engine. The HTTP layer is one thin caller;
// everything below it is wired here in one place.
type Components struct {
	Registry  *registry.Registry
	Store     *store.MemoryStore
	Clock     clock.Clock
	Directory *auth.Directory
	MFA       *mfa.Engine
	Sessions  *session.Manager
	Elevation *elevation.Manager
	Duty      *duty.Detector
	Emitter   *audit.AsyncEmitter
	Sweeper   *store.Sweeper
}

// BuildComponents assembles the engine from configuration.
func BuildComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	reg, err := registry.LoadFile(cfg.Policy.File)
	if err != nil {
		return nil, err
	}

	clk := clock.System()
	memStore := store.NewMemoryStore()
	directory := auth.NewDirectory()

	emitter := audit.NewAsyncEmitter(audit.NewLogSink(logger.Named("audit")), logger, cfg.Engine.AuditBuffer)
	notifier := notify.NewLogDispatcher(logger.Named("notify"))

	evaluator := risk.NewEvaluator(clk, &challengeFailureSignal{
		store: memStore,
		clock: clk,
		max:   cfg.Engine.RecentAuthFailMax,
	})
	provider := mfa.NewTOTPProvider(cfg.Engine.TOTPIssuer)
	mfaEngine := mfa.NewEngine(memStore, clk, provider, emitter, logger.Named("mfa"))

	sessions := session.NewManager(memStore, clk, emitter, logger.Named("session"), session.Config{
		IdleThreshold: cfg.Engine.IdleThreshold,
		SweepInterval: cfg.Engine.SessionSweep,
	})

	elevationMgr := elevation.NewManager(
		reg, directory, memStore, clk, evaluator, mfaEngine, sessions,
		emitter, notifier, logger.Named("elevation"),
	)

	detector := duty.NewDetector(reg, memStore, clk, emitter, logger.Named("duty"))
	sweeper := store.NewSweeper(memStore, clk, logger.Named("sweeper"),
		cfg.Engine.Retention, cfg.Engine.RetentionSweep)

	return &Components{
		Registry:  reg,
		Store:     memStore,
		Clock:     clk,
		Directory: directory,
		MFA:       mfaEngine,
		Sessions:  sessions,
		Elevation: elevationMgr,
		Duty:      detector,
		Emitter:   emitter,
		Sweeper:   sweeper,
	}, nil
}

// challengeFailureSignal reports the principal's failed MFA challenges over
// the last day, capped so one bad streak cannot dominate the score forever.
type challengeFailureSignal struct {
	store *store.MemoryStore
	clock clock.Clock
	max   int
}

func (s *challengeFailureSignal) RecentFailures(_ context.Context, principal string) int {
	n := s.store.CountFailedChallenges(principal, s.clock.Now().Add(-24*time.Hour))
	if s.max > 0 && n > s.max {
		return s.max
	}
	return n
}

// Run drives the background loops until ctx is cancelled.
func (c *Components) Run(ctx context.Context) {
	c.Emitter.Start(ctx)
	go c.Sessions.Run(ctx)
	go c.Sweeper.Run(ctx)
}

func NewRouter(cfg *config.Config, logger *zap.Logger) (http.Handler, *Components, error) {
	components, err := BuildComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return newMux(components), components, nil
}

func newMux(c *Components) http.Handler {
	mux := http.NewServeMux()

	h := &Handler{components: c}
	elevationHandler := NewElevationHandler(c)
	dutyHandler := NewDutyHandler(c)

	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)

	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			elevationHandler.ListRequests(w, r)
		case http.MethodPost:
			elevationHandler.SubmitRequest(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/requests/status", elevationHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/decision", elevationHandler.RecordDecision)
	mux.HandleFunc("/api/v1/requests/revoke", elevationHandler.RevokeRequest)

	mux.HandleFunc("/api/v1/mfa/challenge", elevationHandler.GetChallenge)
	mux.HandleFunc("/api/v1/mfa/verify", elevationHandler.VerifyMFA)

	mux.HandleFunc("/api/v1/sessions/status", elevationHandler.GetSession)
	mux.HandleFunc("/api/v1/sessions/activity", elevationHandler.RecordActivity)

	mux.HandleFunc("/api/v1/duty/authorize", dutyHandler.Authorize)
	mux.HandleFunc("/api/v1/duty/assignments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			dutyHandler.ListAssignments(w, r)
		case http.MethodPost:
			dutyHandler.CreateAssignment(w, r)
		case http.MethodDelete:
			dutyHandler.RevokeAssignment(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/admin/memberships", dutyHandler.ManageMembership)

	return mux
}

type Handler struct {
	components *Components
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
