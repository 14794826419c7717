// Package httpapi implements the versioned /v2 HTTP surface (A2): a
// chi router wiring the orchestrator, hold manager, approval manager,
// treasury ledger, webhook ingress and audit ledger into request
// handlers. Grounded on the teacher's
// services/otc-gateway/server/server.go Config/Server/New/buildRouter
// shape, generalized from a single invoice-signing API to the full
// multi-rail payment control plane surface.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"sardis/internal/approval"
	"sardis/internal/hold"
	"sardis/internal/ledger"
	"sardis/internal/observability"
	"sardis/internal/orchestrator"
	"sardis/internal/recon"
	"sardis/internal/treasury"
	"sardis/internal/webhook"
)

// APIVersion is sent on every response via X-API-Version, per spec §6.
const APIVersion = "v2"

// Config bundles Server's collaborators.
type Config struct {
	DB            *gorm.DB
	Orchestrator  *orchestrator.Orchestrator
	Holds         *hold.Manager
	Approvals     *approval.Manager
	Treasury      *treasury.Ledger
	Ledger        *ledger.Ledger
	Recon         *recon.Reconciler
	WebhookDedupe *webhook.Dedupe
	Subscriptions map[string]webhook.Subscription
	Observability *observability.Observability
	Guardrails    *observability.Guardrails
	Auth          *Authenticator
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	cfg    Config
	router http.Handler
}

// New constructs a configured HTTP router with authentication,
// idempotency, observability and versioning support.
func New(cfg Config) *Server {
	srv := &Server{cfg: cfg}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(versionHeader)
	if s.cfg.DB != nil {
		r.Use(func(next http.Handler) http.Handler { return WithIdempotency(s.cfg.DB, next) })
	}

	r.Route("/v2", func(v2 chi.Router) {
		// Webhook ingress is authenticated by the provider's HMAC
		// signature (IngestWebhook/webhook.VerifySignature), never by an
		// operator bearer token — a provider callback carries no
		// Sardis-issued JWT. Registered before v2.Use(Auth) below so chi
		// builds this route's handler chain without the auth middleware,
		// per spec §6's webhook signature contract.
		v2.Post("/webhooks/{provider}", s.wrap("webhooks.ingest", s.IngestWebhook))

		if s.cfg.Auth != nil {
			v2.Use(s.cfg.Auth.Authenticate)
		}

		v2.Group(func(agent chi.Router) {
			agent.With(s.requireRole(RoleAgent, RoleOperator)).Post("/payments/execute", s.wrap("payments.execute", s.ExecutePayment))
			agent.With(s.requireRole(RoleAgent, RoleOperator, RoleAuditor)).Get("/payments/{id}", s.wrap("payments.get", s.GetPayment))
		})

		v2.Group(func(ledgerRoutes chi.Router) {
			ledgerRoutes.With(s.requireRole(RoleAuditor, RoleOperator)).Get("/ledger/entries/{ltx_id}", s.wrap("ledger.get", s.GetLedgerEntry))
			ledgerRoutes.With(s.requireRole(RoleAuditor, RoleOperator)).Get("/ledger/entries/{ltx_id}/verify", s.wrap("ledger.verify", s.VerifyLedgerEntry))
		})

		v2.Group(func(holds chi.Router) {
			holds.With(s.requireRole(RoleAgent, RoleOperator)).Post("/holds", s.wrap("holds.open", s.OpenHold))
			holds.With(s.requireRole(RoleAgent, RoleOperator)).Post("/holds/{id}/capture", s.wrap("holds.capture", s.CaptureHold))
			holds.With(s.requireRole(RoleAgent, RoleOperator)).Post("/holds/{id}/void", s.wrap("holds.void", s.VoidHold))
		})

		v2.Group(func(approvals chi.Router) {
			approvals.With(s.requireRole(RoleAgent, RoleOperator)).Post("/approvals", s.wrap("approvals.create", s.CreateApproval))
			approvals.With(s.requireRole(RoleOperator)).Post("/approvals/{id}/decide", s.wrap("approvals.decide", s.DecideApproval))
		})

		v2.Group(func(treasuryRoutes chi.Router) {
			treasuryRoutes.With(s.requireRole(RoleOperator)).Post("/treasury/fund", s.wrap("treasury.fund", s.FundTreasury))
			treasuryRoutes.With(s.requireRole(RoleOperator)).Post("/treasury/withdraw", s.wrap("treasury.withdraw", s.WithdrawTreasury))
			treasuryRoutes.With(s.requireRole(RoleOperator, RoleAuditor)).Get("/treasury/balances", s.wrap("treasury.balances", s.TreasuryBalances))
		})

		v2.With(s.requireRole(RoleAuditor, RoleOperator)).Get("/compliance/export", s.wrap("compliance.export", s.ComplianceExport))

		v2.Group(func(ops chi.Router) {
			ops.With(s.requireRole(RoleOperator)).Post("/ops/wallets/{id}/kill", s.wrap("ops.kill_wallet", s.KillWallet))
			ops.With(s.requireRole(RoleOperator)).Post("/ops/wallets/{id}/revive", s.wrap("ops.revive_wallet", s.ReviveWallet))
			ops.With(s.requireRole(RoleOperator)).Post("/ops/failover-mode", s.wrap("ops.set_failover_mode", s.SetFailoverMode))
			ops.With(s.requireRole(RoleOperator, RoleAuditor)).Get("/ops/stream", s.StreamJourneys)
		})
	})

	return r
}

func versionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", APIVersion)
		next.ServeHTTP(w, r)
	})
}

// wrap applies the observability middleware for route (metrics +
// tracing span) around handler, matching the teacher's per-route
// Observability.Middleware wrapping.
func (s *Server) wrap(route string, handler http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Observability == nil {
		return handler
	}
	wrapped := s.cfg.Observability.Middleware(route)(handler)
	return func(w http.ResponseWriter, r *http.Request) { wrapped.ServeHTTP(w, r) }
}
