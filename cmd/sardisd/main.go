// Command sardisd runs the Sardis payment control plane process: the
// /v2 HTTP surface plus the webhook ingestion pool and the scheduled
// reconciliation/expiry sweeps, all sharing one Postgres-backed store.
// Grounded on services/otc-gateway/main.go's wiring order (config,
// secrets/signer, database, auth middleware, server, scheduler, listen).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sardis/internal/approval"
	"sardis/internal/config"
	"sardis/internal/hold"
	"sardis/internal/hsm"
	"sardis/internal/httpapi"
	"sardis/internal/idempotency"
	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/observability"
	"sardis/internal/orchestrator"
	"sardis/internal/payment"
	"sardis/internal/policy"
	"sardis/internal/policy/nlhint"
	"sardis/internal/provider"
	"sardis/internal/recon"
	"sardis/internal/store"
	"sardis/internal/treasury"
	"sardis/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("SARDIS_CONFIG"), "path to sardisd TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	if err := store.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	buffer := ledger.NewFailOpenBuffer(os.Getenv("SARDIS_LEDGER_FAILOPEN_PATH"))
	auditLedger := ledger.New(db, buffer)

	nlParser, err := nlhint.NewParser()
	if err != nil {
		log.Fatalf("nl hint parser error: %v", err)
	}

	policyEngine := policy.NewEngine(nil, nil, cfg.A2A.EnforceTrustTable)
	approvals := approval.New(db, auditLedger)
	transitioner := payment.NewTransitioner(db, auditLedger)
	holds := hold.New(db, auditLedger)
	treasuryLedger := treasury.New(db, auditLedger)
	idempotencyStore := idempotency.New(db, time.Duration(cfg.Idempotency.RecordTTLSeconds)*time.Second)
	webhookDedupe := webhook.NewDedupe(db)

	guardrails := observability.NewGuardrails(nil)
	guardrails.SetMode(observability.FailoverMode(cfg.FailoverMode))

	telemetryShutdown, err := observability.InitTelemetry(context.Background(), observability.TelemetryConfig{
		ServiceName: "sardis-core",
		Environment: os.Getenv("SARDIS_ENVIRONMENT"),
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    os.Getenv("SARDIS_OTLP_INSECURE") == "true",
		Headers:     observability.ParseHeaders(os.Getenv("SARDIS_OTLP_HEADERS")),
	})
	if err != nil {
		log.Fatalf("telemetry init error: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryShutdown(shutdownCtx)
	}()

	obs := observability.New(observability.Config{
		ServiceName:   "sardis-core",
		MetricsPrefix: "sardis",
		LogRequests:   true,
		Enabled:       true,
	}, log.Default())

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.MetricsHandler())
		log.Printf("serving prometheus metrics on %s/metrics", cfg.Observability.MetricsAddr)
		if err := http.ListenAndServe(cfg.Observability.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	reconciler := recon.New(recon.Config{
		DB:          db,
		Ledger:      auditLedger,
		DriftWindow: time.Duration(cfg.Recon.DriftWindowSeconds) * time.Second,
		Alert: func(b store.DriftBreak) error {
			log.Printf("recon: drift break opened payment=%s severity=%s", b.PaymentID, b.Severity)
			return nil
		},
	})

	routes := provider.NewCapabilityMatrix()
	if routesFile := os.Getenv("SARDIS_PROVIDER_ROUTES_FILE"); routesFile != "" {
		if err := provider.RegisterRoutesFile(routes, routesFile, provider.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenProbes:   1,
		}); err != nil {
			log.Fatalf("provider routes file error: %v", err)
		}
	}
	signerReady, signerClose := wireStablecoinRoute(routes)
	if signerClose != nil {
		defer signerClose()
	}

	orch := orchestrator.New(orchestrator.Config{
		DB:           db,
		Idempotency:  idempotencyStore,
		Policy:       policyEngine,
		NLParser:     nlParser,
		Approvals:    approvals,
		Transitioner: transitioner,
		Ledger:       auditLedger,
		Snapshots: func(ctx context.Context, orgID string) (policy.Snapshot, error) {
			return policy.Snapshot{
				GoalDriftReviewThreshold: cfg.Policy.GoalDriftReviewThreshold,
				GoalDriftBlockThreshold:  cfg.Policy.GoalDriftBlockThreshold,
			}, nil
		},
		Velocity: func(ctx context.Context, orgID, walletID string) (policy.VelocityCounters, error) {
			return policy.VelocityCounters{}, nil
		},
		Routes: func(orgID, rail, direction, currency string) (provider.Route, error) {
			route, err := routes.Resolve(orgID, rail, direction, currency)
			if err != nil {
				// Per-org routing policy isn't modeled yet; every org
				// shares the process-wide default route table.
				return routes.Resolve("default", rail, direction, currency)
			}
			return route, err
		},
		Guardrails: guardrails,
	})

	authenticator := httpapi.NewAuthenticator(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)

	api := httpapi.New(httpapi.Config{
		DB:            db,
		Orchestrator:  orch,
		Holds:         holds,
		Approvals:     approvals,
		Treasury:      treasuryLedger,
		Ledger:        auditLedger,
		Recon:         reconciler,
		WebhookDedupe: webhookDedupe,
		Subscriptions: loadWebhookSubscriptions(),
		Observability: obs,
		Guardrails:    guardrails,
		Auth:          authenticator,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := webhook.NewWorker(db, func(ctx context.Context, event store.WebhookEvent) error {
		return webhookDedupe.MarkProcessed(ids.ID(event.ID))
	})
	go runSweepLoop(ctx, "webhook delivery", 2*time.Second, func(now time.Time) (int, error) {
		return worker.RunOnce(ctx, now)
	})
	go runSweepLoop(ctx, "stale inflight sweep", 30*time.Second, func(now time.Time) (int, error) {
		return reconciler.SweepStaleInflight(now)
	})
	go runSweepLoop(ctx, "idempotency sweep", time.Minute, func(now time.Time) (int, error) {
		n, err := idempotencyStore.Sweep(now)
		return int(n), err
	})

	if signerReady != nil {
		go runSweepLoop(ctx, "mpc signer health probe", 15*time.Second, func(now time.Time) (int, error) {
			return 0, signerReady(ctx)
		})
	}

	handler := otelhttp.NewHandler(api.Handler(), "sardis-core")
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("starting sardis-core on %s", cfg.HTTP.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func runSweepLoop(ctx context.Context, name string, interval time.Duration, sweep func(time.Time) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := sweep(now); err != nil {
				log.Printf("%s: error: %v", name, err)
			} else if n > 0 {
				log.Printf("%s: processed %d", name, n)
			}
		}
	}
}

// wireStablecoinRoute optionally builds the MPC-signed stablecoin rail and
// registers it as the "default" org's route for every org whose own route
// lookup misses (per-org routing policy isn't modeled yet). Stays entirely
// off — returning a nil ready-check and close func — unless
// SARDIS_HSM_BASE_URL is configured, so a deployment with no signing proxy
// reachable yet still starts cleanly with stablecoin routes simply unset.
//
// The returned ready func, when non-nil, combines the gRPC signer's
// standard health-check RPC with an optional DNS pin on its resolved host,
// and is both wired into GuardedAdapter.Submit (via WithReadyCheck, so a
// cold signer fails fast as Retryable instead of timing out against the
// breaker) and polled on a standalone interval by the caller so an outage
// is visible in logs before the first payment hits it.
func wireStablecoinRoute(routes *provider.CapabilityMatrix) (func(context.Context) error, func()) {
	baseURL := os.Getenv("SARDIS_HSM_BASE_URL")
	if baseURL == "" {
		return nil, nil
	}

	signer, err := hsm.NewClient(hsm.Config{
		BaseURL:    baseURL,
		KeyLabel:   os.Getenv("SARDIS_HSM_KEY_LABEL"),
		CACertPath: os.Getenv("SARDIS_HSM_CA_CERT_PATH"),
		ClientCert: os.Getenv("SARDIS_HSM_CLIENT_CERT"),
		ClientKey:  os.Getenv("SARDIS_HSM_CLIENT_KEY"),
	})
	if err != nil {
		log.Printf("stablecoin route disabled: %v", err)
		return nil, nil
	}

	var ready func(context.Context) error
	var closeFn func()
	if grpcTarget := os.Getenv("SARDIS_MPC_SIGNER_GRPC_TARGET"); grpcTarget != "" {
		grpcClient, err := hsm.NewGRPCClient(hsm.GRPCConfig{
			Target:        grpcTarget,
			AllowInsecure: os.Getenv("SARDIS_MPC_SIGNER_GRPC_INSECURE") == "true",
			Timeout:       5 * time.Second,
		})
		if err != nil {
			log.Printf("mpc signer grpc health probe disabled: %v", err)
		} else {
			dnsPinner, pinnedHost, pinnedIPs := loadSignerDNSPin()
			ready = func(ctx context.Context) error {
				if err := grpcClient.HealthCheck(ctx); err != nil {
					return err
				}
				if dnsPinner != nil {
					return dnsPinner.Check(pinnedHost, pinnedIPs)
				}
				return nil
			}
			closeFn = func() { _ = grpcClient.Close() }
		}
	}

	adapter := provider.NewStablecoinAdapter("stablecoin", signer, stablecoinDigest)
	if ready != nil {
		adapter.WithReadyCheck(ready)
	}
	guarded := provider.NewGuardedAdapter(adapter, provider.BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenProbes:   1,
	})

	currency := os.Getenv("SARDIS_STABLECOIN_CURRENCY")
	if currency == "" {
		currency = "USDC"
	}
	routes.Register("default", "stablecoin", currency, guarded)
	routes.Register("default", "on_chain", currency, guarded)

	return ready, closeFn
}

// stablecoinDigest computes the signing payload over a submit request
// using the ledger's canonical keccak256 primitive, so a dispatch digest
// and its later ledger anchor are derived from the same hash function.
func stablecoinDigest(req provider.SubmitRequest) []byte {
	payload := req.PaymentID + "|" + req.Rail + "|" + req.Direction + "|" + req.AmountMinor + "|" + req.Currency + "|" + req.Destination
	digestHex := strings.TrimPrefix(ledger.KeccakHex([]byte(payload)), "0x")
	raw, err := hex.DecodeString(digestHex)
	if err != nil {
		return []byte(payload)
	}
	return raw
}

// loadSignerDNSPin optionally builds a DNS pinner for the MPC signer's
// resolved host, so the gRPC health probe rejects a signer endpoint that
// has been DNS-rebound to an unpinned address since the last deploy.
// Pinning stays off (nil pinner) unless both the host and pin list are
// configured, matching the rest of this file's opt-in env-var wiring.
func loadSignerDNSPin() (*provider.DNSPinner, string, []string) {
	host := os.Getenv("SARDIS_MPC_SIGNER_HOST")
	pinnedCSV := os.Getenv("SARDIS_MPC_SIGNER_PINNED_IPS")
	if host == "" || pinnedCSV == "" {
		return nil, "", nil
	}
	resolver := os.Getenv("SARDIS_DNS_RESOLVER")
	if resolver == "" {
		resolver = "1.1.1.1:53"
	}
	var pinned []string
	for _, ip := range strings.Split(pinnedCSV, ",") {
		if trimmed := strings.TrimSpace(ip); trimmed != "" {
			pinned = append(pinned, trimmed)
		}
	}
	return provider.NewDNSPinner(resolver, 3*time.Second), host, pinned
}

func loadWebhookSubscriptions() map[string]webhook.Subscription {
	subs := map[string]webhook.Subscription{}
	for _, provider := range []string{"ach", "card", "stablecoin"} {
		secret := os.Getenv("SARDIS_WEBHOOK_SECRET_" + provider)
		if secret == "" {
			continue
		}
		subs[provider] = webhook.Subscription{
			Provider:      provider,
			CurrentSecret: []byte(secret),
			Tolerance:     webhook.DefaultToleranceWindow,
		}
	}
	return subs
}

