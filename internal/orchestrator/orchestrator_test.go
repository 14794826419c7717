package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/approval"
	"sardis/internal/idempotency"
	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/observability"
	"sardis/internal/payment"
	"sardis/internal/policy"
	"sardis/internal/provider"
	"sardis/internal/store/storetest"
)

type stubAdapter struct {
	name   string
	result provider.SubmitResult
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Supports(rail, direction, currency string) bool { return true }
func (s *stubAdapter) Submit(ctx context.Context, req provider.SubmitRequest) (provider.SubmitResult, error) {
	return s.result, nil
}
func (s *stubAdapter) Status(ctx context.Context, ref string) (provider.SubmitResult, error) {
	return provider.SubmitResult{Kind: provider.ResultAccepted, ProviderRef: ref}, nil
}
func (s *stubAdapter) Void(ctx context.Context, ref string) error { return nil }

func mustMoney(t *testing.T, minor, currency string) ids.Money {
	t.Helper()
	m, err := ids.NewMoney(minor, currency)
	require.NoError(t, err)
	return m
}

func baseOrchestrator(t *testing.T, adapterResult provider.SubmitResult, snap policy.Snapshot) *Orchestrator {
	t.Helper()
	db := storetest.NewDB(t)
	l := ledger.New(db, nil)
	idem := idempotency.New(db, time.Hour)
	engine := policy.NewEngine(nil, nil, false)
	approvals := approval.New(db, l)
	transitioner := payment.NewTransitioner(db, l)

	route := provider.Route{Primary: provider.NewGuardedAdapter(&stubAdapter{name: "stub", result: adapterResult}, provider.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenProbes: 1})}

	return New(Config{
		DB: db, Idempotency: idem, Policy: engine, Approvals: approvals,
		Transitioner: transitioner, Ledger: l,
		Snapshots: func(ctx context.Context, orgID string) (policy.Snapshot, error) { return snap, nil },
		Velocity:  func(ctx context.Context, orgID, walletID string) (policy.VelocityCounters, error) { return policy.VelocityCounters{}, nil },
		Routes:    func(orgID, rail, direction, currency string) (provider.Route, error) { return route, nil },
	})
}

func baseOrchestratorWithGuardrails(t *testing.T, adapterResult provider.SubmitResult, snap policy.Snapshot, guardrails *observability.Guardrails) *Orchestrator {
	t.Helper()
	db := storetest.NewDB(t)
	l := ledger.New(db, nil)
	idem := idempotency.New(db, time.Hour)
	engine := policy.NewEngine(nil, nil, false)
	approvals := approval.New(db, l)
	transitioner := payment.NewTransitioner(db, l)

	route := provider.Route{Primary: provider.NewGuardedAdapter(&stubAdapter{name: "stub", result: adapterResult}, provider.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenProbes: 1})}

	return New(Config{
		DB: db, Idempotency: idem, Policy: engine, Approvals: approvals,
		Transitioner: transitioner, Ledger: l, Guardrails: guardrails,
		Snapshots: func(ctx context.Context, orgID string) (policy.Snapshot, error) { return snap, nil },
		Velocity:  func(ctx context.Context, orgID, walletID string) (policy.VelocityCounters, error) { return policy.VelocityCounters{}, nil },
		Routes:    func(orgID, rail, direction, currency string) (provider.Route, error) { return route, nil },
	})
}

func baseSnapshot(t *testing.T) policy.Snapshot {
	t.Helper()
	return policy.Snapshot{
		HardCaps: policy.HardCaps{PerTx: map[string]ids.Money{"ach": mustMoney(t, "100000", "USD")}},
		Wallet:   policy.WalletState{Active: true, RailEnabled: map[string]bool{"ach": true}},
		Vendors:  policy.NewVendorRules(nil, nil, nil),
		GoalDriftReviewThreshold: 0.5,
		GoalDriftBlockThreshold:  0.9,
	}
}

func TestExecuteDispatchesOnApproval(t *testing.T) {
	snap := baseSnapshot(t)
	o := baseOrchestrator(t, provider.SubmitResult{Kind: provider.ResultAccepted, ProviderRef: "ref-1"}, snap)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_1", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-1", Direction: "credit",
	})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.Empty(t, result.ApprovalID)
	require.NotEmpty(t, result.PaymentID)
}

func TestExecuteIsIdempotentOnRetry(t *testing.T) {
	snap := baseSnapshot(t)
	o := baseOrchestrator(t, provider.SubmitResult{Kind: provider.ResultAccepted, ProviderRef: "ref-2"}, snap)

	req := ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_2", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-2", Direction: "credit",
	}

	first, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.PaymentID, second.PaymentID)
}

func TestExecuteBlocksOverHardCap(t *testing.T) {
	snap := baseSnapshot(t)
	o := baseOrchestrator(t, provider.SubmitResult{Kind: provider.ResultAccepted}, snap)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_3", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "999999999", "USD"),
		},
		IdempotencyKey: "idem-3", Direction: "credit",
	})
	require.NoError(t, err)
	require.True(t, result.Blocked)
	require.Equal(t, policy.ReasonLimitExceeded, result.Decision.ReasonCode)
}

func TestExecuteRoutesToApprovalAboveThreshold(t *testing.T) {
	snap := baseSnapshot(t)
	snap.ApprovalThreshold = mustMoney(t, "1000", "USD")
	o := baseOrchestrator(t, provider.SubmitResult{Kind: provider.ResultAccepted}, snap)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_4", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-4", Direction: "credit",
	})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.NotEmpty(t, result.ApprovalID)
	require.Empty(t, result.PaymentID)
}

func TestExecuteRejectsKilledWallet(t *testing.T) {
	snap := baseSnapshot(t)
	guardrails := observability.NewGuardrails([]string{"ach"})
	guardrails.KillWallet("wallet_1")
	o := baseOrchestratorWithGuardrails(t, provider.SubmitResult{Kind: provider.ResultAccepted}, snap, guardrails)

	_, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_5", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-5", Direction: "credit",
	})
	require.ErrorIs(t, err, observability.ErrWalletKillSwitched)
}

func TestExecuteForcesApprovalInDegradedMode(t *testing.T) {
	snap := baseSnapshot(t)
	guardrails := observability.NewGuardrails([]string{"ach"})
	guardrails.SetMode(observability.FailoverDegraded)
	o := baseOrchestratorWithGuardrails(t, provider.SubmitResult{Kind: provider.ResultAccepted}, snap, guardrails)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_6", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "ach", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-6", Direction: "credit",
	})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.NotEmpty(t, result.ApprovalID)
	require.Empty(t, result.PaymentID)
}

func TestExecuteBlocksNonLowRiskRailInDegradedMode(t *testing.T) {
	snap := baseSnapshot(t)
	snap.Wallet.RailEnabled["card"] = true
	guardrails := observability.NewGuardrails([]string{"ach"})
	guardrails.SetMode(observability.FailoverDegraded)
	o := baseOrchestratorWithGuardrails(t, provider.SubmitResult{Kind: provider.ResultAccepted}, snap, guardrails)

	_, err := o.Execute(context.Background(), ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: "mandate_7", AgentID: "agent_1", OrgID: "org_1", SubjectWallet: "wallet_1",
			DestinationVendor: "vendor.com", Rail: "card", Amount: mustMoney(t, "5000", "USD"),
		},
		IdempotencyKey: "idem-7", Direction: "credit",
	})
	require.ErrorIs(t, err, observability.ErrContainment)
}
