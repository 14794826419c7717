// Package orchestrator implements the Payment Orchestrator (C9): the
// single entrypoint that turns a mandate into a dispatched payment,
// composing the idempotency store, policy engine, approval manager,
// provider adapter framework and audit ledger into one transactional
// flow. Grounded on the teacher's services/otc-gateway/server/sign_submit.go
// SignAndSubmit handler — row-locked precondition checks, maker-checker
// gate, cap check, then an externally-visible side effect — generalized
// from "sign and submit a mint voucher" to "evaluate, gate, and dispatch
// a payment across any rail".
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"sardis/internal/approval"
	"sardis/internal/idempotency"
	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/observability"
	"sardis/internal/payment"
	"sardis/internal/policy"
	"sardis/internal/policy/nlhint"
	"sardis/internal/provider"
	"sardis/internal/store"
)

// ErrTerminalInflight is returned when execution is requested for a
// mandate whose payment has already reached a terminal state, per spec
// §4.5's PAYMENT.TERMINAL_INFLIGHT edge case.
var ErrTerminalInflight = errors.New("orchestrator: payment already in a terminal state")

// VelocityLookup resolves the live VelocityCounters for a mandate's
// (org, wallet) pair, backed by whatever rolling-window accounting the
// deployment wires in (out of this package's scope, per spec §1).
type VelocityLookup func(ctx context.Context, orgID, walletID string) (policy.VelocityCounters, error)

// SnapshotLookup resolves the current policy Snapshot for an org,
// revision-pinned at the call site so concurrent policy edits never
// change the outcome of an in-flight evaluation.
type SnapshotLookup func(ctx context.Context, orgID string) (policy.Snapshot, error)

// RouteResolver resolves a provider Route for (org, rail, direction,
// currency).
type RouteResolver func(orgID, rail, direction, currency string) (provider.Route, error)

// Orchestrator wires the C1-C8 components into the execute() operation.
type Orchestrator struct {
	db           *gorm.DB
	idempotency  *idempotency.Store
	policy       *policy.Engine
	nlParser     *nlhint.Parser
	approvals    *approval.Manager
	transitioner *payment.Transitioner
	ledger       *ledger.Ledger
	snapshots    SnapshotLookup
	velocity     VelocityLookup
	routes       RouteResolver
	approvalTTL  time.Duration
	guardrails   *observability.Guardrails
}

// Config bundles Orchestrator's collaborators.
type Config struct {
	DB           *gorm.DB
	Idempotency  *idempotency.Store
	Policy       *policy.Engine
	NLParser     *nlhint.Parser
	Approvals    *approval.Manager
	Transitioner *payment.Transitioner
	Ledger       *ledger.Ledger
	Snapshots    SnapshotLookup
	Velocity     VelocityLookup
	Routes       RouteResolver
	ApprovalTTL  time.Duration
	Guardrails   *observability.Guardrails
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	ttl := cfg.ApprovalTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Orchestrator{
		db: cfg.DB, idempotency: cfg.Idempotency, policy: cfg.Policy, nlParser: cfg.NLParser,
		approvals: cfg.Approvals, transitioner: cfg.Transitioner, ledger: cfg.Ledger,
		snapshots: cfg.Snapshots, velocity: cfg.Velocity, routes: cfg.Routes, approvalTTL: ttl,
		guardrails: cfg.Guardrails,
	}
}

// ExecuteRequest is the caller-supplied input to Execute.
type ExecuteRequest struct {
	Mandate        policy.Mandate
	IdempotencyKey string
	Direction      string
	NLHintText     string
	NLHintCapMinor int64
}

// ExecuteResult reports what happened: a dispatched payment, a pending
// approval, or a block — exactly one of PaymentID/ApprovalID is set,
// unless Blocked is true, in which case neither is.
type ExecuteResult struct {
	PaymentID  string
	ApprovalID string
	Blocked    bool
	Decision   policy.Decision
}

// Execute runs the full seven-step flow: idempotency admission, mandate
// audit-hash recording, policy evaluation, approval hand-off or direct
// dispatch, provider submission, ledger anchoring, and idempotency
// completion.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	digest, err := idempotency.DigestPayload(req)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: digest request: %w", err)
	}
	scope := "payments.execute:" + req.Mandate.OrgID
	prior, err := o.idempotency.Begin(scope, req.IdempotencyKey, digest)
	if err != nil {
		return ExecuteResult{}, err
	}
	if prior != nil {
		var replay ExecuteResult
		if err := json.Unmarshal([]byte(prior.ResultPayload), &replay); err != nil {
			return ExecuteResult{}, fmt.Errorf("orchestrator: decode replayed result: %w", err)
		}
		return replay, nil
	}

	result, execErr := o.execute(ctx, req)
	state := idempotency.StateCompleted
	if execErr != nil {
		state = idempotency.StateFailed
	}
	if compErr := o.idempotency.Complete(scope, req.IdempotencyKey, state, result); compErr != nil {
		return result, fmt.Errorf("orchestrator: complete idempotency record: %w", compErr)
	}
	return result, execErr
}

func (o *Orchestrator) execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	m := req.Mandate

	if o.guardrails != nil {
		if err := o.guardrails.CheckExecutable(m.SubjectWallet, m.Rail); err != nil {
			return ExecuteResult{}, err
		}
	}

	if err := o.rejectTerminalInflight(m.MandateID); err != nil {
		return ExecuteResult{}, err
	}

	auditHash, err := o.recordMandate(m)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: record mandate: %w", err)
	}
	_ = auditHash

	snap, err := o.snapshots(ctx, m.OrgID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: load policy snapshot: %w", err)
	}
	if o.guardrails != nil && o.guardrails.RequiresElevatedApproval() {
		// Degraded mode routes every payment to approval regardless of
		// the org's configured threshold: a threshold of -1 compares
		// less than any non-negative amount without disturbing
		// IsZero()'s "no threshold configured" semantics, since -1 is
		// not zero.
		snap.ApprovalThreshold = ids.Money{AmountMinor: big.NewInt(-1), Currency: m.Amount.Currency}
	}
	velocity, err := o.velocity(ctx, m.OrgID, m.SubjectWallet)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: load velocity counters: %w", err)
	}

	var hints []nlhint.AdvisoryHint
	if req.NLHintText != "" && o.nlParser != nil {
		existingCap := int64(0)
		if cap, ok := snap.HardCaps.PerTx[m.Rail]; ok {
			existingCap = cap.AmountMinor.Int64()
		}
		hint, err := o.nlParser.Evaluate(req.NLHintText, req.NLHintCapMinor, existingCap, m.Amount.Currency)
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("orchestrator: evaluate nl hint: %w", err)
		}
		hints = []nlhint.AdvisoryHint{hint}
	}

	decision := o.policy.Evaluate(m, snap, velocity, hints)
	if err := o.appendDecisionLedgerEntry(m.OrgID, decision); err != nil {
		return ExecuteResult{}, err
	}

	switch decision.Outcome {
	case policy.OutcomeBlocked:
		return ExecuteResult{Blocked: true, Decision: decision}, nil
	case policy.OutcomeRequiresApproval:
		approvalID, err := o.approvals.Create(m.OrgID, "payment.execute", auditHash, m.AgentID, 1, o.approvalTTL, false)
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("orchestrator: create approval: %w", err)
		}
		return ExecuteResult{ApprovalID: approvalID.String(), Decision: decision}, nil
	}

	return o.dispatch(ctx, m, req.Direction, decision)
}

func (o *Orchestrator) rejectTerminalInflight(mandateID string) error {
	var existing store.Payment
	err := o.db.Where("mandate_id = ?", mandateID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if payment.IsTerminal(payment.Rail(existing.Rail), payment.State(existing.Status)) {
		return ErrTerminalInflight
	}
	return nil
}

func (o *Orchestrator) recordMandate(m policy.Mandate) (string, error) {
	var existing store.Mandate
	err := o.db.Where("mandate_id = ?", m.MandateID).First(&existing).Error
	if err == nil {
		return existing.AuditHash, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	now := time.Now().UTC()
	canon := struct {
		MandateID, AgentID, OrgID, SubjectWallet, Destination, Currency string
		AmountMinor                                                    string
		CreatedAt                                                      string
	}{
		MandateID: m.MandateID, AgentID: m.AgentID, OrgID: m.OrgID, SubjectWallet: m.SubjectWallet,
		Destination: m.DestinationVendor, Currency: m.Amount.Currency, AmountMinor: m.Amount.MinorString(),
		CreatedAt: now.Format(time.RFC3339Nano),
	}
	buf, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	auditHash := ledger.KeccakHex(buf)

	record := store.Mandate{
		MandateID: m.MandateID, AgentID: m.AgentID, OrgID: m.OrgID, SubjectWallet: m.SubjectWallet,
		Destination: m.DestinationVendor, AmountMinor: m.Amount.MinorString(), Currency: m.Amount.Currency,
		CreatedAt: now, AuditHash: auditHash,
	}
	if err := o.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("orchestrator: persist mandate: %w", err)
	}
	return auditHash, nil
}

func (o *Orchestrator) appendDecisionLedgerEntry(orgID string, decision policy.Decision) error {
	var kind ledger.Kind
	switch decision.Outcome {
	case policy.OutcomeBlocked:
		kind = ledger.KindPaymentBlocked
	case policy.OutcomeRequiresApproval:
		kind = ledger.KindPaymentAwaitingApproval
	default:
		kind = ledger.KindPaymentSubmitted
	}
	_, err := o.ledger.Append(orgID, kind, decision)
	if err != nil && !errors.Is(err, ledger.ErrDurableStoreUnavailable) {
		return err
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, m policy.Mandate, direction string, decision policy.Decision) (ExecuteResult, error) {
	route, err := o.routes(m.OrgID, m.Rail, direction, m.Amount.Currency)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: resolve route: %w", err)
	}

	paymentID := ids.New(ids.KindPayment).String()
	now := time.Now().UTC()
	initialState := initialStateFor(payment.Rail(m.Rail))
	rec := store.Payment{
		PaymentID: paymentID, OrgID: m.OrgID, MandateID: m.MandateID, Rail: m.Rail, Direction: direction,
		Status: string(initialState), AmountPendingMinor: m.Amount.MinorString(), AmountSettledMinor: "0",
		Currency: m.Amount.Currency, CreatedAt: now, UpdatedAt: now,
	}
	if err := o.db.Create(&rec).Error; err != nil {
		return ExecuteResult{}, fmt.Errorf("orchestrator: create payment: %w", err)
	}

	submitResult, adapterName, err := provider.Dispatch(ctx, route, provider.SubmitRequest{
		PaymentID: paymentID, Rail: m.Rail, Direction: direction, AmountMinor: m.Amount.MinorString(),
		Currency: m.Amount.Currency, Destination: m.DestinationVendor,
	})
	if err != nil {
		return ExecuteResult{PaymentID: paymentID, Decision: decision}, fmt.Errorf("orchestrator: dispatch: %w", err)
	}

	nextState := nextStateFor(payment.Rail(m.Rail), submitResult.Kind)
	reasonCode := adapterName
	if submitResult.DeclineReason != "" {
		reasonCode = submitResult.DeclineReason
	}
	if err := o.transitioner.Apply(payment.Rail(m.Rail), paymentID, nextState, reasonCode); err != nil {
		return ExecuteResult{PaymentID: paymentID, Decision: decision}, fmt.Errorf("orchestrator: apply transition: %w", err)
	}
	if submitResult.ProviderRef != "" {
		if err := o.db.Model(&store.Payment{}).Where("payment_id = ?", paymentID).
			Update("provider_key", adapterName+":"+submitResult.ProviderRef).Error; err != nil {
			return ExecuteResult{PaymentID: paymentID, Decision: decision}, err
		}
	}

	return ExecuteResult{PaymentID: paymentID, Decision: decision}, nil
}

func initialStateFor(rail payment.Rail) payment.State {
	switch rail {
	case payment.RailACH:
		return payment.ACHPending
	case payment.RailCard:
		return payment.CardAuthorized
	default:
		return payment.OnChainSubmitted
	}
}

// nextStateFor maps a dispatch outcome onto the rail's FSM: Accepted
// advances the payment, Fatal moves it to its rail's terminal decline
// state, and Retryable leaves it at its current (initial) state so the
// retry worker can re-attempt dispatch without a spurious transition.
func nextStateFor(rail payment.Rail, kind provider.ResultKind) payment.State {
	switch rail {
	case payment.RailACH:
		switch kind {
		case provider.ResultAccepted:
			return payment.ACHReviewed
		case provider.ResultFatal:
			return payment.ACHDeclined
		default:
			return payment.ACHPending
		}
	case payment.RailCard:
		switch kind {
		case provider.ResultAccepted:
			return payment.CardCaptured
		case provider.ResultFatal:
			return payment.CardDeclined
		default:
			return payment.CardAuthorized
		}
	default:
		switch kind {
		case provider.ResultAccepted:
			return payment.OnChainSubmitted
		case provider.ResultFatal:
			return payment.OnChainFailed
		default:
			return payment.OnChainSubmitted
		}
	}
}
