// Package policy implements the deterministic Policy Decision Engine
// (C4): a strictly ordered, fail-closed evaluation pipeline over an
// immutable hard-cap layer, compliance gates, vendor/category rules,
// velocity windows, approval thresholds and a goal-drift score. No
// downstream layer, including the advisory NL hint parser in the
// nlhint subpackage, may ever relax a hard cap.
package policy

import (
	"fmt"

	"sardis/internal/ids"
	"sardis/internal/policy/nlhint"
)

// AdvisoryHint aliases nlhint's output type so the Engine's Evaluate
// signature never needs its callers to import nlhint just to pass hints
// through.
type AdvisoryHint = nlhint.AdvisoryHint

// HardCaps is the immutable, revision-pinned cap layer. Nothing in this
// package or nlhint may mutate a HardCaps value after it is loaded from a
// policy snapshot.
type HardCaps struct {
	PerTx   map[string]ids.Money // keyed by rail
	PerDay  map[string]ids.Money
	PerMonth map[string]ids.Money
}

// WalletState captures the wallet preconditions checked in step 2.
type WalletState struct {
	Active       bool
	KillSwitched bool
	RailEnabled  map[string]bool
}

// ComplianceResult is the outcome of an external sanctions/KYC screen,
// modeled as an interface contract per spec §1 (the actual screening
// provider is out of scope for the core).
type ComplianceResult struct {
	Passed bool
	Reason string
}

// ComplianceChecker is implemented by an external screening integration.
type ComplianceChecker interface {
	Screen(mandate Mandate) (ComplianceResult, error)
}

// TrustChecker validates agent-to-agent transfer authorization.
type TrustChecker interface {
	IsTrusted(senderAgent, recipientAgent string) (bool, error)
}

// VelocityCounters reports rolling per-minute/hour/day count and amount
// totals for the mandate's (org, wallet) pair, computed by the caller
// from persisted counters (outside this package's scope).
type VelocityCounters struct {
	PerMinuteCount  int
	PerMinuteAmount ids.Money
	PerHourCount    int
	PerHourAmount   ids.Money
	PerDayCount     int
	PerDayAmount    ids.Money
}

// VelocityLimits are the configured ceilings each VelocityCounters field
// is checked against.
type VelocityLimits struct {
	PerMinuteCount  int
	PerMinuteAmount ids.Money
	PerHourCount    int
	PerHourAmount   ids.Money
	PerDayCount     int
	PerDayAmount    ids.Money
}

// Mandate is the minimal view of a mandate the engine needs; the full
// record lives in internal/store.
type Mandate struct {
	MandateID      string
	AgentID        string
	OrgID          string
	SubjectWallet  string
	DestinationVendor string // normalized at the call site from Destination
	Category       string
	Rail           string
	Amount         ids.Money
	IsAgentToAgent bool
	RecipientAgent string
}

// Snapshot bundles everything one evaluation needs: the revision-pinned
// policy plus live org/wallet context. It is read-only for the duration
// of one evaluation.
type Snapshot struct {
	HardCaps           HardCaps
	Wallet             WalletState
	Vendors            VendorRules
	CategoryBlocklist  map[string]bool
	ApprovalThreshold  ids.Money
	VendorApprovalSet  map[string]bool
	Velocity           VelocityLimits
	GoalDriftReviewThreshold float64
	GoalDriftBlockThreshold  float64
}

// Engine evaluates mandates against a Snapshot.
type Engine struct {
	compliance ComplianceChecker
	trust      TrustChecker
	enforceTrustTable bool
}

// NewEngine constructs a policy Engine. compliance may be nil only in
// non-production test harnesses.
func NewEngine(compliance ComplianceChecker, trust TrustChecker, enforceTrustTable bool) *Engine {
	return &Engine{compliance: compliance, trust: trust, enforceTrustTable: enforceTrustTable}
}

// Evaluate runs the full seven-step deterministic pipeline and always
// returns a Decision rather than an error, per the fail-closed mandate
// and the Design Notes "result variants, not exceptions" requirement: a
// panic in any step is recovered into a BLOCKED/POLICY.CHECK_FAILED
// decision, and a compliance-screen or trust-lookup error blocks with
// POLICY.COMPLIANCE_FAIL.
func (e *Engine) Evaluate(m Mandate, snap Snapshot, velocity VelocityCounters, hints []AdvisoryHint) (decision Decision) {
	decisionID := ids.New(ids.KindApproval).String() // reuse id shape for opaque decision correlation
	checks := make([]Check, 0, 8)

	defer func() {
		// No panics escape the money path: step functions are pure and
		// should never panic, but the boundary is guarded regardless, per
		// Design Notes (exceptions for control flow forbidden downstream
		// of this recover).
		if r := recover(); r != nil {
			decision = Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonCheckFailed, Reason: fmt.Sprintf("policy evaluation failed: %v", r), Checks: checks, DecisionID: decisionID}
		}
	}()

	// Step 0 (ambient to every step): record advisory hints as
	// non-authoritative checks. Any hint attempting to raise a hard cap
	// is logged and dropped here, before the authoritative steps run.
	for _, h := range hints {
		if h.RelaxesHardCap {
			checks = append(checks, Check{Name: "nlhint.overreach", Passed: false, Advisory: true, Detail: h.RawText})
			return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonNLOverreach, Reason: "advisory hint attempted to relax a hard cap", Checks: checks, DecisionID: decisionID}
		}
		checks = append(checks, Check{Name: "nlhint.advisory", Passed: true, Advisory: true, Detail: h.RawText})
	}

	// Step 1: immutable hard-cap layer. Always evaluated first and never
	// overridden by anything below it (P5).
	if cap, ok := snap.HardCaps.PerTx[m.Rail]; ok && m.Amount.GreaterThan(cap) {
		checks = append(checks, Check{Name: "hard_cap.per_tx", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonLimitExceeded, Reason: "per-transaction hard cap exceeded", Checks: checks, DecisionID: decisionID}
	}
	if cap, ok := snap.HardCaps.PerDay[m.Rail]; ok && velocity.PerDayAmount.GreaterThan(cap) {
		checks = append(checks, Check{Name: "hard_cap.per_day", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonLimitExceeded, Reason: "per-day hard cap exceeded", Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "hard_cap", Passed: true})

	// Step 2: wallet-state preconditions.
	if !snap.Wallet.Active || snap.Wallet.KillSwitched || !snap.Wallet.RailEnabled[m.Rail] {
		checks = append(checks, Check{Name: "wallet_state", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonWalletHalted, Reason: "wallet inactive, kill-switched, or rail disabled", Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "wallet_state", Passed: true})

	// Step 3: compliance gates.
	if d, ok := e.evaluateCompliance(m, &checks); !ok {
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonComplianceFail, Reason: d, Checks: checks, DecisionID: decisionID}
	}
	if m.IsAgentToAgent && e.enforceTrustTable {
		trusted, err := e.trustOK(m)
		if err != nil || !trusted {
			checks = append(checks, Check{Name: "compliance.trust_relation", Passed: false})
			return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonComplianceFail, Reason: "agent-to-agent transfer lacks a trust relation", Checks: checks, DecisionID: decisionID}
		}
		checks = append(checks, Check{Name: "compliance.trust_relation", Passed: true})
	}

	// Step 4: vendor/category rules, exact match only (P7).
	blocked, requiresVendorApproval := snap.Vendors.Evaluate(m.DestinationVendor)
	if blocked {
		checks = append(checks, Check{Name: "vendor.block", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonVendorBlocked, Reason: fmt.Sprintf("vendor %q is blocked", m.DestinationVendor), Checks: checks, DecisionID: decisionID}
	}
	if CategoryBlocked(m.Category, snap.CategoryBlocklist) {
		checks = append(checks, Check{Name: "category.block", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonCategoryBlocked, Reason: fmt.Sprintf("category %q is blocked", m.Category), Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "vendor_category", Passed: true})

	// Step 5: velocity windows.
	if v := snap.Velocity; (v.PerMinuteCount > 0 && velocity.PerMinuteCount > v.PerMinuteCount) ||
		(v.PerHourCount > 0 && velocity.PerHourCount > v.PerHourCount) ||
		(v.PerDayCount > 0 && velocity.PerDayCount > v.PerDayCount) ||
		(!v.PerMinuteAmount.IsZero() && velocity.PerMinuteAmount.GreaterThan(v.PerMinuteAmount)) ||
		(!v.PerHourAmount.IsZero() && velocity.PerHourAmount.GreaterThan(v.PerHourAmount)) ||
		(!v.PerDayAmount.IsZero() && velocity.PerDayAmount.GreaterThan(v.PerDayAmount)) {
		checks = append(checks, Check{Name: "velocity", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonVelocityExceeded, Reason: "velocity window exceeded", Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "velocity", Passed: true})

	// Step 6: approval threshold.
	if requiresVendorApproval || (!snap.ApprovalThreshold.IsZero() && m.Amount.GreaterThan(snap.ApprovalThreshold)) {
		reason := ReasonVendorRequiresApproval
		detail := "amount or vendor requires approval"
		checks = append(checks, Check{Name: "approval_threshold", Passed: false})
		return Decision{Outcome: OutcomeRequiresApproval, ReasonCode: reason, Reason: detail, Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "approval_threshold", Passed: true})

	// Step 7: goal-drift score. Thresholds have no defaults; the caller
	// (internal/config) refuses to start the process without them.
	driftScore := goalDriftScore(m, velocity)
	if driftScore >= snap.GoalDriftBlockThreshold {
		checks = append(checks, Check{Name: "goal_drift", Passed: false})
		return Decision{Outcome: OutcomeBlocked, ReasonCode: ReasonDriftBlocked, Reason: "goal-drift score exceeds block threshold", RiskScore: driftScore, Checks: checks, DecisionID: decisionID}
	}
	if driftScore >= snap.GoalDriftReviewThreshold {
		checks = append(checks, Check{Name: "goal_drift", Passed: false})
		return Decision{Outcome: OutcomeRequiresApproval, ReasonCode: ReasonNone, Reason: "goal-drift score requires review", RiskScore: driftScore, Checks: checks, DecisionID: decisionID}
	}
	checks = append(checks, Check{Name: "goal_drift", Passed: true})

	return Decision{Outcome: OutcomeApproved, ReasonCode: ReasonNone, RiskScore: driftScore, Checks: checks, DecisionID: decisionID}
}

func (e *Engine) evaluateCompliance(m Mandate, checks *[]Check) (string, bool) {
	if e.compliance == nil {
		*checks = append(*checks, Check{Name: "compliance.screen", Passed: true, Detail: "no compliance checker configured"})
		return "", true
	}
	result, err := e.compliance.Screen(m)
	if err != nil || !result.Passed {
		*checks = append(*checks, Check{Name: "compliance.screen", Passed: false})
		reason := "compliance screen unavailable or failed"
		if result.Reason != "" {
			reason = result.Reason
		}
		return reason, false
	}
	*checks = append(*checks, Check{Name: "compliance.screen", Passed: true})
	return "", true
}

func (e *Engine) trustOK(m Mandate) (bool, error) {
	if e.trust == nil {
		return false, fmt.Errorf("policy: trust table enforcement enabled but no TrustChecker configured")
	}
	return e.trust.IsTrusted(m.AgentID, m.RecipientAgent)
}

// goalDriftScore computes a chi-squared-style deviation of the current
// mandate's velocity shape against an expected baseline. The spec
// specifies the statistical family (chi-squared-style deviation over
// categorical bins) but not the exact bin set, which is an
// implementation choice fixed here to the count/amount bins already
// tracked by VelocityCounters. Only bins whose observed count exceeds
// the baseline contribute, so a wallet at or below its expected
// activity scores 0.
func goalDriftScore(m Mandate, velocity VelocityCounters) float64 {
	observed := []float64{
		float64(velocity.PerMinuteCount),
		float64(velocity.PerHourCount),
		float64(velocity.PerDayCount),
	}
	expected := []float64{1, 10, 50} // baseline bin expectation; operator-tunable in a future revision
	var score float64
	for i, o := range observed {
		e := expected[i]
		if e == 0 || o <= e {
			continue
		}
		diff := o - e
		score += (diff * diff) / e
	}
	// Normalize into a roughly [0,1] band so review/block thresholds are
	// comparable across orgs with different traffic baselines.
	normalized := score / (score + 10)
	return normalized
}
