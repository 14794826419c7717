package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sardis/internal/ids"
)

func mustMoney(t *testing.T, amount, currency string) ids.Money {
	t.Helper()
	m, err := ids.NewMoney(amount, currency)
	require.NoError(t, err)
	return m
}

func baseSnapshot(t *testing.T) Snapshot {
	return Snapshot{
		HardCaps: HardCaps{
			PerTx: map[string]ids.Money{"ach": mustMoney(t, "10000000", "USD")},
		},
		Wallet:            WalletState{Active: true, RailEnabled: map[string]bool{"ach": true}},
		Vendors:           NewVendorRules([]string{"aws"}, []string{"gambling"}, nil),
		CategoryBlocklist: map[string]bool{},
		ApprovalThreshold: mustMoney(t, "1000000000", "USD"),
		Velocity:          VelocityLimits{},
		GoalDriftReviewThreshold: 0.5,
		GoalDriftBlockThreshold:  0.9,
	}
}

func TestEvaluateApprovesWithinCaps(t *testing.T) {
	e := NewEngine(nil, nil, false)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "5000000", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, baseSnapshot(t), VelocityCounters{}, nil)
	require.Equal(t, OutcomeApproved, d.Outcome)
}

func TestEvaluateBlocksOverHardCapRegardlessOfHints(t *testing.T) {
	e := NewEngine(nil, nil, false)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "500000000", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, baseSnapshot(t), VelocityCounters{}, []AdvisoryHint{{RawText: "raise it", RelaxesHardCap: true}})
	require.Equal(t, OutcomeBlocked, d.Outcome)
	require.Equal(t, ReasonNLOverreach, d.ReasonCode, "an overreaching hint is rejected before the hard cap is even reached")
}

func TestEvaluateBlocksOverHardCapWithoutHints(t *testing.T) {
	e := NewEngine(nil, nil, false)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "500000000", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, baseSnapshot(t), VelocityCounters{}, nil)
	require.Equal(t, OutcomeBlocked, d.Outcome)
	require.Equal(t, ReasonLimitExceeded, d.ReasonCode)
}

func TestEvaluateVendorExactMatchNotSubstring(t *testing.T) {
	e := NewEngine(nil, nil, false)
	snap := baseSnapshot(t)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "100", "USD"), DestinationVendor: "aws-evil.com"}
	d := e.Evaluate(m, snap, VelocityCounters{}, nil)
	require.Equal(t, OutcomeApproved, d.Outcome, "aws-evil.com must not match the gambling blocklist or the aws allowlist via substring")
}

func TestEvaluateWalletHalted(t *testing.T) {
	e := NewEngine(nil, nil, false)
	snap := baseSnapshot(t)
	snap.Wallet.KillSwitched = true
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "100", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, snap, VelocityCounters{}, nil)
	require.Equal(t, OutcomeBlocked, d.Outcome)
	require.Equal(t, ReasonWalletHalted, d.ReasonCode)
}

func TestEvaluateRequiresApprovalOverThreshold(t *testing.T) {
	e := NewEngine(nil, nil, false)
	snap := baseSnapshot(t)
	snap.ApprovalThreshold = mustMoney(t, "1000000", "USD")
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "2000000", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, snap, VelocityCounters{}, nil)
	require.Equal(t, OutcomeRequiresApproval, d.Outcome)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := NewEngine(nil, nil, false)
	snap := baseSnapshot(t)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "5000000", "USD"), DestinationVendor: "payee.example"}
	velocity := VelocityCounters{PerMinuteCount: 2}
	d1 := e.Evaluate(m, snap, velocity, nil)
	d2 := e.Evaluate(m, snap, velocity, nil)
	require.Equal(t, d1.Outcome, d2.Outcome)
	require.Equal(t, d1.ReasonCode, d2.ReasonCode)
	require.Equal(t, d1.RiskScore, d2.RiskScore)
}

func TestEvaluateComplianceFailBlocksEvenWhenChecksOtherwisePass(t *testing.T) {
	e := NewEngine(failingCompliance{}, nil, false)
	snap := baseSnapshot(t)
	m := Mandate{Rail: "ach", Amount: mustMoney(t, "100", "USD"), DestinationVendor: "payee.example"}
	d := e.Evaluate(m, snap, VelocityCounters{}, nil)
	require.Equal(t, OutcomeBlocked, d.Outcome)
	require.Equal(t, ReasonComplianceFail, d.ReasonCode)
}

type failingCompliance struct{}

func (failingCompliance) Screen(Mandate) (ComplianceResult, error) {
	return ComplianceResult{Passed: false, Reason: "sanctioned entity"}, nil
}
