package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVendorExactMatchRejectsSubstring(t *testing.T) {
	rules := NewVendorRules([]string{"aws"}, []string{"gambling"}, nil)
	blocked, requiresApproval := rules.Evaluate("aws-evil.com")
	require.False(t, blocked, "aws-evil.com must not match block-rule via substring")
	require.False(t, requiresApproval, "aws-evil.com must not match allow-rule aws via substring")
}

func TestVendorExactMatchAppliesOnRealMatch(t *testing.T) {
	rules := NewVendorRules(nil, []string{"gambling.example"}, nil)
	blocked, _ := rules.Evaluate("WWW.Gambling.Example")
	require.True(t, blocked, "normalized exact match must still apply")
}

func TestCategoryBlockedExactMatch(t *testing.T) {
	blocklist := map[string]bool{"firearms": true}
	require.True(t, CategoryBlocked(" Firearms ", blocklist))
	require.False(t, CategoryBlocked("firearms-adjacent", blocklist))
}
