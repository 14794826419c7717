package policy

import (
	"strings"
)

// NormalizeVendorDomain implements the exact-match-only normalization
// mandated by spec §4.1 and Design Notes: lowercase, strip a leading
// "www.", and reject substring containment matches entirely. This is the
// re-architected replacement for the substring-vulnerable vendor match
// flagged in Design Notes — "aws-evil.com" must never match "aws".
func NormalizeVendorDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "www.")
	return d
}

// VendorRules is a fixed allow/block set evaluated by exact match only.
type VendorRules struct {
	Allow           map[string]bool
	Block           map[string]bool
	RequireApproval map[string]bool
}

// NewVendorRules builds a VendorRules set from raw domain lists,
// normalizing every entry the same way a submitted vendor domain will be
// normalized at evaluation time.
func NewVendorRules(allow, block, requireApproval []string) VendorRules {
	return VendorRules{
		Allow:           toSet(allow),
		Block:           toSet(block),
		RequireApproval: toSet(requireApproval),
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[NormalizeVendorDomain(v)] = true
	}
	return set
}

// Evaluate returns, for a candidate vendor domain, whether it is
// exact-match blocked, exact-match requires-approval, or neither. No
// substring containment check exists anywhere in this function — P7.
func (r VendorRules) Evaluate(vendorDomain string) (blocked, requiresApproval bool) {
	normalized := NormalizeVendorDomain(vendorDomain)
	if r.Block[normalized] {
		return true, false
	}
	if r.RequireApproval[normalized] {
		return false, true
	}
	return false, false
}

// CategoryBlocked reports whether category is in the fixed blocklist,
// again by exact match on the normalized (lowercased, trimmed) category
// name.
func CategoryBlocked(category string, blocklist map[string]bool) bool {
	return blocklist[strings.ToLower(strings.TrimSpace(category))]
}
