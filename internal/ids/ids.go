// Package ids implements the opaque, namespaced identifier and minor-unit
// money primitives shared by every other Sardis component.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the namespace prefix that denotes what an ID identifies.
type Kind string

const (
	KindOrg             Kind = "org"
	KindAgent           Kind = "agt"
	KindWallet          Kind = "wal"
	KindPayment         Kind = "pay"
	KindMandate         Kind = "mdt"
	KindHold            Kind = "hld"
	KindCard            Kind = "card"
	KindExternalAccount Kind = "xba"
	KindFinancialAcct   Kind = "fin"
	KindProviderEvent   Kind = "pev"
	KindLedgerEntry     Kind = "ltx"
	KindApproval        Kind = "apr"
	KindIdempotency     Kind = "idm"
	KindDecision        Kind = "dec"
	KindDriftBreak      Kind = "brk"
)

// ID is an opaque namespaced string identifier, e.g. "pay_9f209...".
type ID string

// New mints a fresh ID of the given kind using a random UUID suffix.
func New(kind Kind) ID {
	return ID(fmt.Sprintf("%s_%s", kind, uuid.NewString()))
}

// Kind reports the namespace prefix of an ID, or "" if malformed.
func (id ID) Kind() Kind {
	parts := strings.SplitN(string(id), "_", 2)
	if len(parts) != 2 {
		return ""
	}
	return Kind(parts[0])
}

// Valid reports whether id carries the expected kind prefix and a non-empty
// suffix.
func (id ID) Valid(kind Kind) bool {
	parts := strings.SplitN(string(id), "_", 2)
	return len(parts) == 2 && Kind(parts[0]) == kind && parts[1] != ""
}

func (id ID) String() string { return string(id) }
