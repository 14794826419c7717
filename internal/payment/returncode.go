package payment

// ReturnAction is the authoritative disposition for an ACH return code,
// per spec §4.3's return-code handling matrix (P10).
type ReturnAction struct {
	AutoRetryEligible bool
	PauseAccount      bool
	RequiresManualReview bool
}

// achReturnCodes is the closed, authoritative matrix. R01/R09 are
// transient and auto-retry eligible without pausing the account;
// R02/R03/R29 pause the external account and forbid auto-retry, with
// R29 additionally requiring manual review.
var achReturnCodes = map[string]ReturnAction{
	"R01": {AutoRetryEligible: true},
	"R09": {AutoRetryEligible: true},
	"R02": {PauseAccount: true},
	"R03": {PauseAccount: true},
	"R29": {PauseAccount: true, RequiresManualReview: true},
}

// MaxACHRetries is the cap on auto-retry attempts for R01/R09.
const MaxACHRetries = 2

// ClassifyACHReturn looks up the disposition for an ACH return code. An
// unrecognized code is treated conservatively as pause-and-review rather
// than silently permitting retry.
func ClassifyACHReturn(code string) ReturnAction {
	if action, ok := achReturnCodes[code]; ok {
		return action
	}
	return ReturnAction{PauseAccount: true, RequiresManualReview: true}
}
