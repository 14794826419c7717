package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"sardis/internal/ledger"
)

// ComplianceExport handles GET /v2/compliance/export?window_start=...&window_end=...,
// streaming the windowed ledger entries as NDJSON with the export
// manifest sent as JSON in the X-Export-Manifest HTTP trailer, per the
// audit ledger's export contract.
func (s *Server) ComplianceExport(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	windowStart, err := parseWindowParam(r, "window_start")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_WINDOW_START", err.Error())
		return
	}
	windowEnd, err := parseWindowParam(r, "window_end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_WINDOW_END", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Trailer", "X-Export-Manifest, X-Export-Error")
	w.WriteHeader(http.StatusOK)

	manifest, err := ledger.ExportNDJSON(s.cfg.DB, claims.OrgID, windowStart, windowEnd, w)
	if err != nil {
		// Headers are already flushed; the X-Export-Error trailer carries
		// the failure instead of an error envelope.
		w.Header().Set("X-Export-Error", err.Error())
		return
	}
	manifest.OrgID = claims.OrgID
	encoded, err := json.Marshal(manifest)
	if err != nil {
		w.Header().Set("X-Export-Error", err.Error())
		return
	}
	w.Header().Set("X-Export-Manifest", string(encoded))
}

func parseWindowParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, errMissingWindowParam(name)
	}
	return time.Parse(time.RFC3339, raw)
}

type errMissingWindowParam string

func (e errMissingWindowParam) Error() string {
	return "missing required query parameter: " + string(e)
}
