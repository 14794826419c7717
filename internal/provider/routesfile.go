package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoutesFile declares the static fiat-rail adapters sardisd registers at
// startup, grounded on the teacher's gateway/config.Config YAML document
// shape (a top-level list of typed service entries) generalized from
// reverse-proxy targets to rail adapters. The MPC-signed stablecoin rail
// is never declared here; it is wired by wireStablecoinRoute from
// SARDIS_HSM_* environment variables, since its adapter needs a live
// signer client rather than a plain HTTP endpoint.
type RoutesFile struct {
	OrgID    string              `yaml:"orgId"`
	Adapters []HTTPAdapterConfig `yaml:"adapters"`
}

// LoadRoutesFile parses path as YAML and returns the declared adapters
// keyed by the org they route for ("default" if unset).
func LoadRoutesFile(path string) (string, []HTTPAdapterConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("provider: read routes file: %w", err)
	}
	var doc RoutesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", nil, fmt.Errorf("provider: parse routes file: %w", err)
	}
	orgID := doc.OrgID
	if orgID == "" {
		orgID = "default"
	}
	return orgID, doc.Adapters, nil
}

// RegisterRoutesFile loads path and registers each declared adapter into
// matrix under its rail/currency pair for orgID, wrapping each in a
// circuit breaker configured by breaker.
func RegisterRoutesFile(matrix *CapabilityMatrix, path string, breaker BreakerConfig) error {
	orgID, adapters, err := LoadRoutesFile(path)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		guarded := NewGuardedAdapter(NewHTTPAdapter(a), breaker)
		matrix.Register(orgID, a.Rail, a.Currency, guarded)
	}
	return nil
}
