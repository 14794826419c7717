// Package config loads Sardis's process configuration from a TOML file with
// an environment-variable overlay, failing process start on any missing
// required value rather than inventing a default. This mirrors the
// teacher's root config/config.go (TOML defaults file) combined with
// services/otc-gateway/config.FromEnv's required-field validation style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// FundingStrategy selects which rail family is attempted first.
type FundingStrategy string

const (
	FundingFiatFirst       FundingStrategy = "fiat_first"
	FundingStablecoinFirst FundingStrategy = "stablecoin_first"
	FundingHybrid          FundingStrategy = "hybrid"
)

// PANBoundaryMode governs how checkout may collect PAN/CVV material; the
// core process never stores the values themselves, only secret_ref tokens.
type PANBoundaryMode string

const (
	PANBoundaryIframeOnly       PANBoundaryMode = "issuer_hosted_iframe_only"
	PANBoundaryEnclaveOnly      PANBoundaryMode = "enclave_break_glass_only"
	PANBoundaryIframePlusEnclave PANBoundaryMode = "issuer_hosted_iframe_plus_enclave_break_glass"
)

// FailoverMode is the deterministic operational posture for signer outages.
type FailoverMode string

const (
	FailoverNormal      FailoverMode = "normal"
	FailoverDegraded    FailoverMode = "degraded"
	FailoverContainment FailoverMode = "containment"
)

// Config is the fully resolved process configuration.
type Config struct {
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Funding       FundingConfig
	Checkout      CheckoutConfig
	A2A           A2AConfig
	Policy        PolicyConfig
	AI            AIConfig
	Idempotency   IdempotencyConfig
	Recon         ReconConfig
	Observability ObservabilityConfig
	FailoverMode  FailoverMode
}

type HTTPConfig struct {
	Addr           string
	ReadTimeoutMS  int
	WriteTimeoutMS int
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
}

type AuthConfig struct {
	JWTSigningKey string
	JWTIssuer     string
}

type FundingConfig struct {
	Strategy         FundingStrategy
	PrimaryAdapter   string
	FallbackAdapter  string
}

type CheckoutConfig struct {
	PANBoundaryMode PANBoundaryMode
}

type A2AConfig struct {
	EnforceTrustTable bool
}

type PolicyConfig struct {
	GoalDriftReviewThreshold float64
	GoalDriftBlockThreshold  float64
}

type AIConfig struct {
	AdvisoryOnly bool
}

type IdempotencyConfig struct {
	// AllowInMemoryStore holds the idempotency.allow_inmemory_store flag
	// (default false). Nothing outside this package reads it: sardisd
	// always uses the persistent idempotency store. Renamed from the spec's checkout.allow_inmemory_secret_store, which
	// named the idempotency store as though it held PAN secrets; it does
	// not. See DESIGN.md Open Question decision #1.
	AllowInMemoryStore bool
	RecordTTLSeconds   int
}

type ReconConfig struct {
	DriftWindowSeconds int
	BusinessDayHolidays []string
	BusinessDayTimezone string
}

type ObservabilityConfig struct {
	MetricsAddr  string
	OTLPEndpoint string
	LogLevel     string
}

type fileConfig struct {
	HTTP struct {
		Addr           string `toml:"addr"`
		ReadTimeoutMS  int    `toml:"read_timeout_ms"`
		WriteTimeoutMS int    `toml:"write_timeout_ms"`
	} `toml:"http"`
	Database struct {
		DSN          string `toml:"dsn"`
		MaxOpenConns int    `toml:"max_open_conns"`
		MaxIdleConns int    `toml:"max_idle_conns"`
	} `toml:"database"`
	Funding struct {
		Strategy        string `toml:"strategy"`
		PrimaryAdapter  string `toml:"primary_adapter"`
		FallbackAdapter string `toml:"fallback_adapter"`
	} `toml:"funding"`
	Checkout struct {
		PANBoundaryMode string `toml:"pan_boundary_mode"`
	} `toml:"checkout"`
	A2A struct {
		EnforceTrustTable bool `toml:"enforce_trust_table"`
	} `toml:"a2a"`
	Policy struct {
		GoalDriftReviewThreshold *float64 `toml:"goal_drift_review_threshold"`
		GoalDriftBlockThreshold  *float64 `toml:"goal_drift_block_threshold"`
	} `toml:"policy"`
	AI struct {
		AdvisoryOnly bool `toml:"advisory_only"`
	} `toml:"ai"`
	Idempotency struct {
		AllowInMemoryStore bool `toml:"allow_inmemory_store"`
		RecordTTLSeconds   int  `toml:"record_ttl_seconds"`
	} `toml:"idempotency"`
	Recon struct {
		DriftWindowSeconds  int      `toml:"drift_window_seconds"`
		BusinessDayHolidays []string `toml:"business_day_holidays"`
		BusinessDayTimezone string   `toml:"business_day_timezone"`
	} `toml:"recon"`
	Observability struct {
		MetricsAddr  string `toml:"metrics_addr"`
		OTLPEndpoint string `toml:"otlp_endpoint"`
		LogLevel     string `toml:"log_level"`
	} `toml:"observability"`
	FailoverMode string `toml:"failover_mode"`
}

// Load reads path as TOML, overlays recognized SARDIS_* environment
// variables, and validates the result. It fails closed: any missing
// required field is a startup error, never a silently invented default.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnvOverlay(&fc)

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:           getStringDefault(fc.HTTP.Addr, ":8443"),
			ReadTimeoutMS:  getIntDefault(fc.HTTP.ReadTimeoutMS, 10_000),
			WriteTimeoutMS: getIntDefault(fc.HTTP.WriteTimeoutMS, 30_000),
		},
		Database: DatabaseConfig{
			DSN:          fc.Database.DSN,
			MaxOpenConns: getIntDefault(fc.Database.MaxOpenConns, 20),
			MaxIdleConns: getIntDefault(fc.Database.MaxIdleConns, 5),
		},
		Funding: FundingConfig{
			Strategy:        FundingStrategy(getStringDefault(fc.Funding.Strategy, string(FundingFiatFirst))),
			PrimaryAdapter:  fc.Funding.PrimaryAdapter,
			FallbackAdapter: fc.Funding.FallbackAdapter,
		},
		Checkout: CheckoutConfig{
			PANBoundaryMode: PANBoundaryMode(fc.Checkout.PANBoundaryMode),
		},
		A2A: A2AConfig{EnforceTrustTable: fc.A2A.EnforceTrustTable},
		AI:  AIConfig{AdvisoryOnly: true}, // spec: ai.advisory_only is always true, never operator-relaxable
		Idempotency: IdempotencyConfig{
			AllowInMemoryStore: fc.Idempotency.AllowInMemoryStore,
			RecordTTLSeconds:   getIntDefault(fc.Idempotency.RecordTTLSeconds, 86_400),
		},
		Recon: ReconConfig{
			DriftWindowSeconds:  getIntDefault(fc.Recon.DriftWindowSeconds, 120),
			BusinessDayHolidays: fc.Recon.BusinessDayHolidays,
			BusinessDayTimezone: getStringDefault(fc.Recon.BusinessDayTimezone, "UTC"),
		},
		Observability: ObservabilityConfig{
			MetricsAddr:  getStringDefault(fc.Observability.MetricsAddr, ":9090"),
			OTLPEndpoint: fc.Observability.OTLPEndpoint,
			LogLevel:     getStringDefault(fc.Observability.LogLevel, "info"),
		},
		FailoverMode: FailoverMode(getStringDefault(fc.FailoverMode, string(FailoverNormal))),
	}
	if fc.Policy.GoalDriftReviewThreshold != nil {
		cfg.Policy.GoalDriftReviewThreshold = *fc.Policy.GoalDriftReviewThreshold
	}
	if fc.Policy.GoalDriftBlockThreshold != nil {
		cfg.Policy.GoalDriftBlockThreshold = *fc.Policy.GoalDriftBlockThreshold
	}

	if err := cfg.validate(fc); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(fc fileConfig) error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	// Goal-drift thresholds have no defaults by design; spec §9 Open
	// Questions marks this "must be set explicitly".
	if fc.Policy.GoalDriftReviewThreshold == nil || fc.Policy.GoalDriftBlockThreshold == nil {
		return fmt.Errorf("config: policy.goal_drift_review_threshold and policy.goal_drift_block_threshold must both be set explicitly, no default exists")
	}
	if c.Policy.GoalDriftReviewThreshold >= c.Policy.GoalDriftBlockThreshold {
		return fmt.Errorf("config: policy.goal_drift_review_threshold must be less than policy.goal_drift_block_threshold")
	}
	switch c.Funding.Strategy {
	case FundingFiatFirst, FundingStablecoinFirst, FundingHybrid:
	default:
		return fmt.Errorf("config: invalid funding.strategy: %s", c.Funding.Strategy)
	}
	switch c.FailoverMode {
	case FailoverNormal, FailoverDegraded, FailoverContainment:
	default:
		return fmt.Errorf("config: invalid failover_mode: %s", c.FailoverMode)
	}
	if c.Checkout.PANBoundaryMode != "" {
		switch c.Checkout.PANBoundaryMode {
		case PANBoundaryIframeOnly, PANBoundaryEnclaveOnly, PANBoundaryIframePlusEnclave:
		default:
			return fmt.Errorf("config: invalid checkout.pan_boundary_mode: %s", c.Checkout.PANBoundaryMode)
		}
	}
	return nil
}

// applyEnvOverlay mirrors services/otc-gateway/config.FromEnv's pattern of
// letting environment variables override file-provided values, used for
// container-orchestrated deploys where secrets are injected via env.
func applyEnvOverlay(fc *fileConfig) {
	if v, ok := os.LookupEnv("SARDIS_DATABASE_DSN"); ok {
		fc.Database.DSN = v
	}
	if v, ok := os.LookupEnv("SARDIS_HTTP_ADDR"); ok {
		fc.HTTP.Addr = v
	}
	if v, ok := os.LookupEnv("SARDIS_POLICY_GOAL_DRIFT_REVIEW_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fc.Policy.GoalDriftReviewThreshold = &f
		}
	}
	if v, ok := os.LookupEnv("SARDIS_POLICY_GOAL_DRIFT_BLOCK_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fc.Policy.GoalDriftBlockThreshold = &f
		}
	}
	if v, ok := os.LookupEnv("SARDIS_IDEMPOTENCY_ALLOW_INMEMORY_STORE"); ok {
		fc.Idempotency.AllowInMemoryStore = parseBoolEnv(v)
	}
	if v, ok := os.LookupEnv("SARDIS_FAILOVER_MODE"); ok {
		fc.FailoverMode = v
	}
}

func getStringDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func getIntDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func parseBoolEnv(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}
