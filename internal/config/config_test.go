package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sardis.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFailsWithoutGoalDriftThresholds(t *testing.T) {
	path := writeTempConfig(t, `
[database]
dsn = "postgres://localhost/sardis"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "goal_drift_review_threshold")
}

func TestLoadFailsWhenReviewThresholdNotBelowBlock(t *testing.T) {
	path := writeTempConfig(t, `
[database]
dsn = "postgres://localhost/sardis"

[policy]
goal_drift_review_threshold = 0.8
goal_drift_block_threshold = 0.5
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "less than")
}

func TestLoadSucceedsWithRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
[database]
dsn = "postgres://localhost/sardis"

[policy]
goal_drift_review_threshold = 0.5
goal_drift_block_threshold = 0.85
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, FundingFiatFirst, cfg.Funding.Strategy)
	require.True(t, cfg.AI.AdvisoryOnly)
	require.Equal(t, FailoverNormal, cfg.FailoverMode)
}

func TestLoadRejectsUnknownFailoverMode(t *testing.T) {
	path := writeTempConfig(t, `
failover_mode = "bogus"

[database]
dsn = "postgres://localhost/sardis"

[policy]
goal_drift_review_threshold = 0.5
goal_drift_block_threshold = 0.85
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "invalid failover_mode")
}

func TestEnvOverlayOverridesDSN(t *testing.T) {
	path := writeTempConfig(t, `
[database]
dsn = "postgres://localhost/sardis"

[policy]
goal_drift_review_threshold = 0.5
goal_drift_block_threshold = 0.85
`)
	t.Setenv("SARDIS_DATABASE_DSN", "postgres://override/sardis")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://override/sardis", cfg.Database.DSN)
}
