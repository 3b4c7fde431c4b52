package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearFlowRunnerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"API_PORT", "API_TOKEN", "DATA_PATH", "FLOWS_PATH", "TEMPLATES_PATH",
		"SECRETS_PATH", "JOBS_DB_PATH", "CONFIG_FILE", "LOG_PATH", "LOG_FILE_NAME",
		"LOG_LEVEL", "TIMEZONE", "FLOW_TIMEOUT_SECONDS", "FLOW_MAX_WORKERS",
		"HASHICORP_VAULT_TOKEN", "HASHICORP_VAULT_CACHE_TTL",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadFlowRunnerConfigDefaults(t *testing.T) {
	clearFlowRunnerEnv(t)
	cfg := LoadFlowRunnerConfig()

	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, "./data/flows", cfg.FlowsPath)
	assert.Equal(t, "./data/jobs.sqlite", cfg.JobsDBPath)
	assert.Equal(t, 300, cfg.FlowTimeoutSeconds)
	assert.Equal(t, 8, cfg.FlowMaxWorkers)
}

func TestLoadFlowRunnerConfigOverridesFromEnv(t *testing.T) {
	clearFlowRunnerEnv(t)
	t.Setenv("DATA_PATH", "/srv/flowrunner")
	t.Setenv("FLOW_MAX_WORKERS", "16")

	cfg := LoadFlowRunnerConfig()
	assert.Equal(t, "/srv/flowrunner/flows", cfg.FlowsPath)
	assert.Equal(t, 16, cfg.FlowMaxWorkers)
}

func TestValidateRequiresAPIToken(t *testing.T) {
	clearFlowRunnerEnv(t)
	cfg := LoadFlowRunnerConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_TOKEN")
}

func TestValidatePassesWithToken(t *testing.T) {
	clearFlowRunnerEnv(t)
	t.Setenv("API_TOKEN", "secret")
	cfg := LoadFlowRunnerConfig()
	assert.NoError(t, cfg.Validate())
}
