package config

import "time"

// FlowRunnerConfig holds every environment-variable-driven setting the
// service reads at startup. It is the one concrete config struct passed
// around the service.
type FlowRunnerConfig struct {
	APIPort  int
	APIToken string

	DataPath      string
	FlowsPath     string
	TemplatesPath string
	SecretsPath   string
	JobsDBPath    string
	ConfigFile    string

	LogPath     string
	LogFileName string
	LogLevel    string

	Timezone string

	FlowTimeoutSeconds int
	FlowMaxWorkers     int

	VaultToken    string
	VaultCacheTTL time.Duration
}

// LoadFlowRunnerConfig reads every FlowRunnerConfig field from the
// environment, applying the defaults the spec assigns to everything except
// APIToken.
func LoadFlowRunnerConfig() FlowRunnerConfig {
	env := NewEnvConfig("")
	dataPath := env.GetString("DATA_PATH", "./data")

	return FlowRunnerConfig{
		APIPort:  env.GetInt("API_PORT", 8080),
		APIToken: env.GetString("API_TOKEN", ""),

		DataPath:      dataPath,
		FlowsPath:     env.GetString("FLOWS_PATH", dataPath+"/flows"),
		TemplatesPath: env.GetString("TEMPLATES_PATH", dataPath+"/templates"),
		SecretsPath:   env.GetString("SECRETS_PATH", dataPath+"/secrets.yaml"),
		JobsDBPath:    env.GetString("JOBS_DB_PATH", dataPath+"/jobs.sqlite"),
		ConfigFile:    env.GetString("CONFIG_FILE", dataPath+"/config.yaml"),

		LogPath:     env.GetString("LOG_PATH", dataPath+"/logs"),
		LogFileName: env.GetString("LOG_FILE_NAME", "flowrunner.log"),
		LogLevel:    env.GetString("LOG_LEVEL", "info"),

		Timezone: env.GetString("TIMEZONE", "UTC"),

		FlowTimeoutSeconds: env.GetInt("FLOW_TIMEOUT_SECONDS", 300),
		FlowMaxWorkers:     env.GetInt("FLOW_MAX_WORKERS", 8),

		VaultToken:    env.GetString("HASHICORP_VAULT_TOKEN", ""),
		VaultCacheTTL: env.GetDuration("HASHICORP_VAULT_CACHE_TTL", 60*time.Second),
	}
}

// Validate checks the fields the service cannot run without.
func (c FlowRunnerConfig) Validate() error {
	v := NewValidator()
	v.RequireString("API_TOKEN", c.APIToken)
	v.RequireString("FLOWS_PATH", c.FlowsPath)
	v.RequirePositiveInt("FLOW_MAX_WORKERS", c.FlowMaxWorkers)
	v.RequirePositiveInt("FLOW_TIMEOUT_SECONDS", c.FlowTimeoutSeconds)
	return v.Validate()
}
