// Package cli provides the command-line entry point for the flow runner
// service: configuration loading, service wiring, and the serve command's
// bootstrap/shutdown sequence.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowrunner.dev/flowrunner/api"
	"flowrunner.dev/flowrunner/common"
	"flowrunner.dev/flowrunner/config"
	"flowrunner.dev/flowrunner/flow"
	flowrunnerhttp "flowrunner.dev/flowrunner/http"
	"flowrunner.dev/flowrunner/jobstore"
	"flowrunner.dev/flowrunner/runner"
	"flowrunner.dev/flowrunner/scheduler"
	"flowrunner.dev/flowrunner/secrets"
	"flowrunner.dev/flowrunner/version"
)

var cfgFile string

// RootCmd is the flow runner service's root command.
var RootCmd = &cobra.Command{
	Use:   "flowrunner",
	Short: "runs and schedules YAML-defined flows over an HTTP API",
	Long: `flowrunner is a workflow execution service: it loads flow definitions
from a flows directory, runs them on demand or on a cron/interval schedule,
and tracks every run as a job in a local SQLite store.`,
	Run: runServe,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CONFIG_FILE or ./config.yaml)")
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetEVEVersion())
	},
}

// autostartConfig is the shape of the config file's autostart_flows section.
type autostartConfig struct {
	AutostartFlows []autostartEntry `mapstructure:"autostart_flows"`
}

type autostartEntry struct {
	Path           string `mapstructure:"path"`
	Cron           string `mapstructure:"cron"`
	EverySeconds   int    `mapstructure:"every_seconds"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// initConfig wires Viper to the --config flag or, failing that, the
// CONFIG_FILE environment variable, or else a config file named "config"
// in the working directory.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envFile := os.Getenv("CONFIG_FILE"); envFile != "" {
		viper.SetConfigFile(envFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// runServe implements the full service bootstrap sequence: logging, stale
// job recovery, scheduler construction and autostart, then the HTTP server,
// with signal-driven graceful shutdown handled by http.RunServer.
func runServe(cmd *cobra.Command, args []string) {
	cfg := config.LoadFlowRunnerConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := common.ServiceLogger("flowrunner", version.GetEVEVersion())
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		common.Logger.SetLevel(level)
	} else {
		logger.WithError(err).Warn("invalid LOG_LEVEL, keeping the default level")
	}

	for _, dir := range []string{cfg.DataPath, cfg.FlowsPath, cfg.TemplatesPath, cfg.LogPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.WithError(err).Fatal(fmt.Sprintf("failed to create directory %s", dir))
		}
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.LogPath, cfg.LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.WithError(err).Warn("failed to open log file, logging to stdout/stderr only")
	} else {
		common.Logger.SetOutput(io.MultiWriter(&common.OutputSplitter{}, logFile))
	}

	store, err := jobstore.Open(cfg.JobsDBPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open job store")
	}

	ctx := context.Background()
	if err := store.AbandonRunning(ctx); err != nil {
		logger.WithError(err).Error("failed to abandon stale running jobs")
	}

	flowCfg := flow.Config{
		FlowsRoot:     cfg.FlowsPath,
		TemplatesRoot: cfg.TemplatesPath,
		SecretsPath:   cfg.SecretsPath,
		VaultToken:    cfg.VaultToken,
		VaultCacheTTL: cfg.VaultCacheTTL,
		VaultCache:    secrets.NewInProcessCache(),
	}

	r := runner.New(flowCfg, store, cfg.FlowMaxWorkers, logger)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.WithError(err).Warn("invalid timezone, falling back to UTC")
		loc = time.UTC
	}

	defaultTimeout := time.Duration(cfg.FlowTimeoutSeconds) * time.Second
	sched := scheduler.New(r, loc, defaultTimeout, logger)

	var autostart autostartConfig
	if err := viper.Unmarshal(&autostart); err != nil {
		logger.WithError(err).Warn("failed to parse autostart_flows from config file")
	}
	for _, flowEntry := range autostart.AutostartFlows {
		timeout := flowEntry.TimeoutSeconds
		if timeout <= 0 {
			timeout = cfg.FlowTimeoutSeconds
		}
		_, err := sched.AddFlow(ctx, scheduler.ScheduleDef{
			Path:           flowEntry.Path,
			Cron:           flowEntry.Cron,
			EverySeconds:   flowEntry.EverySeconds,
			TimeoutSeconds: timeout,
		})
		if err != nil {
			logger.WithField("flow_path", flowEntry.Path).WithError(err).Error("failed to autostart flow")
		}
	}

	sched.Start(ctx)

	handlers := &api.Handlers{
		Runner:     r,
		Store:      store,
		Scheduler:  sched,
		LogPath:    cfg.LogPath,
		LogFile:    cfg.LogFileName,
		DefaultTTL: defaultTimeout,
		Location:   loc,
	}

	runServerConfig := flowrunnerhttp.DefaultRunServerConfig("flowrunner", "flowrunner", version.GetEVEVersion())
	runServerConfig.Port = cfg.APIPort
	runServerConfig.Logger = logger
	runServerConfig.OnShutdown = func(shutdownCtx context.Context) { sched.Stop() }

	err = flowrunnerhttp.RunServer(runServerConfig, func(e *echo.Echo) error {
		api.SetupRoutes(e, handlers, cfg.APIToken)
		return nil
	})
	if err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server exited with error")
	}
}
