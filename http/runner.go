// Package http provides common HTTP server utilities for the service.
// This file contains the RunServer helper for standardized service management.
package http

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"flowrunner.dev/flowrunner/common"
)

// RunServerConfig contains configuration for running the service's HTTP server.
type RunServerConfig struct {
	ServiceID   string
	ServiceName string
	Version     string
	Description string

	Port            int
	Debug           bool
	BodyLimit       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       float64

	// Logger (optional, will create one if nil)
	Logger *common.ContextLogger

	// OnShutdown runs after the Echo server has been shut down, before the
	// process returns. The service uses it to stop the scheduler.
	OnShutdown func(ctx context.Context)
}

// DefaultRunServerConfig returns a RunServerConfig with sensible defaults.
func DefaultRunServerConfig(serviceID, serviceName, version string) RunServerConfig {
	return RunServerConfig{
		ServiceID:       serviceID,
		ServiceName:     serviceName,
		Version:         version,
		Description:     fmt.Sprintf("%s service", serviceName),
		Port:            8080,
		Debug:           false,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
		RateLimit:       0,
	}
}

// SetupFunc sets up routes and handlers on an Echo instance.
type SetupFunc func(*echo.Echo) error

// RunServer creates and runs an Echo server with standard patterns: standard
// middleware, a health check endpoint, setup of caller-supplied routes, and
// signal-driven graceful shutdown.
func RunServer(config RunServerConfig, setupFunc SetupFunc) error {
	logger := config.Logger
	if logger == nil {
		logger = common.ServiceLogger(config.ServiceID, config.Version)
	}

	serverConfig := ServerConfig{
		Port:            config.Port,
		Debug:           config.Debug,
		BodyLimit:       config.BodyLimit,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		ShutdownTimeout: config.ShutdownTimeout,
		AllowedOrigins:  config.AllowedOrigins,
		RateLimit:       config.RateLimit,
	}

	e := NewEchoServer(serverConfig)
	e.HTTPErrorHandler = CustomHTTPErrorHandler
	e.GET("/healthz", HealthCheckHandler(config.ServiceName, config.Version))

	if setupFunc != nil {
		if err := setupFunc(e); err != nil {
			return fmt.Errorf("setup function failed: %w", err)
		}
	}

	go func() {
		logger.Infof("starting %s on port %d", config.ServiceName, config.Port)
		if err := e.Start(fmt.Sprintf(":%d", config.Port)); err != nil {
			logger.WithError(err).Error("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("error during shutdown")
		return err
	}

	if config.OnShutdown != nil {
		config.OnShutdown(ctx)
	}

	logger.Info("server stopped")
	return nil
}
