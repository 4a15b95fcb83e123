// Package setup bootstraps application dependencies in the order they need
// each other: configuration, logging, then the policy store.
package setup

import (
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/policy"
	"github.com/shieldguard/shield/internal/setup/config"
	"github.com/shieldguard/shield/internal/setup/logger"
)

// App bundles the core dependencies needed by the bot process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Policies *policy.Store
}

// InitializeApp loads configuration, initializes logging and opens the
// policy store.
func InitializeApp(logDir string) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logManager := logger.NewManager(logDir, &cfg.Debug)

	appLogger, err := logManager.GetLogger()
	if err != nil {
		return nil, err
	}

	appLogger.Info("Loaded configuration", zap.String("config_dir", configDir))

	policies, err := policy.NewStore(cfg.Scanner.PolicyDB, appLogger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   appLogger,
		Policies: policies,
	}, nil
}

// Cleanup releases application resources.
func (a *App) Cleanup() {
	if err := a.Policies.Close(); err != nil {
		a.Logger.Error("Failed to close policy store", zap.Error(err))
	}

	_ = a.Logger.Sync()
}
