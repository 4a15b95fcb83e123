package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shieldguard/shield/internal/setup/config"
)

// Manager handles the creation and rotation of log session directories.
// Each run writes into a timestamped directory plus a "latest" directory for
// easy access.
type Manager struct {
	currentSessionDir string
	logDir            string
	level             string
	maxLogsToKeep     int
}

// NewManager creates a new log manager rooted at logDir.
func NewManager(logDir string, cfg *config.Debug) *Manager {
	return &Manager{
		logDir:        logDir,
		level:         cfg.LogLevel,
		maxLogsToKeep: cfg.MaxLogsToKeep,
	}
}

// GetLogger initializes the application logger, writing to the session and
// latest directories.
func (m *Manager) GetLogger() (*zap.Logger, error) {
	if err := m.setupLogDirectories(); err != nil {
		return nil, err
	}

	zapLevel, err := zapcore.ParseLevel(m.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", m.level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{
		"stdout",
		filepath.Join(m.currentSessionDir, "main.log"),
		filepath.Join(m.logDir, "latest", "main.log"),
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// setupLogDirectories creates the session directory structure and rotates
// out old sessions.
func (m *Manager) setupLogDirectories() error {
	if err := os.MkdirAll(m.logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if err := m.rotateLogSessions(); err != nil {
		return fmt.Errorf("failed to rotate log sessions: %w", err)
	}

	m.currentSessionDir = filepath.Join(m.logDir, time.Now().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(m.currentSessionDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	latestDir := filepath.Join(m.logDir, "latest")
	if err := os.RemoveAll(latestDir); err != nil {
		return fmt.Errorf("failed to clean latest directory: %w", err)
	}

	if err := os.MkdirAll(latestDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create latest directory: %w", err)
	}

	return nil
}

// rotateLogSessions removes the oldest session directories beyond the
// retention limit.
func (m *Manager) rotateLogSessions() error {
	entries, err := os.ReadDir(m.logDir)
	if err != nil {
		return err
	}

	var sessions []string

	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != "latest" {
			sessions = append(sessions, entry.Name())
		}
	}

	if len(sessions) < m.maxLogsToKeep {
		return nil
	}

	// Oldest first; directory names sort chronologically.
	sort.Strings(sessions)

	for _, name := range sessions[:len(sessions)-m.maxLogsToKeep+1] {
		if err := os.RemoveAll(filepath.Join(m.logDir, name)); err != nil {
			return err
		}
	}

	return nil
}
