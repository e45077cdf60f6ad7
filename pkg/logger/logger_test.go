package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name   string
		level  string
		logDir string
	}{
		{
			name:   "Valid info level with log directory",
			level:  "info",
			logDir: tempDir,
		},
		{
			name:   "Valid debug level without log directory",
			level:  "debug",
			logDir: "",
		},
		{
			name:   "Invalid level with log directory",
			level:  "invalid",
			logDir: tempDir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := SetupLogger(context.Background(), tt.level, tt.logDir)

			logger := GetLoggerFromContext(ctx)
			if logger == nil {
				t.Fatal("Logger should not be nil")
			}
			logger.Info("Test info message")

			if tt.logDir != "" {
				logFile := filepath.Join(tt.logDir, LogFileName)
				if _, err := os.Stat(logFile); os.IsNotExist(err) {
					t.Errorf("Log file should exist at %s", logFile)
				}
			}
		})
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger := New("warning", dir, &console)

	logger.Info("hidden")
	logger.Warn("cluster c1 is not connected")

	if strings.Contains(console.String(), "hidden") {
		t.Error("info entries must be filtered at warning level")
	}
	if !strings.Contains(console.String(), "cluster c1 is not connected") {
		t.Errorf("console output missing warning: %q", console.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "cluster c1 is not connected") {
		t.Errorf("log file missing warning: %q", string(data))
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	var console bytes.Buffer
	logger := New("verbose", "", &console)
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", logger.GetLevel())
	}
	if !strings.Contains(console.String(), "Using 'info' level as default") {
		t.Errorf("expected a fallback warning, got %q", console.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		expected  logrus.Level
		expectErr bool
	}{
		{"debug level", "debug", logrus.DebugLevel, false},
		{"info level", "info", logrus.InfoLevel, false},
		{"warning level", "warning", logrus.WarnLevel, false},
		{"error level", "error", logrus.ErrorLevel, false},
		{"case insensitive", "DEBUG", logrus.DebugLevel, false},
		{"with spaces", "  info  ", logrus.InfoLevel, false},
		{"invalid level", "invalid", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLogLevel(tt.level)

			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if level != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestValidateLogLevel(t *testing.T) {
	validLevels := []string{"debug", "info", "warning", "error", "DEBUG", "INFO"}
	invalidLevels := []string{"invalid", "", "trace", "fatal"}

	for _, level := range validLevels {
		t.Run("valid_"+level, func(t *testing.T) {
			if err := ValidateLogLevel(level); err != nil {
				t.Errorf("Level %s should be valid, got error: %v", level, err)
			}
		})
	}
	for _, level := range invalidLevels {
		t.Run("invalid_"+level, func(t *testing.T) {
			if err := ValidateLogLevel(level); err == nil {
				t.Errorf("Level %s should be invalid", level)
			}
		})
	}
}

func TestIsDebugEnabled(t *testing.T) {
	ctx := SetupLogger(context.Background(), "debug", "")
	if !IsDebugEnabled(ctx) {
		t.Error("Debug should be enabled for debug level")
	}

	ctx = SetupLogger(context.Background(), "error", "")
	if IsDebugEnabled(ctx) {
		t.Error("Debug should be disabled for error level")
	}
}
