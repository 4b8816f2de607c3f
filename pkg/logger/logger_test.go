package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetup_Levels tests that configured levels become the global level.
func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := Setup(Config{Level: tt.level, Format: "json", Output: "stdout"})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
		})
	}
}

// TestSetup_TextFormat tests logger setup with console output.
func TestSetup_TextFormat(t *testing.T) {
	require.NoError(t, Setup(Config{Level: "info", Format: "text", Output: "stderr"}))
	assert.NotNil(t, Get())
}

// TestSetup_FileOutput tests logger setup with file output.
func TestSetup_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "leads.log")

	require.NoError(t, Setup(Config{Level: "debug", Format: "json", Output: "file", File: logFile}))

	InfoEvent().Msg("info message")
	DebugEvent().Msg("debug message")
	WarnEvent().Msg("warn message")
	ErrorEvent().Msg("error message")
	Event(zerolog.WarnLevel).Str("job_id", "j1").Msg("queue delivery retry scheduled")
	Component("dispatcher").Info().Str("raw_lead_id", "abc").Msg("job submitted")

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	logContent := string(content)
	assert.Contains(t, logContent, "info message")
	assert.Contains(t, logContent, "debug message")
	assert.Contains(t, logContent, `"level":"warn"`)
	assert.Contains(t, logContent, `"level":"error"`)
	assert.Contains(t, logContent, `"job_id":"j1"`)
	assert.Contains(t, logContent, `"component":"dispatcher"`)
	assert.Contains(t, logContent, `"raw_lead_id":"abc"`)
}

// TestSetup_FileOutputDefaultName tests logger setup with file output but no filename.
func TestSetup_FileOutputDefaultName(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(oldWd)

	require.NoError(t, Setup(Config{Level: "info", Format: "json", Output: "file"}))
	InfoEvent().Msg("default file test")

	assert.FileExists(t, DefaultFile)
}

func TestSetup_FileOutputError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing", "leads.log")
	assert.Error(t, Setup(Config{Level: "info", Output: "file", File: missing}))
}
