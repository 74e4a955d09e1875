package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestHandler_JSONCarriesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := &Logger{Logger: slog.New(handler(&buf, "json", slog.LevelInfo, "1.2.3"))}

	log.Component("serial").Info("port opened", "device", "/dev/ttyUSB0")

	entry := decodeLine(t, buf.Bytes())
	assert.Equal(t, "port opened", entry["msg"])
	assert.Equal(t, "nodelink", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "serial", entry["component"])
	assert.Equal(t, "/dev/ttyUSB0", entry["device"])
}

func TestHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := &Logger{Logger: slog.New(handler(&buf, "json", slog.LevelWarn, "test"))}

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Equal(t, "kept", decodeLine(t, buf.Bytes())["msg"])
}

func TestHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(handler(&buf, "TEXT", slog.LevelDebug, "test"))

	log.Debug("frame", "type", "0x90")
	assert.Contains(t, buf.String(), "msg=frame")
	assert.Contains(t, buf.String(), "service=nodelink")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nodelink.log")
	cfg := config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File: config.FileLoggingConfig{
			Path:       path,
			MaxSize:    1,
			MaxBackups: 2,
		},
	}

	log := New(cfg, "1.0.0").Component("dispatch")
	log.Debug("written to file", "frame_id", 7)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entry := decodeLine(t, data)
	assert.Equal(t, "nodelink", entry["service"])
	assert.Equal(t, "dispatch", entry["component"])
}

func TestClose_StreamOutputIsNoop(t *testing.T) {
	assert.NoError(t, Default().Close())
	assert.NoError(t, New(config.LoggingConfig{Output: "stderr"}, "test").Close())
}
