package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, model.LogConfig{Level: "info", Format: "json"})

	logger.Info("connecting", "server", "imap.example.com", "password", "hunter2")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if line["password"] != redacted {
		t.Errorf("password = %v, want redacted", line["password"])
	}
	if line["server"] != "imap.example.com" {
		t.Errorf("server = %v", line["server"])
	}
}

func TestNewTextHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, model.LogConfig{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSetupAppendsToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "logs", "connector.log")
	var console bytes.Buffer
	logger, closer, err := Setup(model.LogConfig{Level: "info"}, path, &console)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Info("Checking messages")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Checking messages") {
		t.Errorf("log file missing line:\n%s", data)
	}
	if !strings.Contains(console.String(), "Checking messages") {
		t.Errorf("console missing line:\n%s", console.String())
	}
}
