package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	log, err := New(config.LoggingConfig{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("claim recorded", zap.String("lead_id", "lead-1"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"claim recorded"`) {
		t.Errorf("expected JSON message, got %q", out)
	}
	if !strings.Contains(out, `"lead_id":"lead-1"`) {
		t.Errorf("expected lead_id field, got %q", out)
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestTrimFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	big := strings.Repeat("x", maxFileSize) + strings.Repeat("y", keepFileSize)
	if err := os.WriteFile(path, []byte(big), 0600); err != nil {
		t.Fatal(err)
	}

	if err := trimFile(path); err != nil {
		t.Fatalf("trimFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "=== log trimmed") {
		t.Errorf("expected trim header, got prefix %q", string(data[:40]))
	}
	if !strings.HasSuffix(string(data), strings.Repeat("y", keepFileSize)) {
		t.Error("expected tail to be preserved")
	}
}

func TestTrimFile_SmallFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.log")
	if err := os.WriteFile(path, []byte("hello\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := trimFile(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello\n" {
		t.Errorf("small file changed: %q", data)
	}
}

func TestGormWriter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	w := NewGormWriter(zap.New(core))

	w.Printf("slow query %s took %dms", "SELECT 1", 1200)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "slow query SELECT 1 took 1200ms" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	if entries[0].ContextMap()["component"] != "gorm" {
		t.Errorf("expected component=gorm, got %v", entries[0].ContextMap())
	}
}
