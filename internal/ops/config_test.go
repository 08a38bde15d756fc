package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.Codec != "compact" {
		t.Fatalf("default codec mismatch: got %q", cfg.Endpoint.Codec)
	}
	if got := cfg.Endpoint.IdleTimeout(); got != 60*time.Second {
		t.Fatalf("default idle timeout mismatch: got %s", got)
	}
	if got := cfg.Endpoint.HandshakeTimeout(); got != 5*time.Second {
		t.Fatalf("default handshake timeout mismatch: got %s", got)
	}
	if cfg.Backoff.Base != 2.0 || cfg.Backoff.MaxDelay() != 30*time.Second {
		t.Fatalf("default backoff mismatch: got %+v", cfg.Backoff)
	}
	if cfg.Capture.FilePrefix != "cap" || cfg.Capture.SegmentMaxBytes != 64<<20 {
		t.Fatalf("default capture mismatch: got %+v", cfg.Capture)
	}
	if cfg.Archive.BatchSize != 256 || cfg.Archive.Session != "default" {
		t.Fatalf("default archive mismatch: got %+v", cfg.Archive)
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  url: wss://stream.example.com/ws
  codec: json
  idle_timeout_sec: 45
  handshake_timeout_sec: 3
  headers:
    X-Api-Key: abc123
backoff:
  base: 1.5
  max_delay_sec: 10
capture:
  enabled: true
  dir: /tmp/captures
  file_prefix: rec
chaos:
  enabled: true
  seed: 42
  drop_rate: 0.05
  cut_rate: 0.01
  max_delay_ms: 25
archive:
  enabled: true
  session: soak-1
  postgres:
    host: db.internal
    database: frames
sink:
  enabled: true
  socket_path: /tmp/wsline.sock
profiler:
  enabled: true
  server_address: http://localhost:4040
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.URL != "wss://stream.example.com/ws" {
		t.Fatalf("url mismatch: got %q", cfg.Endpoint.URL)
	}
	if cfg.Endpoint.Codec != "json" {
		t.Fatalf("codec mismatch: got %q", cfg.Endpoint.Codec)
	}
	if got := cfg.Endpoint.IdleTimeout(); got != 45*time.Second {
		t.Fatalf("idle timeout mismatch: got %s", got)
	}
	if got := cfg.Endpoint.Headers["X-Api-Key"]; got != "abc123" {
		t.Fatalf("header mismatch: got %q", got)
	}
	if cfg.Backoff.Base != 1.5 || cfg.Backoff.MaxDelay() != 10*time.Second {
		t.Fatalf("backoff mismatch: got %+v", cfg.Backoff)
	}
	if !cfg.Capture.Enabled || cfg.Capture.Dir != "/tmp/captures" || cfg.Capture.FilePrefix != "rec" {
		t.Fatalf("capture mismatch: got %+v", cfg.Capture)
	}
	if got := cfg.Chaos.MaxDelay(); got != 25*time.Millisecond {
		t.Fatalf("chaos delay mismatch: got %s", got)
	}
	if cfg.Archive.Session != "soak-1" || cfg.Archive.Postgres.Database != "frames" {
		t.Fatalf("archive mismatch: got %+v", cfg.Archive)
	}
	if cfg.Sink.SocketPath != "/tmp/wsline.sock" {
		t.Fatalf("sink mismatch: got %+v", cfg.Sink)
	}
	if cfg.Profiler.ApplicationName != "wsline" {
		t.Fatalf("profiler app name should default, got %q", cfg.Profiler.ApplicationName)
	}
}

func TestLoadRejectsBadCodec(t *testing.T) {
	path := writeConfig(t, "endpoint:\n  codec: protobuf\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected codec validation error")
	}
}

func TestLoadRejectsCaptureWithoutDir(t *testing.T) {
	path := writeConfig(t, "capture:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected capture.dir validation error")
	}
}

func TestLoadRejectsChaosRateOutOfRange(t *testing.T) {
	path := writeConfig(t, "chaos:\n  enabled: true\n  drop_rate: 1.5\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected chaos rate validation error")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "endpoint: [broken\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
