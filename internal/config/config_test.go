package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "file")
	}
	if cfg.Store.Dir != ".roster" {
		t.Errorf("Store.Dir = %q, want %q", cfg.Store.Dir, ".roster")
	}
	if cfg.Session.HeartbeatInterval != 10*time.Second {
		t.Errorf("Session.HeartbeatInterval = %v, want 10s", cfg.Session.HeartbeatInterval)
	}
	if cfg.Session.StalenessThreshold != 3*cfg.Session.HeartbeatInterval {
		t.Errorf("Session.StalenessThreshold = %v, want 3x heartbeat", cfg.Session.StalenessThreshold)
	}
	if !cfg.Session.ProbeProcesses {
		t.Error("Session.ProbeProcesses should be true by default")
	}
	if cfg.Lock.MaxAttempts != 5 {
		t.Errorf("Lock.MaxAttempts = %d, want 5", cfg.Lock.MaxAttempts)
	}
	if cfg.Reaper.Schedule != "@every 30s" {
		t.Errorf("Reaper.Schedule = %q, want %q", cfg.Reaper.Schedule, "@every 30s")
	}
	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want empty", cfg.Metrics.Addr)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", ValidationErrors(errs))
	}
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watch.PollInterval != time.Second {
		t.Errorf("Watch.PollInterval = %v, want 1s", cfg.Watch.PollInterval)
	}
	if cfg.Lock.RetryBackoff != 20*time.Millisecond {
		t.Errorf("Lock.RetryBackoff = %v, want 20ms", cfg.Lock.RetryBackoff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROSTER_STORE_BACKEND", "sqlite")
	t.Setenv("ROSTER_SESSION_STALENESS_THRESHOLD", "45s")
	t.Setenv("ROSTER_METRICS_ADDR", "127.0.0.1:9100")
	resetViper(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Session.StalenessThreshold != 45*time.Second {
		t.Errorf("Session.StalenessThreshold = %v, want 45s", cfg.Session.StalenessThreshold)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "session:\n  heartbeat_interval: 2s\n  staleness_threshold: 7s\nlock:\n  manifest: coordination.yaml\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.HeartbeatInterval != 2*time.Second {
		t.Errorf("Session.HeartbeatInterval = %v, want 2s", cfg.Session.HeartbeatInterval)
	}
	if cfg.Lock.Manifest != "coordination.yaml" {
		t.Errorf("Lock.Manifest = %q", cfg.Lock.Manifest)
	}
}

func TestLoad_InvalidReturnsValidationErrors(t *testing.T) {
	resetViper(t)
	viper.Set("store.backend", "etcd")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for an unknown backend")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if verrs[0].Field != "store.backend" {
		t.Errorf("Field = %q, want store.backend", verrs[0].Field)
	}

	if got := Get(); got.Store.Backend != "file" {
		t.Errorf("Get() should fall back to defaults, got backend %q", got.Store.Backend)
	}
}

func TestResolveStoreDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{name: "empty uses default", dir: "", want: filepath.Join("/work", ".roster")},
		{name: "relative", dir: "state", want: filepath.Join("/work", "state")},
		{name: "absolute", dir: "/var/lib/roster", want: "/var/lib/roster"},
		{name: "home", dir: "~/roster", want: filepath.Join(home, "roster")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StoreConfig{Dir: tt.dir}
			if got := s.ResolveStoreDir("/work"); got != tt.want {
				t.Errorf("ResolveStoreDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveSQLitePath(t *testing.T) {
	s := StoreConfig{Dir: "state"}
	if got, want := s.ResolveSQLitePath("/work"), filepath.Join("/work", "state", "roster.db"); got != want {
		t.Errorf("ResolveSQLitePath() = %q, want %q", got, want)
	}
	s.SQLitePath = "/tmp/x.db"
	if got := s.ResolveSQLitePath("/work"); got != "/tmp/x.db" {
		t.Errorf("ResolveSQLitePath() = %q, want /tmp/x.db", got)
	}
}

func TestResolveManifest(t *testing.T) {
	l := LockConfig{}
	if got := l.ResolveManifest("/work"); got != "" {
		t.Errorf("ResolveManifest() = %q, want empty", got)
	}
	l.Manifest = "coordination.yaml"
	if got, want := l.ResolveManifest("/work"), filepath.Join("/work", "coordination.yaml"); got != want {
		t.Errorf("ResolveManifest() = %q, want %q", got, want)
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != filepath.Join("/xdg", "roster") {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != filepath.Join("/xdg", "roster", "config.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}
}
