package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OI_CONFIG_FILE", "")
	t.Setenv("OI_STALE_WEEKS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.OI.Quotas.Initial != 1 || cfg.OI.Quotas.Probation != 6 || cfg.OI.Quotas.Default != 12 {
		t.Fatalf("unexpected quotas %+v", cfg.OI.Quotas)
	}
	if cfg.OI.StaleAfter != 3*7*24*time.Hour {
		t.Fatalf("unexpected stale window %s", cfg.OI.StaleAfter)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("OI_CONFIG_FILE", "")
	t.Setenv("OI_STALE_WEEKS", "5")
	t.Setenv("OI_ANONYMOUS_USER_ID", "381")
	t.Setenv("COVER_USE_SSL", "false")
	t.Setenv("OI_ACCESS_TTL_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OI.StaleAfter != 5*7*24*time.Hour {
		t.Fatalf("unexpected stale window %s", cfg.OI.StaleAfter)
	}
	if cfg.OI.AnonymousUserID != 381 {
		t.Fatalf("unexpected anonymous user %d", cfg.OI.AnonymousUserID)
	}
	if cfg.CoverUseSSL {
		t.Fatal("expected COVER_USE_SSL=false to disable TLS")
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("invalid TTL should fall back to the default, got %s", cfg.AccessTTL)
	}
}

func TestLoadQuotaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oi.yaml")
	body := "quotas:\n  probation: 8\n  default_quota_imps: 250\nstale_weeks: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OI_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	q := cfg.OI.Quotas
	if q.Probation != 8 || q.DefaultQuotaImps != 250 {
		t.Fatalf("file values not applied: %+v", q)
	}
	if q.Initial != 1 || q.Default != 12 {
		t.Fatalf("missing keys should keep defaults: %+v", q)
	}
	if cfg.OI.StaleAfter != 2*7*24*time.Hour {
		t.Fatalf("unexpected stale window %s", cfg.OI.StaleAfter)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oi.yaml")
	if err := os.WriteFile(path, []byte("quotas: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OI_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("OI_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected read error")
	}
}

func TestPoolSettings(t *testing.T) {
	t.Setenv("OI_CONFIG_FILE", "")
	t.Setenv("OI_DB_MAX_OPEN_CONNS", "8")
	t.Setenv("OI_DB_MAX_IDLE_CONNS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pool := cfg.Pool("oiadmin")
	if pool.MaxOpenConns != 8 || pool.MaxIdleConns != 10 {
		t.Fatalf("unexpected pool sizes %+v", pool)
	}
	if pool.ApplicationName != "oiadmin" {
		t.Fatalf("unexpected application name %q", pool.ApplicationName)
	}
}
