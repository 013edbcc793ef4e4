package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
pools:
  - name: primary
    host: db.internal
    max_connections: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HealthCheckPort != 8080 {
		t.Errorf("HealthCheckPort = %d, want 8080", cfg.Server.HealthCheckPort)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.Server.MetricsPort)
	}
	if cfg.Server.InstanceID == "" {
		t.Error("InstanceID should default to the hostname, got empty string")
	}

	p := cfg.Pools[0]
	if p.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 30s", p.ConnectionTimeout)
	}
	if p.ValidationTimeout != 5*time.Second {
		t.Errorf("ValidationTimeout = %v, want 5s", p.ValidationTimeout)
	}
	if p.HousekeeperPeriod != 30*time.Second {
		t.Errorf("HousekeeperPeriod = %v, want 30s", p.HousekeeperPeriod)
	}
	if p.ConnectionTestQuery != "SELECT 1" {
		t.Errorf("ConnectionTestQuery = %q, want SELECT 1", p.ConnectionTestQuery)
	}

	if cfg.Redis.Addr != "" {
		t.Error("Redis should stay disabled when addr is not set")
	}
}

func TestLoadRejectsEmptyPools(t *testing.T) {
	path := writeTempConfig(t, `server:
  instance_id: test
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when no pools are configured")
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
pools:
  - name: primary
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when a pool is missing host/max_connections")
	}
}

func TestLoadAppliesRedisDefaultsOnlyWhenAddrSet(t *testing.T) {
	path := writeTempConfig(t, `
redis:
  addr: "localhost:6379"
pools:
  - name: primary
    host: db.internal
    max_connections: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.PoolSize != 20 {
		t.Errorf("Redis.PoolSize = %d, want 20", cfg.Redis.PoolSize)
	}
	if cfg.Redis.DialTimeout != 5*time.Second {
		t.Errorf("Redis.DialTimeout = %v, want 5s", cfg.Redis.DialTimeout)
	}
}

func TestByName(t *testing.T) {
	cfg := &Config{Pools: []PoolTarget{{Name: "a"}, {Name: "b"}}}

	if _, ok := cfg.ByName("a"); !ok {
		t.Fatal("expected to find pool \"a\"")
	}
	if _, ok := cfg.ByName("missing"); ok {
		t.Fatal("did not expect to find pool \"missing\"")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error loading a nonexistent file")
	}
}
