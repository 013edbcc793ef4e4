// Package config loads and validates pool configuration from YAML files,
// mirroring the teacher repo's internal/config package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds the optional distributed-observer configuration. Zero
// value (empty Addr) means the coordinator is disabled entirely.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	PoolSize          int           `yaml:"pool_size"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
}

// ServerConfig holds process-level configuration: instance identity and
// the HTTP surfaces cmd/poolsrv exposes.
type ServerConfig struct {
	InstanceID      string `yaml:"instance_id"`
	HealthCheckPort int    `yaml:"health_check_port"`
	MetricsPort     int    `yaml:"metrics_port"`
}

// PoolTarget is one configured pool: where it connects, and its policy
// knobs, mapping 1:1 onto the recognized options in spec.md §6. Field
// names follow the teacher's pkg/bucket.Bucket, generalized beyond a
// single "bucket" to any named target database.
type PoolTarget struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MaximumPoolSize int `yaml:"max_connections"`
	MinimumIdle     int `yaml:"min_idle"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"`
	ValidationTimeout time.Duration `yaml:"validation_timeout"`

	ConnectionTestQuery    string `yaml:"connection_test_query"`
	IsolateInternalQueries bool   `yaml:"isolate_internal_queries"`

	HousekeeperPeriod time.Duration `yaml:"housekeeper_period"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Pools  []PoolTarget `yaml:"pools"`
}

type fileConfig struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Pools  []PoolTarget `yaml:"pools"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := &Config{Server: fc.Server, Redis: fc.Redis, Pools: fc.Pools}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	for i, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("pools[%d].name is required", i)
		}
		if p.Host == "" {
			return fmt.Errorf("pools[%d].host is required", i)
		}
		if p.MaximumPoolSize == 0 {
			return fmt.Errorf("pools[%d].max_connections is required", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.HealthCheckPort == 0 {
		c.Server.HealthCheckPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.Server.InstanceID = hostname
	}
	if c.Redis.Addr != "" {
		if c.Redis.PoolSize == 0 {
			c.Redis.PoolSize = 20
		}
		if c.Redis.DialTimeout == 0 {
			c.Redis.DialTimeout = 5 * time.Second
		}
		if c.Redis.ReadTimeout == 0 {
			c.Redis.ReadTimeout = 3 * time.Second
		}
		if c.Redis.WriteTimeout == 0 {
			c.Redis.WriteTimeout = 3 * time.Second
		}
		if c.Redis.HeartbeatInterval == 0 {
			c.Redis.HeartbeatInterval = 10 * time.Second
		}
		if c.Redis.HeartbeatTTL == 0 {
			c.Redis.HeartbeatTTL = 30 * time.Second
		}
	}

	for i := range c.Pools {
		if c.Pools[i].ConnectionTimeout == 0 {
			c.Pools[i].ConnectionTimeout = 30 * time.Second
		}
		if c.Pools[i].ValidationTimeout == 0 {
			c.Pools[i].ValidationTimeout = 5 * time.Second
		}
		if c.Pools[i].HousekeeperPeriod == 0 {
			c.Pools[i].HousekeeperPeriod = 30 * time.Second
		}
		if c.Pools[i].ConnectionTestQuery == "" {
			c.Pools[i].ConnectionTestQuery = "SELECT 1"
		}
	}
}

// ByName returns the pool target with the given name.
func (c *Config) ByName(name string) (*PoolTarget, bool) {
	for i := range c.Pools {
		if c.Pools[i].Name == name {
			return &c.Pools[i], true
		}
	}
	return nil, false
}
