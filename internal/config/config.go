// Package config loads service configuration from the environment. All
// recognized keys are flat, upper-snake-case environment variables; unset
// keys fall back to defaults suitable for local development.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration of the service process.
type Config struct {
	Host string
	Port int

	RegistryEnabled bool
	RegistryHost    string

	ServiceName    string
	ServiceVersion string
	InstanceID     string

	HealthCheckInterval string
	HealthCheckTimeout  string

	GlobalMaxWorkers int
	GlobalQueueSize  int
	KillTree         bool
	KillGraceS       float64

	// AlgoModules is the comma-separated list of algorithm module names
	// whose registered providers are loaded into the spec registry at
	// startup. Empty means every linked-in provider.
	AlgoModules []string

	AdminEnabled bool

	CORS CORSConfig
}

// CORSConfig is the optional cross-origin policy applied by the HTTP layer.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Addr returns the HTTP bind address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Load reads configuration from the process environment.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Config{
		Host:                stringOr(k, "SERVICE_HOST", "0.0.0.0"),
		Port:                intOr(k, "SERVICE_PORT", 8080),
		RegistryEnabled:     boolOr(k, "SERVICE_REGISTRY_ENABLED", false),
		RegistryHost:        stringOr(k, "SERVICE_REGISTRY_HOST", "localhost:6379"),
		ServiceName:         stringOr(k, "SERVICE_NAME", "algorithm-service"),
		ServiceVersion:      stringOr(k, "SERVICE_VERSION", "dev"),
		InstanceID:          stringOr(k, "SERVICE_INSTANCE_ID", ""),
		HealthCheckInterval: stringOr(k, "HEALTH_CHECK_INTERVAL", "10s"),
		HealthCheckTimeout:  stringOr(k, "HEALTH_CHECK_TIMEOUT", "5s"),
		GlobalMaxWorkers:    intOr(k, "EXECUTOR_GLOBAL_MAX_WORKERS", 4),
		GlobalQueueSize:     intOr(k, "EXECUTOR_GLOBAL_QUEUE_SIZE", 0),
		KillTree:            boolOr(k, "EXECUTOR_KILL_TREE", true),
		KillGraceS:          floatOr(k, "EXECUTOR_KILL_GRACE_S", 3),
		AlgoModules:         splitList(k.String("ALGO_MODULES")),
		AdminEnabled:        boolOr(k, "SERVICE_ADMIN_ENABLED", false),
		CORS: CORSConfig{
			Enabled:        boolOr(k, "CORS_ENABLED", false),
			AllowedOrigins: splitList(stringOr(k, "CORS_ALLOWED_ORIGINS", "*")),
			AllowedMethods: splitList(stringOr(k, "CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: splitList(stringOr(k, "CORS_ALLOWED_HEADERS", "Content-Type,Authorization")),
		},
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("SERVICE_PORT %d out of range", cfg.Port)
	}
	if cfg.GlobalMaxWorkers <= 0 {
		return Config{}, fmt.Errorf("EXECUTOR_GLOBAL_MAX_WORKERS must be positive, got %d", cfg.GlobalMaxWorkers)
	}
	if cfg.KillGraceS < 0 {
		return Config{}, fmt.Errorf("EXECUTOR_KILL_GRACE_S must be >= 0, got %v", cfg.KillGraceS)
	}
	return cfg, nil
}

func stringOr(k *koanf.Koanf, key, def string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return def
}

func intOr(k *koanf.Koanf, key string, def int) int {
	if !k.Exists(key) || k.String(key) == "" {
		return def
	}
	return k.Int(key)
}

func boolOr(k *koanf.Koanf, key string, def bool) bool {
	if !k.Exists(key) || k.String(key) == "" {
		return def
	}
	return k.Bool(key)
}

func floatOr(k *koanf.Koanf, key string, def float64) float64 {
	if !k.Exists(key) || k.String(key) == "" {
		return def
	}
	return k.Float64(key)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
