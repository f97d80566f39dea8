/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the coordination core's
// deployment configuration. Precedence (spec.md §6): per-call request
// options > per-deployment YAML > environment defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	APIPort     string `yaml:"api_port"`
	MetricsPort string `yaml:"metrics_port"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // redis | postgres | memory
	RedisAddr   string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type StrategyConfig struct {
	Default             string        `yaml:"default"`
	PerExtractorTimeout time.Duration `yaml:"per_extractor_timeout"`
	JobTimeout          time.Duration `yaml:"job_timeout"`
	MaxParallel         int           `yaml:"max_parallel"`
}

type ResourceGateConfig struct {
	MemoryFloorPct float64 `yaml:"memory_floor_pct"`
}

type WebhookConfig struct {
	RetryDelays []time.Duration `yaml:"retry_delays"`
	MaxAttempts int             `yaml:"max_attempts"`
}

type RetentionConfig struct {
	SuccessDays int `yaml:"success_days"`
	FailedDays  int `yaml:"failed_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ComparatorConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	AutoMergeThreshold  float64 `yaml:"auto_merge_threshold"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Strategy     StrategyConfig     `yaml:"strategy"`
	ResourceGate ResourceGateConfig `yaml:"resource_gate"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Retention    RetentionConfig    `yaml:"retention"`
	Comparator   ComparatorConfig   `yaml:"comparator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Load reads and parses the YAML config at path, applies defaults for
// anything the file omits, then lets environment variables override
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(config)

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIPort:     "8080",
			MetricsPort: "9090",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Strategy: StrategyConfig{
			Default:             "fallback",
			PerExtractorTimeout: 300 * time.Second,
			JobTimeout:          600 * time.Second,
			MaxParallel:         3,
		},
		ResourceGate: ResourceGateConfig{
			MemoryFloorPct: 0.25,
		},
		Webhook: WebhookConfig{
			RetryDelays: []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
			MaxAttempts: 3,
		},
		Retention: RetentionConfig{
			SuccessDays: 7,
			FailedDays:  30,
		},
		Comparator: ComparatorConfig{
			SimilarityThreshold: 0.90,
			AutoMergeThreshold:  0.95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyDefaults fills in zero-valued fields that a minimal config file
// may have left unset after unmarshalling over the defaults (YAML
// unmarshal only overwrites keys present in the document, so this
// mainly guards against an explicit empty value, e.g. `max_parallel: 0`
// meaning "unset" in an older config).
func applyDefaults(c *Config) {
	if c.Strategy.MaxParallel == 0 {
		c.Strategy.MaxParallel = 3
	}
	if c.Strategy.Default == "" {
		c.Strategy.Default = "fallback"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if len(c.Webhook.RetryDelays) == 0 {
		c.Webhook.RetryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	if c.Webhook.MaxAttempts == 0 {
		c.Webhook.MaxAttempts = 3
	}
}

func loadFromEnv(c *Config) error {
	if v := os.Getenv("DOCFUSION_API_PORT"); v != "" {
		c.Server.APIPort = v
	}
	if v := os.Getenv("DOCFUSION_METRICS_PORT"); v != "" {
		c.Server.MetricsPort = v
	}
	if v := os.Getenv("DOCFUSION_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("DOCFUSION_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("DOCFUSION_STRATEGY"); v != "" {
		c.Strategy.Default = v
	}
	if v := os.Getenv("DOCFUSION_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCFUSION_MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOCFUSION_MAX_PARALLEL: %w", err)
		}
		c.Strategy.MaxParallel = n
	}
	return nil
}

var validStrategies = map[string]bool{
	"fallback":      true,
	"parallel_local": true,
	"parallel_all":  true,
	"hybrid":        true,
}

var validStoreBackends = map[string]bool{
	"memory":   true,
	"redis":    true,
	"postgres": true,
}

func validate(c *Config) error {
	if !validStrategies[c.Strategy.Default] {
		return fmt.Errorf("unsupported default strategy: %s", c.Strategy.Default)
	}
	if !validStoreBackends[c.Store.Backend] {
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required when store backend is redis")
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when store backend is postgres")
	}
	if c.Strategy.MaxParallel <= 0 {
		return fmt.Errorf("max_parallel must be greater than 0")
	}
	if c.ResourceGate.MemoryFloorPct < 0 || c.ResourceGate.MemoryFloorPct > 1 {
		return fmt.Errorf("resource_gate.memory_floor_pct must be between 0.0 and 1.0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be greater than 0")
	}
	if c.Comparator.SimilarityThreshold < 0 || c.Comparator.SimilarityThreshold > 1 {
		return fmt.Errorf("comparator.similarity_threshold must be between 0.0 and 1.0")
	}
	if c.Comparator.AutoMergeThreshold < c.Comparator.SimilarityThreshold {
		return fmt.Errorf("comparator.auto_merge_threshold must be >= similarity_threshold")
	}
	return nil
}
