// Package config loads and validates process configuration.
//
// Configuration is resolved in three layers:
//  1. Built-in defaults
//  2. A YAML config file (marqo.yaml)
//  3. MARQO_* environment variables (highest priority)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete process configuration.
type Config struct {
	Vespa     VespaConfig     `yaml:"vespa" json:"vespa"`
	Package   PackageConfig   `yaml:"package" json:"package"`
	Inference InferenceConfig `yaml:"inference" json:"inference"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// VespaConfig configures the backend endpoints and call behavior.
type VespaConfig struct {
	// ConfigURL is the Deploy API base URL.
	ConfigURL string `yaml:"config_url" json:"config_url"`
	// DocumentURL is the Document API base URL.
	DocumentURL string `yaml:"document_url" json:"document_url"`
	// QueryURL is the Query API base URL.
	QueryURL string `yaml:"query_url" json:"query_url"`

	// PoolSize is the number of pooled backend connections.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// FeedConcurrency bounds concurrent document feed requests per batch.
	FeedConcurrency int `yaml:"feed_concurrency" json:"feed_concurrency"`

	// FeedTimeout is the per-document feed timeout.
	FeedTimeout time.Duration `yaml:"feed_timeout" json:"feed_timeout"`

	// DeployTimeout bounds a single deploy request.
	DeployTimeout time.Duration `yaml:"deploy_timeout" json:"deploy_timeout"`

	// ConvergenceTimeout bounds the wait for application convergence.
	ConvergenceTimeout time.Duration `yaml:"convergence_timeout" json:"convergence_timeout"`
}

// PackageConfig configures the local application package working directory.
type PackageConfig struct {
	// WorkDir is where the application package is materialized before deploy.
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	// ComponentsDir holds the custom component jars copied on bootstrap.
	ComponentsDir string `yaml:"components_dir" json:"components_dir"`
}

// InferenceConfig configures the model cache surface.
type InferenceConfig struct {
	// MaxCPUModelMemoryGB is the CPU-device model budget in GiB.
	MaxCPUModelMemoryGB float64 `yaml:"max_cpu_model_memory_gb" json:"max_cpu_model_memory_gb"`
	// MaxCUDAModelMemoryGB is the per-CUDA-device model budget in GiB.
	MaxCUDAModelMemoryGB float64 `yaml:"max_cuda_model_memory_gb" json:"max_cuda_model_memory_gb"`
	// VectoriseCacheSize is the number of cached vectorise results.
	VectoriseCacheSize int `yaml:"vectorise_cache_size" json:"vectorise_cache_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Vespa: VespaConfig{
			ConfigURL:          "http://localhost:19071",
			DocumentURL:        "http://localhost:8080",
			QueryURL:           "http://localhost:8080",
			PoolSize:           10,
			FeedConcurrency:    10,
			FeedTimeout:        60 * time.Second,
			DeployTimeout:      60 * time.Second,
			ConvergenceTimeout: 120 * time.Second,
		},
		Package: PackageConfig{
			WorkDir:       "vespa_app",
			ComponentsDir: "vespa/target",
		},
		Inference: InferenceConfig{
			MaxCPUModelMemoryGB:  4,
			MaxCUDAModelMemoryGB: 4,
			VectoriseCacheSize:   1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML file path (optional), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration with MARQO_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MARQO_VESPA_CONFIG_URL"); v != "" {
		c.Vespa.ConfigURL = v
	}
	if v := os.Getenv("MARQO_VESPA_DOCUMENT_URL"); v != "" {
		c.Vespa.DocumentURL = v
	}
	if v := os.Getenv("MARQO_VESPA_QUERY_URL"); v != "" {
		c.Vespa.QueryURL = v
	}
	if v := os.Getenv("MARQO_VESPA_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vespa.PoolSize = n
		}
	}
	if v := os.Getenv("MARQO_FEED_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vespa.FeedConcurrency = n
		}
	}
	if v := os.Getenv("MARQO_MAX_CPU_MODEL_MEMORY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Inference.MaxCPUModelMemoryGB = f
		}
	}
	if v := os.Getenv("MARQO_MAX_CUDA_MODEL_MEMORY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Inference.MaxCUDAModelMemoryGB = f
		}
	}
	if v := os.Getenv("MARQO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Vespa.ConfigURL == "" || c.Vespa.DocumentURL == "" || c.Vespa.QueryURL == "" {
		return fmt.Errorf("vespa config_url, document_url and query_url must be set")
	}
	if c.Vespa.PoolSize <= 0 {
		return fmt.Errorf("vespa pool_size must be positive, got %d", c.Vespa.PoolSize)
	}
	if c.Vespa.FeedConcurrency <= 0 {
		return fmt.Errorf("vespa feed_concurrency must be positive, got %d", c.Vespa.FeedConcurrency)
	}
	if c.Package.WorkDir == "" {
		return fmt.Errorf("package work_dir must be set")
	}
	return nil
}
