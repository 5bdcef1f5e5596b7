// Package config loads service configuration: defaults, then an optional YAML
// file named by DECKFLOW_CONFIG, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
)

const (
	BackendLocal = "local"
	BackendGCP   = "gcp"
)

type Config struct {
	Backend       string `yaml:"backend"`
	ListenAddr    string `yaml:"listen_addr"`
	SystemVersion string `yaml:"system_version"`

	ProjectID           string `yaml:"project_id"`
	VertexRegion        string `yaml:"vertex_region"`
	Model               string `yaml:"model"`
	FirestoreCollection string `yaml:"firestore_collection"`
	AuditCollection     string `yaml:"audit_collection"`
	ExportBucket        string `yaml:"export_bucket"`
	CacheBucket         string `yaml:"cache_bucket"`
	CachePrefix         string `yaml:"cache_prefix"`
	WorkflowID          string `yaml:"workflow_id"`
	WorkflowLocation    string `yaml:"workflow_location"`

	SQLitePath string `yaml:"sqlite_path"`

	MaxConcurrentDocuments int     `yaml:"max_concurrent_documents"`
	FinishedRetention      int     `yaml:"finished_retention"`
	MaxUploadBytes         int64   `yaml:"max_upload_bytes"`
	LLMRequestsPerSecond   float64 `yaml:"llm_requests_per_second"`
	AuditFallbackCapacity  int     `yaml:"audit_fallback_capacity"`

	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline tunes retries and per-attempt deadlines of the coordinator.
type Pipeline struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	ExtractConcurrency int           `yaml:"extract_concurrency"`
	Timeouts           Timeouts      `yaml:"timeouts"`
}

type Timeouts struct {
	Parse     time.Duration `yaml:"parse"`
	Classify  time.Duration `yaml:"classify"`
	Extract   time.Duration `yaml:"extract"`
	Summarize time.Duration `yaml:"summarize"`
	Score     time.Duration `yaml:"score"`
	Format    time.Duration `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Backend:                BackendLocal,
		ListenAddr:             ":8080",
		SystemVersion:          "1.0.0",
		VertexRegion:           "us-central1",
		Model:                  "gemini-1.5-pro",
		FirestoreCollection:    "decks",
		AuditCollection:        "deck_audit",
		CachePrefix:            "cache",
		WorkflowLocation:       "us-central1",
		SQLitePath:             "data/deckflow.db",
		MaxConcurrentDocuments: 10,
		FinishedRetention:      256,
		MaxUploadBytes:         50 << 20,
		LLMRequestsPerSecond:   5,
		AuditFallbackCapacity:  10000,
		Pipeline: Pipeline{
			MaxAttempts:        3,
			InitialBackoff:     time.Second,
			MaxBackoff:         8 * time.Second,
			ExtractConcurrency: 4,
			Timeouts: Timeouts{
				Parse:     60 * time.Second,
				Classify:  90 * time.Second,
				Extract:   90 * time.Second,
				Summarize: 90 * time.Second,
				Score:     10 * time.Second,
				Format:    10 * time.Second,
			},
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := Default()
	if path := gcp.GetEnv("DECKFLOW_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Backend = gcp.GetEnv("DECKFLOW_BACKEND", c.Backend)
	c.ListenAddr = gcp.GetEnv("LISTEN_ADDR", c.ListenAddr)
	c.SystemVersion = gcp.GetEnv("SYSTEM_VERSION", c.SystemVersion)
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.VertexRegion = gcp.GetEnv("VERTEX_AI_REGION", c.VertexRegion)
	c.Model = gcp.GetEnv("VERTEX_AI_MODEL", c.Model)
	c.FirestoreCollection = gcp.GetEnv("FIRESTORE_COLLECTION", c.FirestoreCollection)
	c.AuditCollection = gcp.GetEnv("AUDIT_COLLECTION", c.AuditCollection)
	c.ExportBucket = gcp.GetEnv("EXPORT_BUCKET", c.ExportBucket)
	c.CacheBucket = gcp.GetEnv("CACHE_BUCKET", c.CacheBucket)
	c.WorkflowID = gcp.GetEnv("WORKFLOW_ID", c.WorkflowID)
	c.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", c.WorkflowLocation)
	c.SQLitePath = gcp.GetEnv("SQLITE_PATH", c.SQLitePath)

	if v := gcp.GetEnv("MAX_CONCURRENT_DOCUMENTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_DOCUMENTS: %w", err)
		}
		c.MaxConcurrentDocuments = n
	}
	if v := gcp.GetEnv("MAX_UPLOAD_BYTES", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v := gcp.GetEnv("LLM_REQUESTS_PER_SECOND", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LLM_REQUESTS_PER_SECOND: %w", err)
		}
		c.LLMRequestsPerSecond = f
	}
	return nil
}

// Validate checks that limits are positive and that the GCP backend has what
// it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the local backend")
		}
	case BackendGCP:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the gcp backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q (use %s or %s)", c.Backend, BackendLocal, BackendGCP)
	}
	if c.MaxConcurrentDocuments <= 0 {
		return fmt.Errorf("max_concurrent_documents must be > 0")
	}
	if c.FinishedRetention <= 0 {
		return fmt.Errorf("finished_retention must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be > 0")
	}
	if c.SystemVersion == "" {
		return fmt.Errorf("system_version is required")
	}
	p := c.Pipeline
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("pipeline backoff must satisfy 0 <= initial_backoff <= max_backoff")
	}
	if p.ExtractConcurrency <= 0 {
		return fmt.Errorf("pipeline.extract_concurrency must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"parse": p.Timeouts.Parse, "classify": p.Timeouts.Classify, "extract": p.Timeouts.Extract,
		"summarize": p.Timeouts.Summarize, "score": p.Timeouts.Score, "format": p.Timeouts.Format,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline.timeouts.%s must be > 0", name)
		}
	}
	return nil
}
