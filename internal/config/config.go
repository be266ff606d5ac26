package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/converge/internal/tracing"
)

// DefaultModel is used for every step unless overridden
const DefaultModel = "gemini-2.0-flash"

// Config is the worker configuration loaded from converge.yaml and env
type Config struct {
	Research      ResearchConfig      `mapstructure:"research"`
	Models        ModelsConfig        `mapstructure:"models"`
	Temperatures  TemperatureConfig   `mapstructure:"temperatures"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Academic      AcademicConfig      `mapstructure:"academic"`
	Documents     DocumentsConfig     `mapstructure:"documents"`
	Webpage       WebpageConfig       `mapstructure:"webpage"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
}

// ResearchConfig holds the convergence loop knobs
type ResearchConfig struct {
	InitialQueryCount    int `mapstructure:"initial_query_count"`
	MaxRounds            int `mapstructure:"max_rounds"`
	AcademicMaxResults   int `mapstructure:"academic_max_results"`
	MaxConcurrentWorkers int `mapstructure:"max_concurrent_workers"`
}

// ModelsConfig names the model used by each step
type ModelsConfig struct {
	Query      string `mapstructure:"query"`
	Web        string `mapstructure:"web"`
	Reflection string `mapstructure:"reflection"`
	Answer     string `mapstructure:"answer"`
}

type TemperatureConfig struct {
	Planner    float32 `mapstructure:"planner"`
	Web        float32 `mapstructure:"web"`
	Reflection float32 `mapstructure:"reflection"`
	Answer     float32 `mapstructure:"answer"`
	URLSummary float32 `mapstructure:"url_summary"`
}

type LLMConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Pricing    PricingConfig `mapstructure:"pricing"`
}

// PricingConfig prices model usage in USD per 1K tokens. Models is a list
// because model names contain dots, which viper treats as key separators.
type PricingConfig struct {
	DefaultPer1K float64      `mapstructure:"default_per_1k"`
	Models       []ModelPrice `mapstructure:"models"`
}

type ModelPrice struct {
	Name          string  `mapstructure:"name"`
	InputPer1K    float64 `mapstructure:"input_per_1k"`
	OutputPer1K   float64 `mapstructure:"output_per_1k"`
	CombinedPer1K float64 `mapstructure:"combined_per_1k"`
}

type AcademicConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// DocumentsConfig selects the extractor: "local" parses files in-process,
// "documentai" sends them to Google Document AI.
type DocumentsConfig struct {
	Extractor   string `mapstructure:"extractor"`
	ProjectID   string `mapstructure:"project_id"`
	Location    string `mapstructure:"location"`
	ProcessorID string `mapstructure:"processor_id"`
	MaxParallel int    `mapstructure:"max_parallel"`
}

type WebpageConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	MaxChars int           `mapstructure:"max_chars"`
	// AllowPrivateNetworks lets URL summaries reach loopback, private and
	// link-local addresses. Off by default; target URLs come from callers.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
}

type PostgresConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type ObservabilityConfig struct {
	AdminPort int    `mapstructure:"admin_port"`
	LogLevel  string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("research.initial_query_count", 3)
	v.SetDefault("research.max_rounds", 2)
	v.SetDefault("research.academic_max_results", 3)
	v.SetDefault("research.max_concurrent_workers", 8)

	v.SetDefault("models.query", DefaultModel)
	v.SetDefault("models.web", DefaultModel)
	v.SetDefault("models.reflection", DefaultModel)
	v.SetDefault("models.answer", DefaultModel)

	v.SetDefault("temperatures.planner", 1.0)
	v.SetDefault("temperatures.web", 0.0)
	v.SetDefault("temperatures.reflection", 1.0)
	v.SetDefault("temperatures.answer", 0.0)
	v.SetDefault("temperatures.url_summary", 0.7)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.pricing.default_per_1k", 0.0004)
	v.SetDefault("llm.pricing.models", []map[string]interface{}{
		{"name": "gemini-2.0-flash", "input_per_1k": 0.0001, "output_per_1k": 0.0004},
		{"name": "gemini-2.5-flash", "input_per_1k": 0.0003, "output_per_1k": 0.0025},
		{"name": "gemini-2.5-pro", "input_per_1k": 0.00125, "output_per_1k": 0.01},
	})

	v.SetDefault("academic.base_url", "http://export.arxiv.org/api/query")
	v.SetDefault("academic.requests_per_second", 0.34)
	v.SetDefault("academic.timeout", "30s")

	v.SetDefault("documents.extractor", "local")
	v.SetDefault("documents.project_id", "")
	v.SetDefault("documents.location", "us")
	v.SetDefault("documents.processor_id", "")
	v.SetDefault("documents.max_parallel", 4)

	v.SetDefault("webpage.timeout", "20s")
	v.SetDefault("webpage.max_bytes", 5<<20)
	v.SetDefault("webpage.max_chars", 20000)
	v.SetDefault("webpage.allow_private_networks", false)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "converge-research")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", "720h")
	v.SetDefault("redis.stream_max_len", 1000)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)

	v.SetDefault("observability.admin_port", 2112)
	v.SetDefault("observability.log_level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "converge-worker")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// newViper builds a viper instance with defaults, env binding and the
// config file wired in. Without an explicit path a missing default file is
// not an error.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONVERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "CONVERGE_LLM_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONVERGE_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config/converge.yaml"); err == nil {
			path = "config/converge.yaml"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from path, CONVERGE_CONFIG or config/converge.yaml
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Default returns the built-in defaults without reading files or env
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in config defaults: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the workflow cannot run with
func (c *Config) Validate() error {
	if c.Research.InitialQueryCount < 1 {
		return fmt.Errorf("research.initial_query_count must be >= 1, got %d", c.Research.InitialQueryCount)
	}
	if c.Research.MaxRounds < 1 {
		return fmt.Errorf("research.max_rounds must be >= 1, got %d", c.Research.MaxRounds)
	}
	if c.Research.MaxConcurrentWorkers < 1 {
		return fmt.Errorf("research.max_concurrent_workers must be >= 1, got %d", c.Research.MaxConcurrentWorkers)
	}
	if c.Research.AcademicMaxResults < 1 {
		return fmt.Errorf("research.academic_max_results must be >= 1, got %d", c.Research.AcademicMaxResults)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}
	if err := c.LLM.Pricing.Validate(); err != nil {
		return err
	}
	switch c.Documents.Extractor {
	case "local":
	case "documentai":
		if c.Documents.ProjectID == "" || c.Documents.ProcessorID == "" {
			return fmt.Errorf("documents.extractor=documentai requires project_id and processor_id")
		}
	default:
		return fmt.Errorf("unknown documents.extractor %q", c.Documents.Extractor)
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.enabled requires postgres.dsn")
	}
	return nil
}

// Validate rejects negative prices and unnamed model entries
func (p PricingConfig) Validate() error {
	if p.DefaultPer1K < 0 {
		return fmt.Errorf("llm.pricing.default_per_1k must be >= 0")
	}
	for i, m := range p.Models {
		if m.Name == "" {
			return fmt.Errorf("llm.pricing.models[%d]: name is required", i)
		}
		if m.InputPer1K < 0 || m.OutputPer1K < 0 || m.CombinedPer1K < 0 {
			return fmt.Errorf("llm.pricing.models[%d]: negative price for %s", i, m.Name)
		}
	}
	return nil
}
