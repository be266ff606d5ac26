package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONVERGE_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Research.InitialQueryCount)
	assert.Equal(t, 2, cfg.Research.MaxRounds)
	assert.Equal(t, 3, cfg.Research.AcademicMaxResults)
	assert.Equal(t, 8, cfg.Research.MaxConcurrentWorkers)
	assert.Equal(t, DefaultModel, cfg.Models.Query)
	assert.Equal(t, DefaultModel, cfg.Models.Answer)
	assert.Equal(t, float32(1.0), cfg.Temperatures.Planner)
	assert.Equal(t, float32(0), cfg.Temperatures.Web)
	assert.Equal(t, float32(0.7), cfg.Temperatures.URLSummary)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "local", cfg.Documents.Extractor)
	assert.Equal(t, "converge-research", cfg.Temporal.TaskQueue)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.Redis.SessionTTL)
}

func TestDefaultIgnoresEnv(t *testing.T) {
	t.Setenv("CONVERGE_RESEARCH_MAX_ROUNDS", "9")

	cfg := Default()
	assert.Equal(t, 2, cfg.Research.MaxRounds)
	assert.Equal(t, float32(1.0), cfg.Temperatures.Reflection)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
research:
  initial_query_count: 5
  max_rounds: 4
models:
  answer: gemini-2.5-pro
redis:
  enabled: true
  addr: redis:6379
`)
	t.Setenv("CONVERGE_RESEARCH_MAX_ROUNDS", "6")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Research.InitialQueryCount)
	assert.Equal(t, 6, cfg.Research.MaxRounds)
	assert.Equal(t, "gemini-2.5-pro", cfg.Models.Answer)
	assert.Equal(t, DefaultModel, cfg.Models.Web)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "zero rounds",
			body:    "research:\n  max_rounds: 0\n",
			wantErr: "research.max_rounds",
		},
		{
			name:    "zero queries",
			body:    "research:\n  initial_query_count: 0\n",
			wantErr: "research.initial_query_count",
		},
		{
			name:    "documentai without processor",
			body:    "documents:\n  extractor: documentai\n  project_id: p\n",
			wantErr: "requires project_id and processor_id",
		},
		{
			name:    "unknown extractor",
			body:    "documents:\n  extractor: ocr\n",
			wantErr: "unknown documents.extractor",
		},
		{
			name:    "postgres without dsn",
			body:    "postgres:\n  enabled: true\n",
			wantErr: "postgres.dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "research:\n  max_rounds: 2\n")
	m, err := NewManager(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Current().Research.MaxRounds)

	var seen *Config
	m.OnChange(func(c *Config) { seen = c })

	require.NoError(t, os.WriteFile(path, []byte("research:\n  max_rounds: 5\n"), 0o644))
	require.NoError(t, m.v.ReadInConfig())
	m.reload(path)

	assert.Equal(t, 5, m.Current().Research.MaxRounds)
	require.NotNil(t, seen)
	assert.Equal(t, 5, seen.Research.MaxRounds)

	// an invalid edit keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("research:\n  max_rounds: 0\n"), 0o644))
	require.NoError(t, m.v.ReadInConfig())
	m.reload(path)
	assert.Equal(t, 5, m.Current().Research.MaxRounds)
}

func TestPricingDefaultsAndFile(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.LLM.Pricing.Models)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Pricing.Models[0].Name)

	path := writeConfig(t, `
llm:
  pricing:
    default_per_1k: 0.001
    models:
      - name: gemini-2.5-pro
        input_per_1k: 0.00125
        output_per_1k: 0.01
`)
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.LLM.Pricing.Models, 1)
	assert.Equal(t, "gemini-2.5-pro", loaded.LLM.Pricing.Models[0].Name)
	assert.InDelta(t, 0.01, loaded.LLM.Pricing.Models[0].OutputPer1K, 1e-12)
	assert.InDelta(t, 0.001, loaded.LLM.Pricing.DefaultPer1K, 1e-12)
}

func TestPricingValidate(t *testing.T) {
	assert.Error(t, PricingConfig{DefaultPer1K: -1}.Validate())
	assert.Error(t, PricingConfig{Models: []ModelPrice{{InputPer1K: 1}}}.Validate())
	assert.Error(t, PricingConfig{Models: []ModelPrice{{Name: "m", OutputPer1K: -0.1}}}.Validate())
	assert.NoError(t, PricingConfig{Models: []ModelPrice{{Name: "m", CombinedPer1K: 0.2}}}.Validate())
}

func TestManagerSetLoggerRoutesReloadLogs(t *testing.T) {
	path := writeConfig(t, "research:\n  max_rounds: 2\n")
	initialCore, initial := observer.New(zapcore.DebugLevel)
	m, err := NewManager(path, zap.New(initialCore))
	require.NoError(t, err)

	replacedCore, replaced := observer.New(zapcore.DebugLevel)
	m.SetLogger(zap.New(replacedCore))
	m.SetLogger(nil)

	require.NoError(t, os.WriteFile(path, []byte("research:\n  max_rounds: 3\n"), 0o644))
	require.NoError(t, m.v.ReadInConfig())
	m.reload(path)

	assert.Equal(t, 0, initial.Len())
	require.Equal(t, 1, replaced.FilterMessage("Config reloaded").Len())
}
