// Package activities holds the Temporal activities of the research workflow.
// Every collaborator is injected through Deps so tests can replace it.
package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/academic"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/documents"
	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/webpage"
)

// ConfigSource returns the live configuration. *config.Manager implements it.
type ConfigSource interface {
	Current() *config.Config
}

// PageFetcher retrieves readable page text. *webpage.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*webpage.Page, error)
}

// TranscriptStore persists conversation history. *session.Manager implements it.
type TranscriptStore interface {
	LoadHistory(ctx context.Context, sessionID string) ([]state.Turn, error)
	SaveHistory(ctx context.Context, sessionID string, history []state.Turn) error
}

// RunRecorder persists run history. *db.Client implements it.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *db.ResearchRun) error
}

// Deps are the collaborators of the activities. Sessions, Runs and Events
// are optional; the matching activities are no-ops when they are nil.
type Deps struct {
	Config    ConfigSource
	LLM       llm.Service
	Academic  academic.Searcher
	Extractor documents.Extractor
	Pages     PageFetcher
	Sessions  TranscriptStore
	Runs      RunRecorder
	Events    streaming.Publisher
	Logger    *zap.Logger
}

// Activities struct holds dependencies for activities
type Activities struct {
	config    ConfigSource
	llm       llm.Service
	academic  academic.Searcher
	extractor documents.Extractor
	pages     PageFetcher
	sessions  TranscriptStore
	runs      RunRecorder
	events    streaming.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(deps Deps) *Activities {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		config:    deps.Config,
		llm:       deps.LLM,
		academic:  deps.Academic,
		extractor: deps.Extractor,
		pages:     deps.Pages,
		sessions:  deps.Sessions,
		runs:      deps.Runs,
		events:    deps.Events,
		logger:    logger,
		now:       time.Now,
	}
}

func (a *Activities) cfg() *config.Config {
	if a.config == nil {
		return config.Default()
	}
	if c := a.config.Current(); c != nil {
		return c
	}
	return config.Default()
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	if fallback != "" {
		return fallback
	}
	return config.DefaultModel
}
