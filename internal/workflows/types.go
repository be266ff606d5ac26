package workflows

import (
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/state"
)

// ResearchInput represents the input to ResearchWorkflow
type ResearchInput struct {
	// SessionID links requests into one conversation. Prior turns are
	// loaded from the session store when one is configured.
	SessionID string `json:"session_id,omitempty"`

	// Messages is the conversation so far; the last user turn is the topic.
	// Query, when set, is appended as a final user turn.
	Messages []state.Turn `json:"messages,omitempty"`
	Query    string       `json:"query,omitempty"`

	// TaskKind is "research" (default), "document_qa" or "url_summary"
	TaskKind        string         `json:"task_kind,omitempty"`
	DocumentContext string         `json:"document_context,omitempty"`
	TargetURL       string         `json:"target_url,omitempty"`
	Uploads         []state.Upload `json:"uploads,omitempty"`

	// Per-request overrides; zero uses the configured value
	InitialQueryCount int    `json:"initial_query_count,omitempty"`
	MaxRounds         int    `json:"max_rounds,omitempty"`
	ReasoningModel    string `json:"reasoning_model,omitempty"`
}

// ResearchResult represents the result of ResearchWorkflow
type ResearchResult struct {
	Answer     string            `json:"answer"`
	Sources    []metadata.Source `json:"sources,omitempty"`
	Path       string            `json:"path"`
	Rounds     int               `json:"rounds"`
	QueriesRun int               `json:"queries_run"`
	// Diagnostic explains a router fallback or a degraded answer
	Diagnostic string       `json:"diagnostic,omitempty"`
	Transcript []state.Turn `json:"transcript"`
	TokensUsed int          `json:"tokens_used"`
}

// Progress is returned by the QueryResearchProgress query handler
type Progress struct {
	Phase        string `json:"phase"`
	Path         string `json:"path,omitempty"`
	Round        int    `json:"round"`
	MaxRounds    int    `json:"max_rounds"`
	QueriesRun   int    `json:"queries_run"`
	IsSufficient bool   `json:"is_sufficient"`
	KnowledgeGap string `json:"knowledge_gap,omitempty"`
}

// QueryResearchProgress is the query handler name exposing Progress
const QueryResearchProgress = "research_progress_v1"

// Phases reported through Progress
const (
	PhaseStarting   = "starting"
	PhaseRouting    = "routing"
	PhasePlanning   = "planning"
	PhaseGathering  = "gathering"
	PhaseReflecting = "reflecting"
	PhaseFinalizing = "finalizing"
	PhaseAnswering  = "answering"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
)
