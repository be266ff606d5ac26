package activities

import (
	"time"

	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
)

// ResearchConfig is the snapshot of knobs a workflow reads once at start
type ResearchConfig struct {
	InitialQueryCount    int    `json:"initial_query_count"`
	MaxRounds            int    `json:"max_rounds"`
	AcademicMaxResults   int    `json:"academic_max_results"`
	MaxConcurrentWorkers int    `json:"max_concurrent_workers"`
	QueryModel           string `json:"query_model"`
	WebModel             string `json:"web_model"`
	ReflectionModel      string `json:"reflection_model"`
	AnswerModel          string `json:"answer_model"`
}

type PlanQueriesInput struct {
	Topic   string `json:"topic"`
	History string `json:"history,omitempty"`
	Count   int    `json:"count"`
	Model   string `json:"model,omitempty"`
}

type PlanQueriesResult struct {
	Queries    []string `json:"queries"`
	Rationale  string   `json:"rationale,omitempty"`
	TokensUsed int      `json:"tokens_used"`
}

// WebResearchInput is one dispatched web task. ID scopes its short codes.
type WebResearchInput struct {
	Query string `json:"query"`
	ID    int    `json:"id"`
	Model string `json:"model,omitempty"`
}

type WebResearchResult struct {
	ID         int               `json:"id"`
	Query      string            `json:"query"`
	Text       string            `json:"text"`
	Sources    []metadata.Source `json:"sources,omitempty"`
	Failed     bool              `json:"failed,omitempty"`
	TokensUsed int               `json:"tokens_used"`
}

type AcademicResearchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type AcademicResearchResult struct {
	Query  string `json:"query"`
	Text   string `json:"text"`
	Papers int    `json:"papers"`
	Failed bool   `json:"failed,omitempty"`
}

// DocumentResearchInput carries the upload queue and the document results
// gathered so far. The result replaces the session's document list.
type DocumentResearchInput struct {
	Uploads  []state.Upload `json:"uploads"`
	Existing []string       `json:"existing,omitempty"`
}

type DocumentResearchResult struct {
	Results   []string `json:"results"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
}

type ReflectInput struct {
	Topic   string   `json:"topic"`
	History string   `json:"history,omitempty"`
	Corpus  []string `json:"corpus"`
	Model   string   `json:"model,omitempty"`
}

type ReflectResult struct {
	Reflection state.Reflection `json:"reflection"`
	TokensUsed int              `json:"tokens_used"`
}

type FinalizeInput struct {
	Topic   string            `json:"topic"`
	History string            `json:"history,omitempty"`
	Corpus  []string          `json:"corpus"`
	Sources []metadata.Source `json:"sources,omitempty"`
	Model   string            `json:"model,omitempty"`
}

type FinalizeResult struct {
	Answer     string            `json:"answer"`
	Sources    []metadata.Source `json:"sources,omitempty"`
	Dropped    int               `json:"dropped"`
	TokensUsed int               `json:"tokens_used"`
}

type AnswerFromDocumentInput struct {
	Question string `json:"question"`
	Document string `json:"document"`
	Model    string `json:"model,omitempty"`
}

type SummarizeURLInput struct {
	URL   string `json:"url"`
	Model string `json:"model,omitempty"`
}

// AnswerResult is the output of the single-shot paths
type AnswerResult struct {
	Answer     string `json:"answer"`
	TokensUsed int    `json:"tokens_used"`
	// Degraded is set when the answer is an inline error message
	Degraded bool `json:"degraded,omitempty"`
}

type LoadTranscriptInput struct {
	SessionID string `json:"session_id"`
}

type SaveTranscriptInput struct {
	SessionID  string       `json:"session_id"`
	Transcript []state.Turn `json:"transcript"`
}

// RecordRunInput summarizes a finished request for the run history
type RecordRunInput struct {
	WorkflowID   string    `json:"workflow_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Path         string    `json:"path"`
	Query        string    `json:"query"`
	Status       string    `json:"status"`
	Rounds       int       `json:"rounds"`
	QueriesRun   int       `json:"queries_run"`
	SourcesKept  int       `json:"sources_kept"`
	Answer       string    `json:"answer,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TokensUsed   int       `json:"tokens_used"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

type EmitProgressInput struct {
	WorkflowID string          `json:"workflow_id"`
	Event      streaming.Event `json:"event"`
}
