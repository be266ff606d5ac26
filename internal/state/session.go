// Package state holds the session record threaded through a research request.
//
// Every list or scalar field has one documented merge rule and is only
// changed through the named methods below, called by the workflow at the
// join point of a round. Workers never touch a Session directly.
package state

import (
	"strings"

	"github.com/Kocoro-lab/converge/internal/metadata"
)

// Sentinel corpus blocks used when nothing has been gathered yet
const (
	NoInformationYet   = "No information gathered yet."
	NoInformationFinal = "No information gathered to provide a final answer."
)

// CorpusSeparator joins result blocks for reflection and synthesis prompts
const CorpusSeparator = "\n\n---\n\n"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation message
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Upload is a file handed over by the upload ingestion service
type Upload struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Reflection is the verdict of one gap analysis
type Reflection struct {
	IsSufficient bool       `json:"is_sufficient"`
	KnowledgeGap string     `json:"knowledge_gap"`
	FollowUps    []FollowUp `json:"follow_up_queries"`
}

// Session is the request state.
//
// Merge rules:
//
//	Transcript        appendOnly
//	QueryList         overwrite per round
//	FollowUpQueries   overwrite per reflection
//	ExecutedQueries   appendOnly (web queries run so far)
//	WebResults        appendConcat
//	AcademicResults   appendConcat
//	DocumentResults   replaced with the document worker's full list
//	SourcesGathered   appendConcat, filtered once at finalize
//	RoundCount        +1 per reflection
//	RanQueryCount     overwrite with len(ExecutedQueries) per reflection
//	IsSufficient      overwrite
//	KnowledgeGap      overwrite
//	PendingUploads    replaceThenClear
//	TaskKind, DocumentContext, TargetURL, InitialQueryCount,
//	MaxRounds, ReasoningModel: set at entry, read-only
type Session struct {
	Transcript      []Turn            `json:"transcript"`
	QueryList       []string          `json:"query_list,omitempty"`
	FollowUpQueries []FollowUp        `json:"follow_up_queries,omitempty"`
	ExecutedQueries []string          `json:"executed_queries,omitempty"`
	WebResults      []string          `json:"web_results,omitempty"`
	AcademicResults []string          `json:"academic_results,omitempty"`
	DocumentResults []string          `json:"document_results,omitempty"`
	SourcesGathered []metadata.Source `json:"sources_gathered,omitempty"`

	RoundCount    int    `json:"round_count"`
	RanQueryCount int    `json:"ran_query_count"`
	IsSufficient  bool   `json:"is_sufficient"`
	KnowledgeGap  string `json:"knowledge_gap,omitempty"`

	TaskKind        TaskKind `json:"task_kind"`
	DocumentContext string   `json:"document_context,omitempty"`
	TargetURL       string   `json:"target_url,omitempty"`
	PendingUploads  []Upload `json:"pending_uploads,omitempty"`

	InitialQueryCount int    `json:"initial_query_count"`
	MaxRounds         int    `json:"max_rounds"`
	ReasoningModel    string `json:"reasoning_model,omitempty"`
}

// Topic returns the content of the last user turn
func (s *Session) Topic() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleUser {
			return s.Transcript[i].Content
		}
	}
	return ""
}

// History renders the turns before the topic as "User: ..." / "Assistant: ..."
// lines. It is empty for a single-turn conversation.
func (s *Session) History() string {
	last := -1
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleUser {
			last = i
			break
		}
	}
	if last <= 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range s.Transcript[:last] {
		switch t.Role {
		case RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// AppendTurn adds a turn to the transcript
func (s *Session) AppendTurn(role Role, content string) {
	s.Transcript = append(s.Transcript, Turn{Role: role, Content: content})
}

// SetQueryList replaces the planned queries for the current round
func (s *Session) SetQueryList(queries []string) {
	s.QueryList = append([]string(nil), queries...)
}

// MergeWebContribution records one finished web task: its query, its text
// block and the citation records it minted.
func (s *Session) MergeWebContribution(query, text string, sources []metadata.Source) {
	s.ExecutedQueries = append(s.ExecutedQueries, query)
	s.WebResults = append(s.WebResults, text)
	s.SourcesGathered = append(s.SourcesGathered, sources...)
}

// MergeAcademic records one finished academic task
func (s *Session) MergeAcademic(text string) {
	s.AcademicResults = append(s.AcademicResults, text)
}

// MergeDocuments installs the document worker's result list and clears the
// upload queue so the uploads are never processed twice.
func (s *Session) MergeDocuments(results []string) {
	s.DocumentResults = append([]string(nil), results...)
	s.PendingUploads = nil
}

// ApplyReflection records a verdict and advances the round counter
func (s *Session) ApplyReflection(r Reflection) {
	s.RoundCount++
	s.RanQueryCount = len(s.ExecutedQueries)
	s.IsSufficient = r.IsSufficient
	s.KnowledgeGap = r.KnowledgeGap
	s.FollowUpQueries = append([]FollowUp(nil), r.FollowUps...)
}

// UsableFollowUps returns the follow-ups with a non-blank query
func (s *Session) UsableFollowUps() []FollowUp {
	var out []FollowUp
	for _, f := range s.FollowUpQueries {
		if strings.TrimSpace(f.Query) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Corpus returns the non-blank result blocks in web, document, academic order
func (s *Session) Corpus() []string {
	var out []string
	for _, group := range [][]string{s.WebResults, s.DocumentResults, s.AcademicResults} {
		for _, block := range group {
			if strings.TrimSpace(block) != "" {
				out = append(out, block)
			}
		}
	}
	return out
}

// JoinCorpus joins blocks with CorpusSeparator, or returns sentinel when
// there are none.
func JoinCorpus(blocks []string, sentinel string) string {
	if len(blocks) == 0 {
		return sentinel
	}
	return strings.Join(blocks, CorpusSeparator)
}

// ApplyFinal appends the answer, keeps only the filtered sources and clears
// the per-round accumulators.
func (s *Session) ApplyFinal(answer string, kept []metadata.Source) {
	s.AppendTurn(RoleAssistant, answer)
	s.SourcesGathered = append([]metadata.Source(nil), kept...)
	s.ResetRound()
}

// ResetRound clears the per-round accumulators
func (s *Session) ResetRound() {
	s.WebResults = nil
	s.DocumentResults = nil
	s.AcademicResults = nil
	s.QueryList = nil
	s.FollowUpQueries = nil
}
