package state

import "strings"

// TaskKind classifies a request
type TaskKind int

const (
	TaskResearch TaskKind = iota
	TaskDocumentQA
	TaskURLSummary
)

func (k TaskKind) String() string {
	switch k {
	case TaskDocumentQA:
		return "document_qa"
	case TaskURLSummary:
		return "url_summary"
	default:
		return "research"
	}
}

// ParseTaskKind maps a request's task type to a TaskKind. Unknown or empty
// values are research. "codebase_qa" is accepted as a document Q&A alias.
func ParseTaskKind(s string) TaskKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document_qa", "codebase_qa", "doc_qa":
		return TaskDocumentQA
	case "url_summary":
		return TaskURLSummary
	default:
		return TaskResearch
	}
}

// FollowUpKind selects the worker a follow-up query goes to
type FollowUpKind string

const (
	FollowUpWeb      FollowUpKind = "web"
	FollowUpAcademic FollowUpKind = "academic"
)

// ParseFollowUpKind maps a reflection "type" value to a worker kind.
// "arxiv" and "academic" go to the academic worker, everything else is web.
func ParseFollowUpKind(s string) FollowUpKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arxiv", "academic":
		return FollowUpAcademic
	default:
		return FollowUpWeb
	}
}

// FollowUp is one query proposed by reflection
type FollowUp struct {
	Kind  FollowUpKind `json:"type"`
	Query string       `json:"query"`
}
