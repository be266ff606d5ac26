// Package routing decides which path a request takes and when the
// convergence loop stops. Everything here is a pure function of its inputs
// so it can run inside workflow code.
package routing

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/converge/internal/state"
)

// Path is the destination chosen by the router
type Path int

const (
	PathResearch Path = iota
	PathDocumentQA
	PathURLSummary
)

func (p Path) String() string {
	switch p {
	case PathDocumentQA:
		return "document_qa"
	case PathURLSummary:
		return "url_summary"
	default:
		return "research"
	}
}

// Decision is the router output. Diagnostic is set when the requested kind
// could not be honored and the request fell back to research.
type Decision struct {
	Path       Path
	Diagnostic string
}

// Fallback reports whether the router redirected the request
func (d Decision) Fallback() bool { return d.Diagnostic != "" }

// Route picks the path for kind. A kind whose companion field is blank falls
// back to research; Route never fails.
func Route(kind state.TaskKind, documentContext, targetURL string) Decision {
	switch kind {
	case state.TaskDocumentQA:
		if strings.TrimSpace(documentContext) != "" {
			return Decision{Path: PathDocumentQA}
		}
		return Decision{
			Path:       PathResearch,
			Diagnostic: fmt.Sprintf("task kind %s requires a document context; falling back to research", kind),
		}
	case state.TaskURLSummary:
		if strings.TrimSpace(targetURL) != "" {
			return Decision{Path: PathURLSummary}
		}
		return Decision{
			Path:       PathResearch,
			Diagnostic: fmt.Sprintf("task kind %s requires a target url; falling back to research", kind),
		}
	default:
		return Decision{Path: PathResearch}
	}
}

// Step is the decision taken after each reflection
type Step int

const (
	StepFinalize Step = iota
	StepFollowUp
)

func (s Step) String() string {
	if s == StepFollowUp {
		return "follow_up"
	}
	return "finalize"
}

// NextStep finalizes when the last verdict was sufficient or the round
// budget is spent. Otherwise it continues only if at least one follow-up has
// a non-blank query; an insufficient verdict with nothing to run finalizes.
func NextStep(s *state.Session) Step {
	if s.IsSufficient || s.RoundCount >= s.MaxRounds {
		return StepFinalize
	}
	if len(s.UsableFollowUps()) > 0 {
		return StepFollowUp
	}
	return StepFinalize
}
