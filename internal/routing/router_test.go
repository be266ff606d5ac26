package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kocoro-lab/converge/internal/state"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		kind     state.TaskKind
		docCtx   string
		url      string
		want     Path
		fallback bool
	}{
		{"research", state.TaskResearch, "", "", PathResearch, false},
		{"research ignores companions", state.TaskResearch, "ctx", "https://x", PathResearch, false},
		{"document qa", state.TaskDocumentQA, "func main() {}", "", PathDocumentQA, false},
		{"document qa without context", state.TaskDocumentQA, "   ", "", PathResearch, true},
		{"url summary", state.TaskURLSummary, "", "https://go.dev", PathURLSummary, false},
		{"url summary without url", state.TaskURLSummary, "ctx", "", PathResearch, true},
		{"unknown parses to research", state.ParseTaskKind("translate"), "", "", PathResearch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(tt.kind, tt.docCtx, tt.url)
			assert.Equal(t, tt.want, d.Path)
			assert.Equal(t, tt.fallback, d.Fallback())
		})
	}
}

func TestNextStep(t *testing.T) {
	web := []state.FollowUp{{Kind: state.FollowUpWeb, Query: "C"}}
	blank := []state.FollowUp{{Kind: state.FollowUpWeb, Query: ""}, {Kind: state.FollowUpAcademic, Query: "  "}}

	tests := []struct {
		name    string
		session state.Session
		want    Step
	}{
		{"sufficient", state.Session{IsSufficient: true, RoundCount: 1, MaxRounds: 3, FollowUpQueries: web}, StepFinalize},
		{"budget spent", state.Session{RoundCount: 2, MaxRounds: 2, FollowUpQueries: web}, StepFinalize},
		{"budget exceeded", state.Session{RoundCount: 5, MaxRounds: 2, FollowUpQueries: web}, StepFinalize},
		{"follow up", state.Session{RoundCount: 1, MaxRounds: 2, FollowUpQueries: web}, StepFollowUp},
		{"only blank follow ups", state.Session{RoundCount: 1, MaxRounds: 2, FollowUpQueries: blank}, StepFinalize},
		{"no follow ups", state.Session{RoundCount: 1, MaxRounds: 2}, StepFinalize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.session
			assert.Equal(t, tt.want, NextStep(&s))
		})
	}
}
