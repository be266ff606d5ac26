package activities

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Kocoro-lab/converge/internal/academic"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/webpage"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

// fakeLLM answers every call from its hooks and records the requests
type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request

	generate func(req llm.Request) (*llm.Response, error)
	json     func(req llm.Request) (any, error)
	search   func(req llm.Request) (*llm.GroundedResponse, error)
}

func (f *fakeLLM) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.record(req)
	if f.generate == nil {
		return nil, errors.New("generate not stubbed")
	}
	return f.generate(req)
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error) {
	f.record(req)
	if f.json == nil {
		return nil, errors.New("json not stubbed")
	}
	v, err := f.json(req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return &llm.Response{Text: string(raw), Model: req.Model, TokensUsed: 10}, nil
}

func (f *fakeLLM) GenerateWithSearch(ctx context.Context, req llm.Request) (*llm.GroundedResponse, error) {
	f.record(req)
	if f.search == nil {
		return nil, errors.New("search not stubbed")
	}
	return f.search(req)
}

func (f *fakeLLM) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

type fakeSearcher struct {
	papers []academic.Paper
	err    error
	gotMax int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]academic.Paper, error) {
	f.gotMax = maxResults
	return f.papers, f.err
}

type fakeExtractor struct {
	texts map[string]string
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, path string) (string, error) {
	text, ok := f.texts[path]
	if !ok {
		return "", errors.New("file not found")
	}
	return text, nil
}

type fakePages struct {
	page *webpage.Page
	err  error
}

func (f *fakePages) Fetch(ctx context.Context, rawURL string) (*webpage.Page, error) {
	return f.page, f.err
}

type memoryTranscripts struct {
	history map[string][]state.Turn
}

func (m *memoryTranscripts) LoadHistory(ctx context.Context, sessionID string) ([]state.Turn, error) {
	return m.history[sessionID], nil
}

func (m *memoryTranscripts) SaveHistory(ctx context.Context, sessionID string, history []state.Turn) error {
	if m.history == nil {
		m.history = map[string][]state.Turn{}
	}
	m.history[sessionID] = history
	return nil
}

type recordingRuns struct {
	runs []*db.ResearchRun
}

func (r *recordingRuns) SaveRun(ctx context.Context, run *db.ResearchRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, workflowID string, evt streaming.Event) error {
	p.calls++
	return errors.New("redis down")
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestActivities(deps Deps) *Activities {
	if deps.Config == nil {
		deps.Config = staticConfig{cfg: config.Default()}
	}
	a := NewActivities(deps)
	a.now = func() time.Time { return fixedNow }
	return a
}
