package activities

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/state"
)

func TestGetResearchConfigReturnsDefaults(t *testing.T) {
	a := newTestActivities(Deps{})
	rc, err := a.GetResearchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rc.InitialQueryCount)
	assert.Equal(t, 2, rc.MaxRounds)
	assert.Equal(t, 3, rc.AcademicMaxResults)
	assert.Equal(t, config.DefaultModel, rc.AnswerModel)
}

func TestPlanQueries(t *testing.T) {
	t.Run("drops blanks and truncates", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) {
			return llm.QueryPlan{Query: []string{" solar 2025 ", "", "wind 2025", "hydro 2025"}, Rationale: "cover each"}, nil
		}}
		a := newTestActivities(Deps{LLM: fake})

		res, err := a.PlanQueries(context.Background(), PlanQueriesInput{Topic: "renewables", Count: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"solar 2025", "wind 2025"}, res.Queries)
		assert.Equal(t, "cover each", res.Rationale)

		calls := fake.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "plan", calls[0].Operation)
		assert.Equal(t, float32(1.0), calls[0].Temperature)
		assert.Same(t, llm.QueryPlanSchema, calls[0].Schema)
		assert.Contains(t, calls[0].Prompt, "June 01, 2025")
	})

	t.Run("count defaults from config", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) {
			return llm.QueryPlan{Query: []string{"a", "b", "c", "d"}}, nil
		}}
		a := newTestActivities(Deps{LLM: fake})
		res, err := a.PlanQueries(context.Background(), PlanQueriesInput{Topic: "t"})
		require.NoError(t, err)
		assert.Len(t, res.Queries, 3)
	})

	t.Run("model override", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) {
			return llm.QueryPlan{Query: []string{"a"}}, nil
		}}
		a := newTestActivities(Deps{LLM: fake})
		_, err := a.PlanQueries(context.Background(), PlanQueriesInput{Topic: "t", Count: 1, Model: "gemini-2.5-pro"})
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-pro", fake.calls()[0].Model)
	})

	t.Run("model failure propagates", func(t *testing.T) {
		boom := errors.New("quota exhausted")
		fake := &fakeLLM{json: func(req llm.Request) (any, error) { return nil, boom }}
		a := newTestActivities(Deps{LLM: fake})
		_, err := a.PlanQueries(context.Background(), PlanQueriesInput{Topic: "t", Count: 1})
		assert.ErrorIs(t, err, boom)
	})
}

func TestReflect(t *testing.T) {
	t.Run("normalizes follow-ups", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) {
			return llm.ReflectionVerdict{
				IsSufficient: false,
				KnowledgeGap: "no 2025 numbers",
				FollowUpQueries: []llm.FollowUpOutput{
					{Type: "arxiv", Query: " perovskite efficiency "},
					{Type: "web", Query: ""},
					{Type: "news", Query: "solar capacity 2025"},
				},
			}, nil
		}}
		a := newTestActivities(Deps{LLM: fake})

		res, err := a.Reflect(context.Background(), ReflectInput{Topic: "solar", Corpus: []string{"block one", "block two"}})
		require.NoError(t, err)
		r := res.Reflection
		assert.False(t, r.IsSufficient)
		assert.Equal(t, "no 2025 numbers", r.KnowledgeGap)
		assert.Equal(t, []state.FollowUp{
			{Kind: state.FollowUpAcademic, Query: "perovskite efficiency"},
			{Kind: state.FollowUpWeb, Query: ""},
			{Kind: state.FollowUpWeb, Query: "solar capacity 2025"},
		}, r.FollowUps)

		prompt := fake.calls()[0].Prompt
		assert.Contains(t, prompt, "block one"+state.CorpusSeparator+"block two")
	})

	t.Run("empty corpus uses sentinel", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) {
			return llm.ReflectionVerdict{IsSufficient: true}, nil
		}}
		a := newTestActivities(Deps{LLM: fake})
		_, err := a.Reflect(context.Background(), ReflectInput{Topic: "solar"})
		require.NoError(t, err)
		assert.Contains(t, fake.calls()[0].Prompt, state.NoInformationYet)
	})

	t.Run("model failure propagates", func(t *testing.T) {
		fake := &fakeLLM{json: func(req llm.Request) (any, error) { return nil, llm.ErrEmptyResponse }}
		a := newTestActivities(Deps{LLM: fake})
		_, err := a.Reflect(context.Background(), ReflectInput{Topic: "solar"})
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	})
}

func TestFinalizeAnswerFiltersSources(t *testing.T) {
	used := metadata.Source{Label: "nrel", ShortCode: metadata.ShortCodePrefix + "0-0", Value: "https://nrel.gov/report"}
	unused := metadata.Source{Label: "iea", ShortCode: metadata.ShortCodePrefix + "1-0", Value: "https://iea.org/solar"}

	fake := &fakeLLM{generate: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "Capacity grew [nrel](" + used.ShortCode + ").", TokensUsed: 42}, nil
	}}
	a := newTestActivities(Deps{LLM: fake})

	res, err := a.FinalizeAnswer(context.Background(), FinalizeInput{
		Topic:   "solar",
		Corpus:  []string{"web block"},
		Sources: []metadata.Source{used, unused},
	})
	require.NoError(t, err)
	assert.Equal(t, "Capacity grew [nrel](https://nrel.gov/report).", res.Answer)
	assert.Equal(t, []metadata.Source{used}, res.Sources)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 42, res.TokensUsed)

	call := fake.calls()[0]
	assert.Equal(t, "answer", call.Operation)
	assert.Equal(t, float32(0), call.Temperature)
}

func TestFinalizeAnswerEmptyCorpusSentinel(t *testing.T) {
	fake := &fakeLLM{generate: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "I could not find anything."}, nil
	}}
	a := newTestActivities(Deps{LLM: fake})
	res, err := a.FinalizeAnswer(context.Background(), FinalizeInput{Topic: "solar"})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.True(t, strings.Contains(fake.calls()[0].Prompt, state.NoInformationFinal))
}
