package activities

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/prompts"
	"github.com/Kocoro-lab/converge/internal/state"
)

// GetResearchConfig returns the configured defaults. The workflow reads
// them once and applies per-request overrides on top.
func (a *Activities) GetResearchConfig(ctx context.Context) (ResearchConfig, error) {
	cfg := a.cfg()
	return ResearchConfig{
		InitialQueryCount:    cfg.Research.InitialQueryCount,
		MaxRounds:            cfg.Research.MaxRounds,
		AcademicMaxResults:   cfg.Research.AcademicMaxResults,
		MaxConcurrentWorkers: cfg.Research.MaxConcurrentWorkers,
		QueryModel:           cfg.Models.Query,
		WebModel:             cfg.Models.Web,
		ReflectionModel:      cfg.Models.Reflection,
		AnswerModel:          cfg.Models.Answer,
	}, nil
}

// PlanQueries turns the topic into at most Count search queries. Blank
// queries are dropped. A model failure is returned as is.
func (a *Activities) PlanQueries(ctx context.Context, in PlanQueriesInput) (PlanQueriesResult, error) {
	cfg := a.cfg()
	n := in.Count
	if n < 1 {
		n = cfg.Research.InitialQueryCount
	}

	var plan llm.QueryPlan
	resp, err := a.llm.GenerateJSON(ctx, llm.Request{
		Operation:   "plan",
		Model:       pickModel(in.Model, cfg.Models.Query),
		Prompt:      prompts.QueryWriter(prompts.CurrentDate(a.now()), in.Topic, in.History, n),
		Temperature: cfg.Temperatures.Planner,
		Schema:      llm.QueryPlanSchema,
	}, &plan)
	if err != nil {
		return PlanQueriesResult{}, err
	}

	queries := make([]string, 0, n)
	for _, q := range plan.Query {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == n {
			break
		}
	}

	a.logger.Info("Planned search queries",
		zap.Int("requested", n),
		zap.Int("planned", len(queries)),
		zap.String("rationale", plan.Rationale),
	)
	return PlanQueriesResult{Queries: queries, Rationale: plan.Rationale, TokensUsed: resp.TokensUsed}, nil
}

// Reflect asks whether the corpus answers the topic and which follow-ups
// would close the gap. Follow-up types are normalized to web/academic;
// blank follow-ups are kept here and dropped by the dispatcher.
func (a *Activities) Reflect(ctx context.Context, in ReflectInput) (ReflectResult, error) {
	cfg := a.cfg()
	summaries := state.JoinCorpus(in.Corpus, state.NoInformationYet)

	var verdict llm.ReflectionVerdict
	resp, err := a.llm.GenerateJSON(ctx, llm.Request{
		Operation:   "reflect",
		Model:       pickModel(in.Model, cfg.Models.Reflection),
		Prompt:      prompts.Reflection(prompts.CurrentDate(a.now()), in.Topic, in.History, summaries),
		Temperature: cfg.Temperatures.Reflection,
		Schema:      llm.ReflectionSchema,
	}, &verdict)
	if err != nil {
		return ReflectResult{}, err
	}

	r := state.Reflection{
		IsSufficient: verdict.IsSufficient,
		KnowledgeGap: verdict.KnowledgeGap,
	}
	for _, f := range verdict.FollowUpQueries {
		r.FollowUps = append(r.FollowUps, state.FollowUp{
			Kind:  state.ParseFollowUpKind(f.Type),
			Query: strings.TrimSpace(f.Query),
		})
	}

	metrics.ReflectionRounds.Inc()
	metrics.ReflectionVerdicts.WithLabelValues(strconv.FormatBool(r.IsSufficient)).Inc()
	a.logger.Info("Reflection verdict",
		zap.Bool("is_sufficient", r.IsSufficient),
		zap.String("knowledge_gap", r.KnowledgeGap),
		zap.Int("follow_ups", len(r.FollowUps)),
	)
	return ReflectResult{Reflection: r, TokensUsed: resp.TokensUsed}, nil
}

// FinalizeAnswer writes the answer from the corpus, then keeps only the
// sources whose short code the answer actually cites, with every kept code
// replaced by its full URL.
func (a *Activities) FinalizeAnswer(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	cfg := a.cfg()
	summaries := state.JoinCorpus(in.Corpus, state.NoInformationFinal)

	resp, err := a.llm.Generate(ctx, llm.Request{
		Operation:   "answer",
		Model:       pickModel(in.Model, cfg.Models.Answer),
		Prompt:      prompts.Answer(prompts.CurrentDate(a.now()), in.Topic, in.History, summaries),
		Temperature: cfg.Temperatures.Answer,
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	answer, kept, dropped := metadata.FilterUsedSources(resp.Text, in.Sources)
	metrics.RecordCitationFilter(len(kept), dropped)
	a.logger.Info("Finalized answer",
		zap.Int("answer_chars", len(answer)),
		zap.Int("sources_kept", len(kept)),
		zap.Int("sources_dropped", dropped),
	)
	return FinalizeResult{Answer: answer, Sources: kept, Dropped: dropped, TokensUsed: resp.TokensUsed}, nil
}
