package workflows

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/converge/internal/academic"
	"github.com/Kocoro-lab/converge/internal/activities"
	"github.com/Kocoro-lab/converge/internal/constants"
	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/routing"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/workflows/opts"
)

// ErrTypeInvalidInput marks requests rejected before any work is done
const ErrTypeInvalidInput = "InvalidInput"

// ResearchWorkflow routes a request and runs the chosen path: the
// convergence loop (plan, gather, reflect, repeat, finalize), document Q&A,
// or URL summary.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	r := &researchRun{
		input:      input,
		logger:     workflow.GetLogger(ctx),
		workflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		startedAt:  workflow.Now(ctx),
		progress:   &Progress{Phase: PhaseStarting},
	}

	if err := workflow.SetQueryHandler(ctx, QueryResearchProgress, func() (Progress, error) {
		return *r.progress, nil
	}); err != nil {
		r.logger.Warn("Failed to register progress query handler", "error", err)
	}

	bookCtx := opts.WithBookkeepingOptions(ctx)
	if err := workflow.ExecuteActivity(bookCtx, constants.GetResearchConfigActivity).Get(ctx, &r.cfg); err != nil {
		return ResearchResult{}, fmt.Errorf("load research config: %w", err)
	}

	var prior []state.Turn
	if input.SessionID != "" && len(input.Messages) == 0 {
		err := workflow.ExecuteActivity(bookCtx, constants.LoadTranscriptActivity,
			activities.LoadTranscriptInput{SessionID: input.SessionID}).Get(ctx, &prior)
		if err != nil {
			r.logger.Warn("Failed to load transcript, continuing without history",
				"session_id", input.SessionID,
				"error", err,
			)
			prior = nil
		}
	}
	r.session = newSession(input, r.cfg, prior)
	r.progress.MaxRounds = r.session.MaxRounds

	if strings.TrimSpace(r.session.Topic()) == "" {
		return ResearchResult{}, temporal.NewNonRetryableApplicationError(
			"request has no user message", ErrTypeInvalidInput, nil)
	}

	r.setPhase(PhaseRouting)
	decision := routing.Route(r.session.TaskKind, r.session.DocumentContext, r.session.TargetURL)
	r.path = decision.Path
	r.progress.Path = decision.Path.String()
	if decision.Fallback() {
		r.logger.Warn("Router fell back to research",
			"requested_kind", r.session.TaskKind.String(),
			"diagnostic", decision.Diagnostic,
		)
		r.diagnostic = decision.Diagnostic
		if !workflow.IsReplaying(ctx) {
			metrics.RouterFallbacks.WithLabelValues(r.session.TaskKind.String()).Inc()
		}
	}
	if !workflow.IsReplaying(ctx) {
		metrics.WorkflowsStarted.WithLabelValues(r.path.String()).Inc()
	}
	r.emit(ctx, streaming.EventRouted, fmt.Sprintf("Routed to %s", r.path), map[string]interface{}{
		"path":     r.path.String(),
		"fallback": decision.Fallback(),
	})

	var err error
	switch decision.Path {
	case routing.PathDocumentQA:
		err = r.answerFromDocument(ctx)
	case routing.PathURLSummary:
		err = r.summarizeURL(ctx)
	default:
		err = r.research(ctx)
	}
	if err != nil {
		r.fail(ctx, err)
		return ResearchResult{}, err
	}
	return r.complete(ctx), nil
}

// newSession builds the request state. Prior turns from the session store
// are used only when the request carries no messages of its own.
func newSession(input ResearchInput, cfg activities.ResearchConfig, prior []state.Turn) *state.Session {
	s := &state.Session{
		TaskKind:          state.ParseTaskKind(input.TaskKind),
		DocumentContext:   input.DocumentContext,
		TargetURL:         input.TargetURL,
		PendingUploads:    append([]state.Upload(nil), input.Uploads...),
		InitialQueryCount: cfg.InitialQueryCount,
		MaxRounds:         cfg.MaxRounds,
		ReasoningModel:    input.ReasoningModel,
	}
	if input.InitialQueryCount > 0 {
		s.InitialQueryCount = input.InitialQueryCount
	}
	if input.MaxRounds > 0 {
		s.MaxRounds = input.MaxRounds
	}
	s.Transcript = append(s.Transcript, prior...)
	s.Transcript = append(s.Transcript, input.Messages...)
	if q := strings.TrimSpace(input.Query); q != "" {
		s.AppendTurn(state.RoleUser, q)
	}
	return s
}

// researchRun carries one workflow execution. Workflow code is single
// threaded, so coroutines may read it but only the join mutates session.
type researchRun struct {
	input      ResearchInput
	cfg        activities.ResearchConfig
	session    *state.Session
	logger     log.Logger
	workflowID string
	startedAt  time.Time
	progress   *Progress

	path       routing.Path
	answer     string
	diagnostic string
	tokens     int
}

func (r *researchRun) setPhase(phase string) {
	r.progress.Phase = phase
	if r.session != nil {
		r.progress.Round = r.session.RoundCount
		r.progress.QueriesRun = len(r.session.ExecutedQueries)
		r.progress.IsSufficient = r.session.IsSufficient
		r.progress.KnowledgeGap = r.session.KnowledgeGap
	}
}

func (r *researchRun) research(ctx workflow.Context) error {
	s := r.session
	llmCtx := opts.WithLLMOptions(ctx)

	r.setPhase(PhasePlanning)
	var plan activities.PlanQueriesResult
	err := workflow.ExecuteActivity(llmCtx, constants.PlanQueriesActivity, activities.PlanQueriesInput{
		Topic:   s.Topic(),
		History: s.History(),
		Count:   s.InitialQueryCount,
	}).Get(ctx, &plan)
	if err != nil {
		return fmt.Errorf("plan queries: %w", err)
	}
	r.tokens += plan.TokensUsed
	s.SetQueryList(plan.Queries)
	r.emit(ctx, streaming.EventQueriesPlanned, fmt.Sprintf("Planned %d queries", len(plan.Queries)), map[string]interface{}{
		"queries": plan.Queries,
	})

	tasks := BuildInitialTasks(s.QueryList, s.RanQueryCount)
	if len(s.PendingUploads) > 0 {
		tasks = append(tasks, Task{Kind: TaskDocuments, Order: len(tasks)})
	}
	r.runRound(ctx, tasks)

	for {
		r.setPhase(PhaseReflecting)
		var refl activities.ReflectResult
		err := workflow.ExecuteActivity(llmCtx, constants.ReflectActivity, activities.ReflectInput{
			Topic:   s.Topic(),
			History: s.History(),
			Corpus:  s.Corpus(),
			Model:   s.ReasoningModel,
		}).Get(ctx, &refl)
		if err != nil {
			return fmt.Errorf("reflect: %w", err)
		}
		r.tokens += refl.TokensUsed
		s.ApplyReflection(refl.Reflection)
		r.setPhase(PhaseReflecting)

		next := routing.NextStep(s)
		r.logger.Info("Reflection applied",
			"round", s.RoundCount,
			"max_rounds", s.MaxRounds,
			"is_sufficient", s.IsSufficient,
			"next", next.String(),
		)
		r.emit(ctx, streaming.EventReflection, s.KnowledgeGap, map[string]interface{}{
			"round":         s.RoundCount,
			"is_sufficient": s.IsSufficient,
			"follow_ups":    len(s.UsableFollowUps()),
			"next":          next.String(),
		})
		if next == routing.StepFinalize {
			break
		}
		r.runRound(ctx, BuildFollowUpTasks(s.UsableFollowUps(), s.RanQueryCount))
	}

	return r.finalize(ctx)
}

// taskOutcome is what one coroutine reports back to the join
type taskOutcome struct {
	Task      Task
	Web       activities.WebResearchResult
	Academic  activities.AcademicResearchResult
	Documents activities.DocumentResearchResult
	Err       error
}

// runRound executes tasks concurrently, bounded by MaxConcurrentWorkers,
// and merges every outcome into the session once all of them are in.
func (r *researchRun) runRound(ctx workflow.Context, tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	s := r.session
	r.setPhase(PhaseGathering)
	r.emit(ctx, streaming.EventRoundDispatched, fmt.Sprintf("Dispatching %d tasks", len(tasks)), map[string]interface{}{
		"round": s.RoundCount + 1,
		"tasks": len(tasks),
		"web":   WebTaskCount(tasks),
	})

	limit := r.cfg.MaxConcurrentWorkers
	if limit < 1 {
		limit = len(tasks)
	}
	sem := workflow.NewSemaphore(ctx, int64(limit))
	results := workflow.NewChannel(ctx)

	uploads := append([]state.Upload(nil), s.PendingUploads...)
	existing := append([]string(nil), s.DocumentResults...)
	academicMax := r.cfg.AcademicMaxResults

	for _, task := range tasks {
		task := task
		workflow.Go(ctx, func(gctx workflow.Context) {
			out := taskOutcome{Task: task}
			if err := sem.Acquire(gctx, 1); err != nil {
				out.Err = err
				results.Send(gctx, out)
				return
			}
			actCtx := opts.WithWorkerOptions(gctx)
			switch task.Kind {
			case TaskWeb:
				out.Err = workflow.ExecuteActivity(actCtx, constants.WebResearchActivity, activities.WebResearchInput{
					Query: task.Query,
					ID:    task.ID,
				}).Get(gctx, &out.Web)
			case TaskAcademic:
				out.Err = workflow.ExecuteActivity(actCtx, constants.AcademicResearchActivity, activities.AcademicResearchInput{
					Query:      task.Query,
					MaxResults: academicMax,
				}).Get(gctx, &out.Academic)
			case TaskDocuments:
				out.Err = workflow.ExecuteActivity(actCtx, constants.DocumentResearchActivity, activities.DocumentResearchInput{
					Uploads:  uploads,
					Existing: existing,
				}).Get(gctx, &out.Documents)
			}
			sem.Release(1)
			results.Send(gctx, out)
		})
	}

	outcomes := make([]taskOutcome, 0, len(tasks))
	for range tasks {
		var o taskOutcome
		results.Receive(ctx, &o)
		outcomes = append(outcomes, o)
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Task.Order < outcomes[j].Task.Order
	})
	for _, o := range outcomes {
		r.merge(ctx, o, uploads, existing)
	}
}

// merge applies one outcome through the session's merge methods. Activity
// level failures, such as a timeout, become inline blocks like any other
// collaborator failure.
func (r *researchRun) merge(ctx workflow.Context, o taskOutcome, uploads []state.Upload, existing []string) {
	s := r.session
	if !workflow.IsReplaying(ctx) {
		metrics.TasksDispatched.WithLabelValues(string(o.Task.Kind)).Inc()
	}
	if o.Err != nil {
		r.logger.Warn("Worker task failed",
			"kind", string(o.Task.Kind),
			"query", o.Task.Query,
			"id", o.Task.ID,
			"error", o.Err,
		)
	}

	switch o.Task.Kind {
	case TaskWeb:
		if o.Err != nil {
			s.MergeWebContribution(o.Task.Query,
				fmt.Sprintf("Error during web research for query '%s': %v", o.Task.Query, o.Err), nil)
			return
		}
		r.tokens += o.Web.TokensUsed
		s.MergeWebContribution(o.Task.Query, o.Web.Text, o.Web.Sources)
	case TaskAcademic:
		if o.Err != nil {
			s.MergeAcademic(academic.FormatError(o.Task.Query, o.Err))
			return
		}
		s.MergeAcademic(o.Academic.Text)
	case TaskDocuments:
		if o.Err != nil {
			blocks := append([]string(nil), existing...)
			for _, up := range uploads {
				blocks = append(blocks, fmt.Sprintf("Error processing '%s': %v", up.Name, o.Err))
			}
			s.MergeDocuments(blocks)
			return
		}
		s.MergeDocuments(o.Documents.Results)
	}
}

func (r *researchRun) finalize(ctx workflow.Context) error {
	s := r.session
	r.setPhase(PhaseFinalizing)

	var fin activities.FinalizeResult
	err := workflow.ExecuteActivity(opts.WithLLMOptions(ctx), constants.FinalizeAnswerActivity, activities.FinalizeInput{
		Topic:   s.Topic(),
		History: s.History(),
		Corpus:  s.Corpus(),
		Sources: s.SourcesGathered,
		Model:   s.ReasoningModel,
	}).Get(ctx, &fin)
	if err != nil {
		return fmt.Errorf("finalize answer: %w", err)
	}
	r.tokens += fin.TokensUsed
	s.ApplyFinal(fin.Answer, fin.Sources)
	r.answer = fin.Answer
	return nil
}

func (r *researchRun) answerFromDocument(ctx workflow.Context) error {
	s := r.session
	r.setPhase(PhaseAnswering)

	var res activities.AnswerResult
	err := workflow.ExecuteActivity(opts.WithLLMOptions(ctx), constants.AnswerFromDocumentActivity, activities.AnswerFromDocumentInput{
		Question: s.Topic(),
		Document: s.DocumentContext,
		Model:    s.ReasoningModel,
	}).Get(ctx, &res)
	if err != nil {
		return fmt.Errorf("answer from document: %w", err)
	}
	r.tokens += res.TokensUsed
	s.AppendTurn(state.RoleAssistant, res.Answer)
	r.answer = res.Answer
	return nil
}

func (r *researchRun) summarizeURL(ctx workflow.Context) error {
	s := r.session
	r.setPhase(PhaseAnswering)

	var res activities.AnswerResult
	err := workflow.ExecuteActivity(opts.WithLLMOptions(ctx), constants.SummarizeURLActivity, activities.SummarizeURLInput{
		URL:   s.TargetURL,
		Model: s.ReasoningModel,
	}).Get(ctx, &res)
	if err != nil {
		return fmt.Errorf("summarize url: %w", err)
	}
	r.tokens += res.TokensUsed
	if res.Degraded && r.diagnostic == "" {
		r.diagnostic = fmt.Sprintf("could not summarize %s", s.TargetURL)
	}
	s.AppendTurn(state.RoleAssistant, res.Answer)
	r.answer = res.Answer
	return nil
}

func (r *researchRun) complete(ctx workflow.Context) ResearchResult {
	s := r.session
	r.setPhase(PhaseCompleted)

	result := ResearchResult{
		Answer:     r.answer,
		Sources:    s.SourcesGathered,
		Path:       r.path.String(),
		Rounds:     s.RoundCount,
		QueriesRun: len(s.ExecutedQueries),
		Diagnostic: r.diagnostic,
		Transcript: s.Transcript,
		TokensUsed: r.tokens,
	}

	r.saveTranscript(ctx)
	r.recordRun(ctx, db.RunStatusCompleted, "")
	if !workflow.IsReplaying(ctx) {
		metrics.WorkflowsCompleted.WithLabelValues(r.path.String(), "completed").Inc()
		if r.path == routing.PathResearch {
			metrics.RoundsPerRequest.Observe(float64(s.RoundCount))
		}
	}
	r.emit(ctx, streaming.EventFinalized, "Answer ready", map[string]interface{}{
		"rounds":      result.Rounds,
		"queries_run": result.QueriesRun,
		"sources":     len(result.Sources),
	})
	r.logger.Info("Research workflow completed",
		"path", result.Path,
		"rounds", result.Rounds,
		"queries_run", result.QueriesRun,
		"sources", len(result.Sources),
	)
	return result
}

func (r *researchRun) fail(ctx workflow.Context, err error) {
	r.setPhase(PhaseFailed)
	r.logger.Error("Research workflow failed", "path", r.path.String(), "error", err)
	r.recordRun(ctx, db.RunStatusFailed, err.Error())
	if !workflow.IsReplaying(ctx) {
		metrics.WorkflowsCompleted.WithLabelValues(r.path.String(), "failed").Inc()
	}
	r.emit(ctx, streaming.EventFailed, err.Error(), nil)
}

func (r *researchRun) saveTranscript(ctx workflow.Context) {
	if r.input.SessionID == "" {
		return
	}
	err := workflow.ExecuteActivity(opts.WithBookkeepingOptions(ctx), constants.SaveTranscriptActivity, activities.SaveTranscriptInput{
		SessionID:  r.input.SessionID,
		Transcript: r.session.Transcript,
	}).Get(ctx, nil)
	if err != nil {
		r.logger.Warn("Failed to save transcript", "session_id", r.input.SessionID, "error", err)
	}
}

func (r *researchRun) recordRun(ctx workflow.Context, status, errMsg string) {
	s := r.session
	err := workflow.ExecuteActivity(opts.WithBookkeepingOptions(ctx), constants.RecordRunActivity, activities.RecordRunInput{
		WorkflowID:   r.workflowID,
		SessionID:    r.input.SessionID,
		Path:         r.path.String(),
		Query:        s.Topic(),
		Status:       status,
		Rounds:       s.RoundCount,
		QueriesRun:   len(s.ExecutedQueries),
		SourcesKept:  len(s.SourcesGathered),
		Answer:       r.answer,
		ErrorMessage: errMsg,
		TokensUsed:   r.tokens,
		StartedAt:    r.startedAt,
		CompletedAt:  workflow.Now(ctx),
	}).Get(ctx, nil)
	if err != nil {
		r.logger.Warn("Failed to record run", "error", err)
	}
}

// emit publishes a progress event. Failures never affect the request.
func (r *researchRun) emit(ctx workflow.Context, eventType, message string, data map[string]interface{}) {
	evt := streaming.Event{
		WorkflowID: r.workflowID,
		Type:       eventType,
		Message:    message,
		Data:       data,
		Timestamp:  workflow.Now(ctx),
	}
	_ = workflow.ExecuteActivity(opts.WithProgressOptions(ctx), constants.EmitProgressActivity, activities.EmitProgressInput{
		WorkflowID: r.workflowID,
		Event:      evt,
	}).Get(ctx, nil)
}
