// Package registry binds the research workflow and its activities to the
// stable names in constants, so clients, the worker and the replayer agree.
package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/activities"
	"github.com/Kocoro-lab/converge/internal/constants"
	"github.com/Kocoro-lab/converge/internal/workflows"
)

// Registrar is satisfied by worker.Worker and the Temporal test environments
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Named pairs an activity method with its registered name
type Named struct {
	Name string
	Fn   interface{}
}

type ResearchRegistry struct {
	acts   *activities.Activities
	logger *zap.Logger
}

func NewResearchRegistry(acts *activities.Activities, logger *zap.Logger) *ResearchRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchRegistry{acts: acts, logger: logger}
}

func (r *ResearchRegistry) RegisterWorkflows(reg Registrar) error {
	reg.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{
		Name: constants.ResearchWorkflowName,
	})
	r.logger.Info("Registered workflows", zap.String("workflow", constants.ResearchWorkflowName))
	return nil
}

// Activities lists every activity the research workflow schedules
func (r *ResearchRegistry) Activities() []Named {
	a := r.acts
	return []Named{
		{constants.GetResearchConfigActivity, a.GetResearchConfig},
		{constants.PlanQueriesActivity, a.PlanQueries},
		{constants.WebResearchActivity, a.WebResearch},
		{constants.AcademicResearchActivity, a.AcademicResearch},
		{constants.DocumentResearchActivity, a.DocumentResearch},
		{constants.ReflectActivity, a.Reflect},
		{constants.FinalizeAnswerActivity, a.FinalizeAnswer},
		{constants.AnswerFromDocumentActivity, a.AnswerFromDocument},
		{constants.SummarizeURLActivity, a.SummarizeURL},
		{constants.LoadTranscriptActivity, a.LoadTranscript},
		{constants.SaveTranscriptActivity, a.SaveTranscript},
		{constants.RecordRunActivity, a.RecordRun},
		{constants.EmitProgressActivity, a.EmitProgress},
	}
}

func (r *ResearchRegistry) RegisterActivities(reg Registrar) error {
	named := r.Activities()
	for _, n := range named {
		reg.RegisterActivityWithOptions(n.Fn, activity.RegisterOptions{Name: n.Name})
	}
	r.logger.Info("Registered activities", zap.Int("count", len(named)))
	return nil
}
