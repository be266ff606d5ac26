package constants

// Activity names used for workflow registration and execution.
const (
	// Configuration
	GetResearchConfigActivity = "GetResearchConfig"

	// Convergence loop
	PlanQueriesActivity      = "PlanQueries"
	WebResearchActivity      = "WebResearch"
	AcademicResearchActivity = "AcademicResearch"
	DocumentResearchActivity = "DocumentResearch"
	ReflectActivity          = "Reflect"
	FinalizeAnswerActivity   = "FinalizeAnswer"

	// Single-shot paths
	AnswerFromDocumentActivity = "AnswerFromDocument"
	SummarizeURLActivity       = "SummarizeURL"

	// Persistence and progress
	LoadTranscriptActivity = "LoadTranscript"
	SaveTranscriptActivity = "SaveTranscript"
	RecordRunActivity      = "RecordRun"
	EmitProgressActivity   = "EmitProgress"
)

// ResearchWorkflowName is the registered name of the research workflow
const ResearchWorkflowName = "ResearchWorkflow"
