package llm

import "google.golang.org/genai"

// QueryPlan is the planner's structured output
type QueryPlan struct {
	Query     []string `json:"query"`
	Rationale string   `json:"rationale"`
}

// ReflectionVerdict is the gap analysis structured output
type ReflectionVerdict struct {
	IsSufficient    bool             `json:"is_sufficient"`
	KnowledgeGap    string           `json:"knowledge_gap"`
	FollowUpQueries []FollowUpOutput `json:"follow_up_queries"`
}

type FollowUpOutput struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// QueryPlanSchema describes QueryPlan for the model
var QueryPlanSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"query": {
			Type:        genai.TypeArray,
			Description: "Search queries to run for web research.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
		"rationale": {
			Type:        genai.TypeString,
			Description: "Why these queries cover the question.",
		},
	},
	Required:         []string{"query", "rationale"},
	PropertyOrdering: []string{"rationale", "query"},
}

// ReflectionSchema describes ReflectionVerdict for the model
var ReflectionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"is_sufficient": {
			Type:        genai.TypeBoolean,
			Description: "Whether the notes are enough to answer the question.",
		},
		"knowledge_gap": {
			Type:        genai.TypeString,
			Description: "What is missing, empty when sufficient.",
		},
		"follow_up_queries": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"type":  {Type: genai.TypeString, Enum: []string{"web", "arxiv"}},
					"query": {Type: genai.TypeString},
				},
				Required: []string{"type", "query"},
			},
		},
	},
	Required:         []string{"is_sufficient", "knowledge_gap", "follow_up_queries"},
	PropertyOrdering: []string{"is_sufficient", "knowledge_gap", "follow_up_queries"},
}
