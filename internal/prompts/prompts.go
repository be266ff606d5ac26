// Package prompts builds the model instructions for each research step.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// CurrentDate formats t the way every prompt states "today"
func CurrentDate(t time.Time) string {
	return t.Format("January 02, 2006")
}

// QueryWriter asks for at most n diverse search queries about topic
func QueryWriter(date, topic, history string, n int) string {
	var sb strings.Builder
	sb.WriteString(`You plan web searches for an automated research assistant that reads search results, follows sources and writes a cited report.

## Guidelines:
- Prefer one query. Add more only when the question covers several distinct aspects.
- Each query targets one aspect of the question.
- Do not write near-duplicate queries.
`)
	sb.WriteString(fmt.Sprintf("- Never return more than %d queries.\n", n))
	sb.WriteString(fmt.Sprintf("- Aim for current information. Today is %s.\n\n", date))

	sb.WriteString(`## Response Format:
Return a JSON object:
{
  "rationale": "why these queries cover the question",
  "query": ["first search query", "second search query"]
}

`)
	writeHistory(&sb, history)
	sb.WriteString(fmt.Sprintf("## Question:\n%s\n", topic))
	return sb.String()
}

// WebSearcher asks for a grounded summary of one query
func WebSearcher(date, query string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run focused Google searches on \"%s\" and write a factual summary of what you find.\n\n", query))
	sb.WriteString("## Guidelines:\n")
	sb.WriteString(fmt.Sprintf("- Prefer the most recent credible sources. Today is %s.\n", date))
	sb.WriteString(`- Search from several angles before writing.
- Keep track of which source supports each statement.
- Only report what the search results say. Do not invent facts.

`)
	sb.WriteString(fmt.Sprintf("## Research Query:\n%s\n", query))
	return sb.String()
}

// Reflection asks whether the gathered summaries answer topic and, if not,
// which web or arxiv follow-up queries would close the gap.
func Reflection(date, topic, history, summaries string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You review research notes gathered for the question \"%s\".\n\n", topic))
	sb.WriteString(`## Your Goals:
1. Decide whether the notes are enough to answer the question well.
2. If not, name the missing knowledge and propose self-contained follow-up queries.
3. For every follow-up choose "web" for general search or "arxiv" for academic papers.

## Guidelines:
- Look for missing technical detail, missing numbers, stale information and unverified claims.
- A sufficient verdict has an empty knowledge_gap and no follow-up queries.
`)
	sb.WriteString(fmt.Sprintf("- Today is %s.\n\n", date))
	sb.WriteString(`## Response Format:
Return a JSON object:
{
  "is_sufficient": false,
  "knowledge_gap": "what is still unknown",
  "follow_up_queries": [
    {"type": "web", "query": "self-contained search query"},
    {"type": "arxiv", "query": "academic search query"}
  ]
}

`)
	writeHistory(&sb, history)
	sb.WriteString(fmt.Sprintf("## Notes:\n%s\n", summaries))
	return sb.String()
}

// Answer asks for the final cited answer. Citation markers in the notes must
// be carried into the answer unchanged so they can be resolved afterwards.
func Answer(date, topic, history, summaries string) string {
	var sb strings.Builder
	sb.WriteString("Write the final answer to the user's question from the research notes below.\n\n")
	sb.WriteString("## Guidelines:\n")
	sb.WriteString(fmt.Sprintf("- Today is %s.\n", date))
	sb.WriteString(`- Use only the notes. Do not describe the research process.
- Keep every citation marker from the notes that supports a statement you use, exactly as written, including its link.
- If a note reports that a source failed, you may mention the gap briefly.

`)
	writeHistory(&sb, history)
	sb.WriteString(fmt.Sprintf("## Question:\n%s\n\n", topic))
	sb.WriteString(fmt.Sprintf("## Notes:\n%s\n", summaries))
	return sb.String()
}

// DocumentQA restricts the model to the supplied document
func DocumentQA(question, document string) string {
	var sb strings.Builder
	sb.WriteString(`Answer the question using only the document below.

## Guidelines:
- Do not search the web or use outside knowledge.
- If the document does not contain the answer, say so plainly.
- Do not guess at details the document does not state.

`)
	sb.WriteString(fmt.Sprintf("## Question:\n%s\n\n", question))
	sb.WriteString(fmt.Sprintf("## Document:\n---\n%s\n---\n", document))
	return sb.String()
}

// URLSummary asks for a summary of url. When pageText is empty the model is
// asked to look the page up itself.
func URLSummary(date, url, pageText string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Summarize the page at %s.\n\n", url))
	sb.WriteString(`## Guidelines:
- Capture the main topics and findings in a few short paragraphs.
- Mention the source URL once at the start or the end.
`)
	sb.WriteString(fmt.Sprintf("- Today is %s; note if the content looks out of date.\n", date))
	if strings.TrimSpace(pageText) == "" {
		sb.WriteString("- Use search to retrieve the page content before summarizing.\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("\n## Page Content:\n%s\n", pageText))
	return sb.String()
}

func writeHistory(sb *strings.Builder, history string) {
	if strings.TrimSpace(history) == "" {
		return
	}
	sb.WriteString("## Earlier Conversation:\n")
	sb.WriteString(history)
	sb.WriteString("\n")
}
