package prompts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentDate(t *testing.T) {
	assert.Equal(t, "March 05, 2025", CurrentDate(time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)))
}

func TestQueryWriter(t *testing.T) {
	p := QueryWriter("March 05, 2025", "How do rockets land?", "", 3)
	assert.Contains(t, p, "Never return more than 3 queries")
	assert.Contains(t, p, "Today is March 05, 2025")
	assert.Contains(t, p, "How do rockets land?")
	assert.NotContains(t, p, "Earlier Conversation")

	withHistory := QueryWriter("d", "And the cost?", "User: How do rockets land?\n", 2)
	assert.Contains(t, withHistory, "## Earlier Conversation:\nUser: How do rockets land?")
}

func TestReflectionAndAnswerCarryNotes(t *testing.T) {
	notes := "block one\n\n---\n\nblock two"
	assert.Contains(t, Reflection("d", "topic", "", notes), notes)
	assert.Contains(t, Reflection("d", "topic", "", notes), `"arxiv"`)
	assert.Contains(t, Answer("d", "topic", "", notes), notes)
}

func TestURLSummaryModes(t *testing.T) {
	fetched := URLSummary("d", "https://go.dev", "Go is an open source language.")
	assert.Contains(t, fetched, "## Page Content:")
	assert.NotContains(t, fetched, "Use search")

	fallback := URLSummary("d", "https://go.dev", "")
	assert.Contains(t, fallback, "Use search")
	assert.NotContains(t, fallback, "## Page Content:")
}

func TestDocumentQA(t *testing.T) {
	p := DocumentQA("What does main do?", "func main() {}")
	assert.Contains(t, p, "What does main do?")
	assert.Contains(t, p, "---\nfunc main() {}\n---")
}
