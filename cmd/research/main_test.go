package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/workflows"
)

func TestParseUploads(t *testing.T) {
	uploads, err := parseUploads([]string{"report=/tmp/r.pdf", " /data/notes.txt ", ""})
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "report", uploads[0].Name)
	assert.Equal(t, "/tmp/r.pdf", uploads[0].Path)
	assert.Equal(t, "notes.txt", uploads[1].Name)
	assert.Equal(t, "/data/notes.txt", uploads[1].Path)

	_, err = parseUploads([]string{"=/tmp/x"})
	assert.Error(t, err)
}

func TestParseUploadsMakesPathsAbsolute(t *testing.T) {
	uploads, err := parseUploads([]string{"a.txt"})
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.True(t, filepath.IsAbs(uploads[0].Path))
}

func TestInputFromFlags(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("the contract was signed by Ada"), 0o644))

	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	require.NoError(t, cmd.Flags().Set("kind", "document_qa"))
	require.NoError(t, cmd.Flags().Set("document-file", doc))
	require.NoError(t, cmd.Flags().Set("max-rounds", "4"))
	require.NoError(t, cmd.Flags().Set("model", "gemini-2.5-pro"))
	require.NoError(t, cmd.Flags().Set("upload", "a=/x/a.pdf"))
	require.NoError(t, cmd.Flags().Set("upload", "b=/x/b.pdf"))

	in, err := inputFromFlags(cmd, []string{"  Who signed?  "})
	require.NoError(t, err)
	assert.Equal(t, "Who signed?", in.Query)
	assert.Equal(t, "document_qa", in.TaskKind)
	assert.Equal(t, "the contract was signed by Ada", in.DocumentContext)
	assert.Equal(t, 4, in.MaxRounds)
	assert.Zero(t, in.InitialQueryCount)
	assert.Equal(t, "gemini-2.5-pro", in.ReasoningModel)
	require.Len(t, in.Uploads, 2)
	assert.Equal(t, "b", in.Uploads[1].Name)
}

func TestKindFlagDefaultsToResearch(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	assert.Contains(t, cmd.Flags().Lookup("kind").Usage, "(default: research)")

	in, err := inputFromFlags(cmd, []string{"What changed in Go 1.22?"})
	require.NoError(t, err)
	assert.Empty(t, in.TaskKind)
	assert.Equal(t, state.TaskResearch, state.ParseTaskKind(in.TaskKind))
}

func TestInputFromFlagsRequiresQuestionOrURL(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	_, err := inputFromFlags(cmd, nil)
	assert.Error(t, err)

	require.NoError(t, cmd.Flags().Set("url", "https://example.com"))
	in, err := inputFromFlags(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", in.TargetURL)
}

func TestWriteResult(t *testing.T) {
	result := workflows.ResearchResult{
		Answer:     "Solid-state cells are entering pilot production [nrel](https://vertexaisearch.cloud.google.com/id/0-0).",
		Sources:    []metadata.Source{{Label: "nrel", ShortCode: "https://vertexaisearch.cloud.google.com/id/0-0", Value: "https://nrel.gov/a"}},
		Path:       "research",
		Rounds:     2,
		QueriesRun: 4,
	}

	var text bytes.Buffer
	require.NoError(t, writeResult(&text, "text", result))
	assert.True(t, strings.HasPrefix(text.String(), result.Answer))
	assert.Contains(t, text.String(), "[nrel] https://nrel.gov/a")
	assert.NotContains(t, text.String(), "Note:")

	var out bytes.Buffer
	require.NoError(t, writeResult(&out, "yaml", result))
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "research", decoded["path"])

	out.Reset()
	require.NoError(t, writeResult(&out, "json", result))
	assert.Contains(t, out.String(), `"queries_run": 4`)
}

func TestCheckOutputFormat(t *testing.T) {
	assert.NoError(t, checkOutputFormat("yaml"))
	assert.Error(t, checkOutputFormat("xml"))
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, streaming.Event{Type: streaming.EventFinalized, Seq: 7, Timestamp: time.Now()})
	assert.Contains(t, buf.String(), "#7 finalized")
}

func TestWriteProgress(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeProgress(&buf, "text", workflows.Progress{
		Phase: workflows.PhaseReflecting, Path: "research", Round: 1, MaxRounds: 2, QueriesRun: 3,
	}))
	assert.Contains(t, buf.String(), "round:    1/2")
	assert.NotContains(t, buf.String(), "gap:")
}

func TestWriteRunText(t *testing.T) {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(42 * time.Second)
	answer := "Load returns nil."
	v := runViewOf(&db.ResearchRun{
		WorkflowID:  "research-1",
		Path:        "research",
		Query:       "what does Load return",
		Status:      db.RunStatusCompleted,
		Rounds:      2,
		QueriesRun:  3,
		SourcesKept: 1,
		Answer:      &answer,
		StartedAt:   started,
		CompletedAt: &done,
	})

	var buf bytes.Buffer
	require.NoError(t, writeRun(&buf, "text", v))
	out := buf.String()
	assert.Contains(t, out, "workflow: research-1 (COMPLETED)")
	assert.Contains(t, out, "rounds:   2, queries: 3, sources: 1")
	assert.Contains(t, out, "took:     42s")
	assert.Contains(t, out, "Load returns nil.")
	assert.NotContains(t, out, "error:")
}

func TestWriteRunJSON(t *testing.T) {
	msg := "plan queries: quota"
	v := runViewOf(&db.ResearchRun{WorkflowID: "research-2", Status: db.RunStatusFailed, ErrorMessage: &msg})

	var buf bytes.Buffer
	require.NoError(t, writeRun(&buf, "json", v))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "FAILED", decoded["status"])
	assert.Equal(t, msg, decoded["error"])
	assert.NotContains(t, decoded, "completed_at")
}
