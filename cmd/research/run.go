package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	cfg "github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/constants"
	"github.com/Kocoro-lab/converge/internal/state"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/workflows"
)

const eventGrace = 3 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Start a research workflow and wait for the answer",
	Example: `
# Research a topic with the default loop settings
research run "What changed in the EU AI Act in 2025?"

# Ask about a local document
research run --kind document_qa --document-file notes.txt "Who signed the agreement?"

# Summarize a page and print YAML
research run --kind url_summary --url https://example.com/post --output yaml

# Follow progress events while the workflow runs (requires redis.enabled)
research run --watch "Current state of solid-state batteries"
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResearch,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("kind", "", "Task kind: research, document_qa or url_summary (default: research)")
	f.String("document-file", "", "Read document context for document_qa from this file")
	f.String("url", "", "Target URL for url_summary")
	f.String("session", "", "Session id linking follow-up questions")
	f.StringSlice("upload", nil, "Attach an uploaded file as name=path or path (repeatable)")
	f.Int("initial-queries", 0, "Override the number of initial search queries")
	f.Int("max-rounds", 0, "Override the maximum number of research rounds")
	f.String("model", "", "Reasoning model for reflection and the final answer")
	f.StringP("output", "o", "text", "Output format: text, json or yaml")
	f.Bool("watch", false, "Print progress events to stderr while waiting")
	f.String("workflow-id", "", "Workflow id (default: generated)")
}

func runResearch(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	input, err := inputFromFlags(cmd, args)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if err := checkOutputFormat(output); err != nil {
		return err
	}

	logger := newLogger(cmd)
	tc, err := dialTemporal(conf, logger)
	if err != nil {
		return err
	}
	defer tc.Close()

	workflowID, _ := cmd.Flags().GetString("workflow-id")
	if workflowID == "" {
		workflowID = "research-" + uuid.New().String()
	}

	ctx := commandContext(cmd)
	run, err := tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: conf.Temporal.TaskQueue,
	}, constants.ResearchWorkflowName, input)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "workflow %s started (run %s)\n", run.GetID(), run.GetRunID())

	var result workflows.ResearchResult
	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		if err := run.Get(ctx, &result); err != nil {
			return fmt.Errorf("workflow %s failed: %w", run.GetID(), err)
		}
		return writeResult(cmd.OutOrStdout(), output, result)
	}

	events, closeEvents, err := newEventManager(conf)
	if err != nil {
		return err
	}
	defer closeEvents()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	g, gctx := errgroup.WithContext(watchCtx)
	ch := make(chan streaming.Event, 16)
	g.Go(func() error {
		defer close(ch)
		return events.Subscribe(gctx, run.GetID(), 0, ch)
	})
	g.Go(func() error {
		for evt := range ch {
			printEvent(cmd.ErrOrStderr(), evt)
		}
		return nil
	})
	g.Go(func() error {
		if err := run.Get(ctx, &result); err != nil {
			return err
		}
		// the terminal event normally ends the subscription; stop it anyway
		// if publishing was lost
		time.AfterFunc(eventGrace, stopWatch)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("workflow %s failed: %w", run.GetID(), err)
	}
	return writeResult(cmd.OutOrStdout(), output, result)
}

func inputFromFlags(cmd *cobra.Command, args []string) (workflows.ResearchInput, error) {
	f := cmd.Flags()
	var in workflows.ResearchInput
	if len(args) > 0 {
		in.Query = strings.TrimSpace(args[0])
	}
	in.TaskKind, _ = f.GetString("kind")
	in.TargetURL, _ = f.GetString("url")
	in.SessionID, _ = f.GetString("session")
	in.InitialQueryCount, _ = f.GetInt("initial-queries")
	in.MaxRounds, _ = f.GetInt("max-rounds")
	in.ReasoningModel, _ = f.GetString("model")

	if path, _ := f.GetString("document-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("read document: %w", err)
		}
		in.DocumentContext = string(b)
	}
	specs, _ := f.GetStringSlice("upload")
	uploads, err := parseUploads(specs)
	if err != nil {
		return in, err
	}
	in.Uploads = uploads

	if in.Query == "" && in.TargetURL == "" {
		return in, fmt.Errorf("a question or --url is required")
	}
	return in, nil
}

// parseUploads accepts name=path or a bare path named after its base name.
// Paths are made absolute since the worker resolves them on its own host.
func parseUploads(specs []string) ([]state.Upload, error) {
	var uploads []state.Upload
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		name, path, found := strings.Cut(spec, "=")
		if !found {
			path = name
			name = filepath.Base(path)
		}
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid upload %q: want name=path", spec)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve upload %q: %w", path, err)
		}
		uploads = append(uploads, state.Upload{Name: name, Path: abs})
	}
	return uploads, nil
}

func checkOutputFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeResult(w io.Writer, format string, result workflows.ResearchResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintln(w, result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, s := range result.Sources {
			fmt.Fprintf(w, "  [%s] %s\n", s.Label, s.Value)
		}
	}
	if result.Diagnostic != "" {
		fmt.Fprintf(w, "\nNote: %s\n", result.Diagnostic)
	}
	return nil
}

func newEventManager(conf *cfg.Config) (*streaming.Manager, func(), error) {
	if !conf.Redis.Enabled {
		return nil, nil, fmt.Errorf("progress events need redis.enabled in the worker configuration")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	return streaming.NewManager(rdb, conf.Redis.StreamMaxLen, nil), func() { _ = rdb.Close() }, nil
}

func printEvent(w io.Writer, evt streaming.Event) {
	ts := evt.Timestamp.Local().Format("15:04:05")
	if evt.Message != "" {
		fmt.Fprintf(w, "%s #%d %-20s %s\n", ts, evt.Seq, evt.Type, evt.Message)
		return
	}
	fmt.Fprintf(w, "%s #%d %s\n", ts, evt.Seq, evt.Type)
}
