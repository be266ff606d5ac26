package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/workflows"
)

var progressCmd = &cobra.Command{
	Use:   "progress <workflow-id>",
	Short: "Show the current phase and round of a research workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if err := checkOutputFormat(output); err != nil {
			return err
		}
		tc, err := dialTemporal(conf, newLogger(cmd))
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx := commandContext(cmd)
		resp, err := tc.QueryWorkflow(ctx, args[0], "", workflows.QueryResearchProgress)
		if err != nil {
			return fmt.Errorf("query progress: %w", err)
		}
		var p workflows.Progress
		if err := resp.Get(&p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		return writeProgress(cmd.OutOrStdout(), output, p)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <workflow-id> [since-seq]",
	Short: "Print progress events recorded for a workflow",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var since uint64
		if len(args) == 2 {
			since, err = strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence %q: %w", args[1], err)
			}
		}
		events, closeEvents, err := newEventManager(conf)
		if err != nil {
			return err
		}
		defer closeEvents()

		ctx := commandContext(cmd)
		follow, _ := cmd.Flags().GetBool("follow")
		if !follow {
			list, err := events.ReplaySince(ctx, args[0], since)
			if err != nil {
				return err
			}
			for _, evt := range list {
				printEvent(cmd.OutOrStdout(), evt)
			}
			return nil
		}

		ch := make(chan streaming.Event, 16)
		done := make(chan error, 1)
		go func() {
			done <- events.Subscribe(ctx, args[0], since, ch)
			close(ch)
		}()
		for evt := range ch {
			printEvent(cmd.OutOrStdout(), evt)
		}
		return <-done
	},
}

func init() {
	progressCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	eventsCmd.Flags().BoolP("follow", "f", false, "Keep reading until the workflow finishes")
}

func writeProgress(w io.Writer, format string, p workflows.Progress) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "yaml":
		return yaml.NewEncoder(w).Encode(p)
	}
	fmt.Fprintf(w, "phase:    %s\n", p.Phase)
	if p.Path != "" {
		fmt.Fprintf(w, "path:     %s\n", p.Path)
	}
	fmt.Fprintf(w, "round:    %d/%d\n", p.Round, p.MaxRounds)
	fmt.Fprintf(w, "queries:  %d\n", p.QueriesRun)
	if p.KnowledgeGap != "" {
		fmt.Fprintf(w, "gap:      %s\n", p.KnowledgeGap)
	}
	return nil
}
