package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history <workflow-id>",
	Short: "Show the stored run record of a finished research workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !conf.Postgres.Enabled {
			return fmt.Errorf("run history needs postgres.enabled in the worker configuration")
		}
		output, _ := cmd.Flags().GetString("output")
		if err := checkOutputFormat(output); err != nil {
			return err
		}

		ctx := commandContext(cmd)
		client, err := db.NewClient(ctx, conf.Postgres, newLogger(cmd))
		if err != nil {
			return err
		}
		defer client.Close()

		run, err := client.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return writeRun(cmd.OutOrStdout(), output, runViewOf(run))
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <session-id>",
	Short: "Delete the stored transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !conf.Redis.Enabled {
			return fmt.Errorf("sessions need redis.enabled in the worker configuration")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		sessions := session.NewManager(rdb, conf.Redis.SessionTTL, newLogger(cmd))
		defer sessions.Close()

		if err := sessions.DeleteSession(commandContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot session %s\n", args[0])
		return nil
	},
}

func init() {
	historyCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runView is the printable form of db.ResearchRun
type runView struct {
	WorkflowID  string     `json:"workflow_id" yaml:"workflow_id"`
	SessionID   string     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Path        string     `json:"path" yaml:"path"`
	Query       string     `json:"query" yaml:"query"`
	Status      string     `json:"status" yaml:"status"`
	Rounds      int        `json:"rounds" yaml:"rounds"`
	QueriesRun  int        `json:"queries_run" yaml:"queries_run"`
	SourcesKept int        `json:"sources_kept" yaml:"sources_kept"`
	Answer      string     `json:"answer,omitempty" yaml:"answer,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

func runViewOf(r *db.ResearchRun) runView {
	v := runView{
		WorkflowID:  r.WorkflowID,
		SessionID:   r.SessionID,
		Path:        r.Path,
		Query:       r.Query,
		Status:      r.Status,
		Rounds:      r.Rounds,
		QueriesRun:  r.QueriesRun,
		SourcesKept: r.SourcesKept,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Answer != nil {
		v.Answer = *r.Answer
	}
	if r.ErrorMessage != nil {
		v.Error = *r.ErrorMessage
	}
	return v
}

func writeRun(w io.Writer, format string, v runView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	}
	fmt.Fprintf(w, "workflow: %s (%s)\n", v.WorkflowID, v.Status)
	fmt.Fprintf(w, "path:     %s\n", v.Path)
	fmt.Fprintf(w, "query:    %s\n", v.Query)
	fmt.Fprintf(w, "rounds:   %d, queries: %d, sources: %d\n", v.Rounds, v.QueriesRun, v.SourcesKept)
	if v.CompletedAt != nil {
		fmt.Fprintf(w, "took:     %s\n", v.CompletedAt.Sub(v.StartedAt).Round(time.Millisecond))
	}
	if v.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", v.Error)
	}
	if v.Answer != "" {
		fmt.Fprintf(w, "\n%s\n", v.Answer)
	}
	return nil
}
