// Command research starts and inspects research workflows on a running
// converge worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	cfg "github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/temporal"
)

var rootCmd = &cobra.Command{
	Use:           "research",
	Short:         "Run and inspect converge research workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to converge.yaml (default: $CONVERGE_CONFIG or config/converge.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log Temporal client activity to stderr")
	rootCmd.AddCommand(runCmd, progressCmd, eventsCmd, historyCmd, forgetCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the same configuration the worker uses
func loadConfig(cmd *cobra.Command) (*cfg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := cfg.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}

func dialTemporal(c *cfg.Config, logger *zap.Logger) (client.Client, error) {
	tc, err := client.Dial(client.Options{
		HostPort:  c.Temporal.HostPort,
		Namespace: c.Temporal.Namespace,
		Logger:    temporal.NewZapAdapter(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", c.Temporal.HostPort, err)
	}
	return tc, nil
}
