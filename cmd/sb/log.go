package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
)

func newLogCmd() *cobra.Command {
	var (
		configPath string
		lines      int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent answered questions",
		Long:  "Displays the most recent interactions from the ledger database, newest last.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, configPath, lines)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Switchboard config file")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of recent interactions to show")
	return cmd
}

func runLog(cmd *cobra.Command, configPath string, lines int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	entries, err := ledger.RecentInteractions(gormDB, lines)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No interactions recorded.")
		return nil
	}

	// Reverse for chronological display.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	for _, e := range entries {
		printInteraction(out, e)
	}
	return nil
}

func printInteraction(out io.Writer, e models.Interaction) {
	ts := e.CreatedAt.Format("2006-01-02 15:04")
	flags := feedbackMark(e.Feedback)
	if e.Escalated {
		flags += " [escalated]"
	}
	fmt.Fprintf(out, "[%s] %s: %s%s\n", ts, e.UserName, truncate(e.Question, 80), flags)
}

func feedbackMark(feedback string) string {
	switch feedback {
	case models.FeedbackPositive:
		return " [+]"
	case models.FeedbackNegative:
		return " [-]"
	default:
		return ""
	}
}

// truncate shortens s to max characters, appending "..." when cut.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
