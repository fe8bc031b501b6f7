package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/limits/ratelimit"
	"mercator-hq/bulkllm/pkg/limits/storage"
)

var usageFlags struct {
	since  time.Duration
	window bool
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize the usage journal",
	Long: `Summarize recorded usage per rule from the storage backend.

With --window, the journal is restored into the rules and the current
rolling-window consumption of every rule is shown against its limits
instead.`,
	Args: cobra.NoArgs,
	RunE: showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().DurationVar(&usageFlags.since, "since", 24*time.Hour, "summarize records completed within this period")
	usageCmd.Flags().BoolVar(&usageFlags.window, "window", false, "show current window consumption per rule")
}

func showUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{journal: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if usageFlags.window {
		return printTable(cmd, windowTable(a.manager.Snapshots()))
	}

	records, err := a.backend.LoadSince(cmd.Context(), time.Now().Add(-usageFlags.since))
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	t := cli.NewTable("RULE", "REQUESTS", "INPUT_TOKENS", "OUTPUT_TOKENS", "FIRST", "LAST")
	for _, s := range storage.Summarize(records) {
		t.Append(s.Rule, s.Requests, s.InputTokens, s.OutputTokens,
			s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
	}
	return printTable(cmd, t)
}

// windowTable renders used/limit per dimension for each rule.
func windowTable(snapshots []ratelimit.Snapshot) *cli.Table {
	headers := []string{"RULE", "PENDING"}
	for _, d := range ratelimit.Dimensions() {
		headers = append(headers, strings.ToUpper(string(d)))
	}
	t := cli.NewTable(headers...)
	for _, s := range snapshots {
		row := []any{s.Name, s.PendingRequests}
		for _, d := range ratelimit.Dimensions() {
			row = append(row, usageCell(s, d))
		}
		t.Append(row...)
	}
	return t
}

func usageCell(s ratelimit.Snapshot, d ratelimit.Dimension) string {
	used := s.Used(d)
	limit, ok := s.Limits.Get(d)
	if !ok {
		return fmt.Sprint(used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}
