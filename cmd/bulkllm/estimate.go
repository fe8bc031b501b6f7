package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/tokens"
)

var estimateFlags struct {
	resources []string
	file      string
	system    string
	maxTokens int64
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the reservation for a prompt",
	Long: `Estimate the tokens a prompt would reserve and check it against the rule
governing each resource.

The prompt is read from --file or standard input. FITS is "yes" when the rule
has room right now, "wait" when the window is full, and "never" when the
estimate exceeds a limit outright.

Examples:
  bulkllm estimate -r openai/gpt-4o -r anthropic/claude-3-5-sonnet < prompt.txt
  bulkllm estimate -f prompt.txt --max-tokens 1024`,
	Args: cobra.NoArgs,
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	f := estimateCmd.Flags()
	f.StringArrayVarP(&estimateFlags.resources, "resource", "r", []string{"openai/gpt-4o"}, "resource identifier (repeatable)")
	f.StringVarP(&estimateFlags.file, "file", "f", "", "read the prompt from a file")
	f.StringVar(&estimateFlags.system, "system", "", "system prompt")
	f.Int64Var(&estimateFlags.maxTokens, "max-tokens", 0, "output token limit of the request (0 = estimate from the prompt)")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{journal: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	msgs := []tokens.Message{{Role: "user", Content: prompt}}
	if estimateFlags.system != "" {
		msgs = append([]tokens.Message{{Role: "system", Content: estimateFlags.system}}, msgs...)
	}

	t := cli.NewTable("RESOURCE", "RULE", "CHARS_PER_TOKEN", "INPUT_TOKENS", "OUTPUT_TOKENS", "TOTAL_TOKENS", "FITS")
	for _, id := range estimateFlags.resources {
		resource := a.resolver.Resolve(cmd.Context(), id)
		e := a.estimator.Estimate(resource, msgs, estimateFlags.maxTokens)
		rule := a.manager.GetRule(resource)

		fits := "yes"
		if ok, err := rule.HasCapacity(e.InputTokens, e.OutputTokens); err != nil {
			fits = "never"
			a.logger.Debug("estimate exceeds rule limits", "resource", resource, "rule", rule.Name(), "error", err)
		} else if !ok {
			fits = "wait"
		}
		t.Append(resource, rule.Name(), a.estimator.CharsPerToken(resource),
			e.InputTokens, e.OutputTokens, e.Total(), fits)
	}
	return printTable(cmd, t)
}

func readPrompt(cmd *cobra.Command) (string, error) {
	r := cmd.InOrStdin()
	if estimateFlags.file != "" && estimateFlags.file != "-" {
		f, err := os.Open(estimateFlags.file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty prompt")
	}
	return string(data), nil
}
