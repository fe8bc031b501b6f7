package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
)

var rulesFlags struct {
	fromFile string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the configured rate limit rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in match order",
	Args:  cobra.NoArgs,
	RunE:  listRules,
}

var rulesMatchCmd = &cobra.Command{
	Use:   "match [identifier...]",
	Short: "Show which rule governs each identifier",
	Long: `Show which rule governs each identifier.

Identifiers are resolved through the alias catalog first when
catalog.aliases_file is configured. Exact patterns are matched before regular
expressions; identifiers matching nothing use the default rule.`,
	RunE: matchRules,
}

var rulesMissingCmd = &cobra.Command{
	Use:   "missing [identifier...]",
	Short: "List identifiers that fall back to the default rule",
	Long: `List identifiers that match no configured rule and would run with the
unbounded default rule. Exits with status 1 when any are found, so the command
can guard deployments.

Identifiers are read from the arguments, from --from-file, or from standard
input when neither is given ("-" also means standard input).`,
	RunE: missingRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesMatchCmd, rulesMissingCmd)

	for _, c := range []*cobra.Command{rulesMatchCmd, rulesMissingCmd} {
		c.Flags().StringVarP(&rulesFlags.fromFile, "from-file", "f", "", "read identifiers from a file, one per line")
	}
}

func listRules(cmd *cobra.Command, args []string) error {
	a, err := openRulesApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	t := cli.NewTable("RULE", "PATTERNS", "REGEX", "REQUESTS", "INPUT_TOKENS", "OUTPUT_TOKENS", "TOTAL_TOKENS", "MAX_CONCURRENT", "WINDOW")
	limiter := a.manager.Limiter()
	for _, r := range append(limiter.Rules(), limiter.Default()) {
		patterns := strings.Join(r.Patterns(), ", ")
		if limiter.IsDefault(r) {
			patterns = "*"
		}
		l := r.Limits()
		t.Append(r.Name(), patterns, r.IsRegex(),
			limitCell(l.RequestsPerWindow), limitCell(l.InputTokensPerWindow),
			limitCell(l.OutputTokensPerWindow), limitCell(l.TotalTokensPerWindow),
			concurrencyCell(r.MaxConcurrent()), r.Window())
	}
	return printTable(cmd, t)
}

func matchRules(cmd *cobra.Command, args []string) error {
	ids, err := readIdentifiers(cmd, args)
	if err != nil {
		return err
	}
	a, err := openRulesApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	t := cli.NewTable("IDENTIFIER", "RESOURCE", "RULE", "DEFAULT")
	for _, id := range ids {
		resource := a.resolver.Resolve(cmd.Context(), id)
		rule := a.manager.GetRule(resource)
		t.Append(id, resource, rule.Name(), a.manager.Limiter().IsDefault(rule))
	}
	return printTable(cmd, t)
}

func missingRules(cmd *cobra.Command, args []string) error {
	ids, err := readIdentifiers(cmd, args)
	if err != nil {
		return err
	}
	a, err := openRulesApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	resources := make([]string, len(ids))
	byResource := make(map[string]string, len(ids))
	for i, id := range ids {
		resources[i] = a.resolver.Resolve(cmd.Context(), id)
		byResource[resources[i]] = id
	}

	t := cli.NewTable("IDENTIFIER", "RESOURCE")
	missing := a.manager.Missing(resources)
	for _, res := range missing {
		t.Append(byResource[res], res)
	}
	if err := printTable(cmd, t); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d of %d identifiers have no rate limit rule", len(missing), len(ids))
	}
	return nil
}

func openRulesApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, appOptions{})
}

// readIdentifiers returns the identifiers named by args, --from-file, or
// standard input, skipping blank lines and # comments.
func readIdentifiers(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return args, nil
	}

	var r io.Reader = cmd.InOrStdin()
	if rulesFlags.fromFile != "" && rulesFlags.fromFile != "-" {
		f, err := os.Open(rulesFlags.fromFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identifiers: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identifiers given")
	}
	return ids, nil
}

func limitCell(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func concurrencyCell(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
