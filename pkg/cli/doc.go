/*
Package cli provides helpers shared by the bulkllm commands.

Tabular output is built as a Table and written by a Formatter chosen from
the --output flag:

	t := cli.NewTable("RULE", "PATTERNS", "REQUESTS")
	t.Append(rule.Name(), patterns, limit)
	return cli.NewFormatter(format, os.Stdout).Format(os.Stdout, t)

Batch progress is reported with a ProgressReporter, which only redraws a
bar when writing to a terminal.

Errors returned by commands are mapped to exit codes with ExitCode. A
*ConfigError exits with 2 and an interrupted run with 130.
*/
package cli
