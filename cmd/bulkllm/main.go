// Bulkllm admits batches of LLM calls through per-model rate limits.
//
// Usage:
//
//	# Show the configured rules
//	bulkllm rules list --config bulkllm.yaml
//
//	# Which rule governs an identifier
//	bulkllm rules match openai/gpt-4o anthropic/claude-3-5-sonnet
//
//	# Identifiers that fall back to the unbounded default rule
//	bulkllm rules missing openai/gpt-4o my-local-model
//
//	# Push synthetic tasks through the scheduler
//	bulkllm simulate --tasks 200 --resource openai/gpt-4o --latency 300ms
//
//	# Size a prompt against the rules
//	bulkllm estimate -r openai/gpt-4o --max-tokens 512 < prompt.txt
//
//	# Summarize the usage journal
//	bulkllm usage --since 1h
package main

func main() {
	Execute()
}
