package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sage-hq/sage/assist"
	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/audit"
)

// runExplain sends recent audited verdicts to an LLM for plain-language
// explanations.
func runExplain(args []string) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	var (
		limit   int
		model   string
		baseURL string
		apiKey  string
		output  string
		timeout time.Duration
	)
	fs.IntVar(&limit, "n", 20, "number of most recent verdicts to explain")
	fs.StringVar(&model, "model", "gpt-4o-mini", "model name")
	fs.StringVar(&baseURL, "base-url", "", "OpenAI-compatible endpoint (Ollama, vLLM, Azure, ...)")
	fs.StringVar(&apiKey, "api-key", "", "API key (defaults to OPENAI_API_KEY)")
	fs.StringVar(&output, "output", "", "write the JSON report to a file instead of stdout")
	fs.DurationVar(&timeout, "timeout", 2*time.Minute, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := core.LoadConfig(core.Home())
	entries, err := audit.NewLogger(cfg.Logging.Path).Read(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading audit log: %v\n", err)
		return 2
	}
	if len(entries) == 0 {
		fmt.Println("no audited verdicts to explain")
		return 0
	}

	provider := assist.NewOpenAIProvider(
		assist.WithModel(model),
		assist.WithAPIKey(apiKey),
		assist.WithBaseURL(baseURL),
		assist.WithTimeout(timeout),
	)

	report, err := assist.NewExplainer(provider).Explain(context.Background(), entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: explaining verdicts: %v\n", err)
		return 2
	}

	if output != "" {
		if err := report.WriteFile(output); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		fmt.Printf("wrote %s\n", output)
		return 0
	}

	data, err := report.JSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encoding report: %v\n", err)
		return 2
	}
	fmt.Println(string(data))
	return 0
}
