// Package main is the entry point for the sage CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sage-hq/sage/core/repute"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code.
// 0 = success, 2 = usage or internal error. The hook command always returns
// 0 regardless of what happens inside it.
func run(args []string) int {
	repute.SetProductVersion(version)

	fs := flag.NewFlagSet("sage", flag.ContinueOnError)
	var versionFlag bool
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sage <command> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  hook          Evaluate one tool call from stdin (host hook entry)\n")
		fmt.Fprintf(os.Stderr, "  scan-plugins  Scan installed host plugins for threats\n")
		fmt.Fprintf(os.Stderr, "  allowlist     Manage the allowlist\n")
		fmt.Fprintf(os.Stderr, "  audit         Inspect the audit log\n")
		fmt.Fprintf(os.Stderr, "  approvals     List, approve, and sweep held tool calls\n")
		fmt.Fprintf(os.Stderr, "  explain       Explain audited verdicts using an LLM\n")
		fmt.Fprintf(os.Stderr, "  version       Print version and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if versionFlag {
		printVersion()
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fs.Usage()
		return 2
	}

	switch remaining[0] {
	case "hook":
		return runHook(remaining[1:])
	case "scan-plugins":
		return runScanPlugins(remaining[1:])
	case "allowlist":
		return runAllowlist(remaining[1:])
	case "audit":
		return runAudit(remaining[1:])
	case "approvals":
		return runApprovals(remaining[1:])
	case "explain":
		return runExplain(remaining[1:])
	case "version":
		printVersion()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", remaining[0])
		fs.Usage()
		return 2
	}
}

func printVersion() {
	fmt.Printf("sage %s (commit: %s, built: %s)\n", version, commit, date)
}
