package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/allowlist"
)

// runAllowlist manages the allowlist: add, remove, list.
func runAllowlist(args []string) int {
	if len(args) == 0 {
		allowlistUsage()
		return 2
	}

	cfg := core.LoadConfig(core.Home())
	store := allowlist.Load(cfg.Allowlist.Path)

	switch args[0] {
	case "add":
		return runAllowlistAdd(store, args[1:])
	case "remove":
		return runAllowlistRemove(store, args[1:])
	case "list":
		return runAllowlistList(store)
	default:
		fmt.Fprintf(os.Stderr, "unknown allowlist subcommand: %s\n", args[0])
		allowlistUsage()
		return 2
	}
}

func allowlistUsage() {
	fmt.Fprintln(os.Stderr, "Usage: sage allowlist <add|remove|list> [flags]")
	fmt.Fprintln(os.Stderr, "  add    -type url|command|path -value <v> [-reason <text>]")
	fmt.Fprintln(os.Stderr, "  remove -type url|command|path -value <v>")
	fmt.Fprintln(os.Stderr, "  list")
}

func runAllowlistAdd(store *allowlist.Store, args []string) int {
	fs := flag.NewFlagSet("allowlist add", flag.ContinueOnError)
	var typ, value, reason string
	fs.StringVar(&typ, "type", "", "entry type: url, command, path")
	fs.StringVar(&value, "value", "", "the URL, command, or file path")
	fs.StringVar(&reason, "reason", "added via cli", "why this entry is trusted")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if value == "" {
		fmt.Fprintln(os.Stderr, "error: -value is required")
		return 2
	}

	switch typ {
	case "url":
		store.AddURL(value, reason, "")
	case "command":
		store.AddCommand(value, reason, "")
	case "path":
		store.AddFilePath(value, reason, "")
	default:
		fmt.Fprintf(os.Stderr, "error: unknown type %q\n", typ)
		return 2
	}
	if err := store.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "error: saving allowlist: %v\n", err)
		return 2
	}
	fmt.Printf("allowlisted %s: %s\n", typ, value)
	return 0
}

func runAllowlistRemove(store *allowlist.Store, args []string) int {
	fs := flag.NewFlagSet("allowlist remove", flag.ContinueOnError)
	var typ, value string
	fs.StringVar(&typ, "type", "", "entry type: url, command, path")
	fs.StringVar(&value, "value", "", "the URL, command, or file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var removed bool
	switch typ {
	case "url":
		removed = store.RemoveURL(value)
	case "command":
		removed = store.RemoveCommand(value)
	case "path":
		removed = store.RemoveFilePath(value)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown type %q\n", typ)
		return 2
	}
	if !removed {
		fmt.Fprintln(os.Stderr, "no matching entry")
		return 1
	}
	if err := store.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "error: saving allowlist: %v\n", err)
		return 2
	}
	fmt.Printf("removed %s: %s\n", typ, value)
	return 0
}

func runAllowlistList(store *allowlist.Store) int {
	printSection := func(name string, entries map[string]allowlist.Entry) {
		if len(entries) == 0 {
			return
		}
		fmt.Printf("%s:\n", name)
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e := entries[k]
			fmt.Printf("  %s  (added %s: %s)\n", k, e.AddedAt.Format("2006-01-02"), e.Reason)
		}
	}
	printSection("urls", store.URLs)
	printSection("commands", store.Commands)
	printSection("file_paths", store.FilePaths)
	return 0
}
