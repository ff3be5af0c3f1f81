package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/term"

	"github.com/sage-hq/sage/cli/tui"
	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/audit"
)

// runAudit prints, follows, or interactively browses the audit log.
func runAudit(args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var (
		limit       int
		jsonFlag    bool
		follow      bool
		interactive bool
	)
	fs.IntVar(&limit, "n", 20, "number of most recent entries to show (0 = all)")
	fs.BoolVar(&jsonFlag, "json", false, "output entries as JSON lines")
	fs.BoolVar(&follow, "follow", false, "watch the log and print new entries as they arrive")
	fs.BoolVar(&interactive, "interactive", false, "browse the log in a TUI")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := core.LoadConfig(core.Home())
	logger := audit.NewLogger(cfg.Logging.Path)

	if interactive {
		return runAuditTUI(logger)
	}

	entries, err := logger.Read(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading audit log: %v\n", err)
		return 2
	}
	for _, e := range entries {
		printEntry(e, jsonFlag)
	}

	if follow {
		return followAudit(cfg.Logging.Path, jsonFlag)
	}
	return 0
}

// followAudit tails the log via fsnotify, printing entries appended after
// the initial read.
func followAudit(path string, jsonFlag bool) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating watcher: %v\n", err)
		return 2
	}
	defer watcher.Close()

	// Watch the directory: the active file may not exist yet, and rotation
	// replaces it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		fmt.Fprintf(os.Stderr, "error: watching %s: %v\n", filepath.Dir(path), err)
		return 2
	}

	offset := fileSize(path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return 0
			}
			if event.Name != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			size := fileSize(path)
			if size < offset {
				offset = 0 // rotated
			}
			offset = printFrom(path, offset, jsonFlag)

		case err, ok := <-watcher.Errors:
			if !ok {
				return 0
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)

		case <-sigCh:
			return 0
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// printFrom prints complete JSONL lines starting at offset and returns the
// new offset, leaving any torn trailing line for the next event.
func printFrom(path string, offset int64, jsonFlag bool) int64 {
	data, err := os.ReadFile(path)
	if err != nil || int64(len(data)) <= offset {
		return offset
	}
	chunk := data[offset:]

	consumed := 0
	for {
		idx := strings.IndexByte(string(chunk[consumed:]), '\n')
		if idx < 0 {
			break
		}
		line := chunk[consumed : consumed+idx]
		consumed += idx + 1
		var e audit.Entry
		if json.Unmarshal(line, &e) == nil {
			printEntry(e, jsonFlag)
		}
	}
	return offset + int64(consumed)
}

func printEntry(e audit.Entry, jsonFlag bool) {
	if jsonFlag {
		data, err := json.Marshal(e)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	summary := e.ToolInputSummary
	if len(e.Reasons) > 0 {
		summary += "  — " + strings.Join(e.Reasons, "; ")
	}
	fmt.Printf("%s  %s  %-10s  %s\n",
		faintStyle.Render(e.Timestamp.Format("2006-01-02 15:04:05")),
		renderDecision(e.Verdict), e.ToolName, summary)
}

// runAuditTUI opens the interactive browser. Requires a terminal.
func runAuditTUI(logger *audit.Logger) int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "error: -interactive requires a terminal")
		return 2
	}
	entries, err := logger.Read(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading audit log: %v\n", err)
		return 2
	}
	if len(entries) == 0 {
		fmt.Println("audit log is empty")
		return 0
	}

	p := tea.NewProgram(tui.New(entries), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: running TUI: %v\n", err)
		return 2
	}
	return 0
}
