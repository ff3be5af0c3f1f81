package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/audit"
	"github.com/sage-hq/sage/core/decision"
	"github.com/sage-hq/sage/core/pluginscan"
	"github.com/sage-hq/sage/core/repute"
	"github.com/sage-hq/sage/core/threat"
)

// runScanPlugins scans installed host plugins. The plugin inventory is a
// JSON array of {key, install_path, version, last_updated} objects provided
// by the host adapter, read from -input or stdin.
func runScanPlugins(args []string) int {
	fs := flag.NewFlagSet("scan-plugins", flag.ContinueOnError)
	var (
		input    string
		jsonFlag bool
	)
	fs.StringVar(&input, "input", "-", "plugin inventory JSON file, or - for stdin")
	fs.BoolVar(&jsonFlag, "json", false, "output reports as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	plugins, err := readPlugins(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	home := core.Home()
	cfg := core.LoadConfig(home)

	rules, err := threat.LoadDir(core.ThreatDir(home), cfg.DisabledThreats)
	if err != nil {
		rules = threat.NewSet()
	}
	trusted, err := threat.LoadTrustedDir(core.TrustedDir(home))
	if err != nil {
		trusted = threat.NewTrustedSet()
	}

	scanner := &pluginscan.Scanner{Rules: rules, Trusted: trusted}
	if cfg.URLCheck.Enabled && cfg.URLCheck.Endpoint != "" {
		scanner.URLClient = repute.NewURLClient(cfg.URLCheck.Endpoint, cfg.URLCheck.Timeout())
	}
	if cfg.FileCheck.Enabled && cfg.FileCheck.Endpoint != "" {
		scanner.Files = repute.NewFileClient(cfg.FileCheck.Endpoint, cfg.FileCheck.Timeout())
	}

	hash := pluginscan.ConfigHash(version, core.ThreatDir(home), core.TrustedDir(home))
	cache := pluginscan.OpenCache(filepath.Join(home, "plugin_scan_cache.json"), hash)

	reports := scanner.Scan(context.Background(), plugins, cache)
	cache.Save()
	auditReports(cfg, reports)

	if jsonFlag {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: encoding reports: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
	} else {
		printReports(plugins, reports)
	}

	if len(reports) > 0 {
		return 1
	}
	return 0
}

func readPlugins(input string) ([]pluginscan.Plugin, error) {
	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugin inventory: %w", err)
	}

	var plugins []pluginscan.Plugin
	if err := json.Unmarshal(data, &plugins); err != nil {
		return nil, fmt.Errorf("parsing plugin inventory: %w", err)
	}
	return plugins, nil
}

func printReports(plugins []pluginscan.Plugin, reports []pluginscan.Report) {
	fmt.Printf("scanned %d plugin(s), %d with findings\n", len(plugins), len(reports))
	for _, r := range reports {
		cached := ""
		if r.FromCache {
			cached = " (cached)"
		}
		fmt.Printf("\n%s %s%s\n", r.Plugin.Key, r.Plugin.Version, cached)
		for _, f := range r.Findings {
			loc := f.SourceFile
			if loc == "" {
				loc = "-"
			}
			fmt.Printf("  [%s] %s  %s  %s\n",
				renderSeverity(decision.Severity(f.Severity)), f.ThreatID, loc, f.Artifact)
		}
	}
}

// auditReports logs one entry per plugin with findings, fail-open.
func auditReports(cfg core.Config, reports []pluginscan.Report) {
	if !cfg.Logging.Enabled {
		return
	}
	l := audit.NewLogger(cfg.Logging.Path)
	l.MaxBytes = cfg.Logging.MaxBytes
	l.MaxFiles = cfg.Logging.MaxFiles

	for _, r := range reports {
		reasons := make([]string, 0, len(r.Findings))
		for _, f := range r.Findings {
			reasons = append(reasons, f.ThreatID+": "+f.Artifact)
		}
		_ = l.Append(audit.Entry{
			Type:     audit.TypePluginScan,
			ToolName: r.Plugin.Key,
			Reasons:  reasons,
			Source:   "plugin_scan",
		})
	}
}
