package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/approval"
	"github.com/sage-hq/sage/core/decision"
)

// runApprovals lists, approves, and sweeps held tool calls.
func runApprovals(args []string) int {
	if len(args) == 0 {
		approvalsUsage()
		return 2
	}

	home := core.Home()
	cfg := core.LoadConfig(home)
	store := approval.NewStore(home)
	if cfg.Sensitivity == decision.Paranoid {
		store = store.WithConsumedTTL(approval.ParanoidConsumedTTL)
	}

	switch args[0] {
	case "approve":
		return runApprove(store, args[1:])
	case "list":
		return runApprovalsList(store)
	case "sweep":
		fmt.Printf("removed %d stale approvals file(s)\n", store.SweepStale())
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown approvals subcommand: %s\n", args[0])
		approvalsUsage()
		return 2
	}
}

func approvalsUsage() {
	fmt.Fprintln(os.Stderr, "Usage: sage approvals list")
	fmt.Fprintln(os.Stderr, "       sage approvals approve <action-id> [-session <sid>]")
	fmt.Fprintln(os.Stderr, "       sage approvals sweep")
}

// runApprovalsList prints held tool calls with the action ids needed to
// approve them, then the live consumed entries with their expiries.
func runApprovalsList(store *approval.Store) int {
	pending, err := store.ListPending()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: listing pending approvals: %v\n", err)
		return 2
	}
	consumed, err := store.ListConsumed()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: listing consumed approvals: %v\n", err)
		return 2
	}

	if len(pending) == 0 && len(consumed) == 0 {
		fmt.Println("no pending or consumed approvals")
		return 0
	}

	if len(pending) > 0 {
		fmt.Printf("pending (%d):\n", len(pending))
		for _, p := range pending {
			fmt.Printf("  %s  %s\n", p.ActionID, p.ThreatTitle)
			fmt.Printf("    %s session %s, held %s\n",
				faintStyle.Render("·"), p.SessionID, p.CreatedAt.Format("2006-01-02 15:04:05"))
			for _, a := range p.Artifacts {
				fmt.Printf("    %s: %s\n", a.Type, a.Value)
			}
		}
	}
	if len(consumed) > 0 {
		fmt.Printf("consumed (%d):\n", len(consumed))
		for _, c := range consumed {
			fmt.Printf("  %s: %s  expires %s\n",
				c.ArtifactType, c.Value, c.ExpiresAt.Format("15:04:05"))
		}
	}
	return 0
}

func runApprove(store *approval.Store, args []string) int {
	fs := flag.NewFlagSet("approvals approve", flag.ContinueOnError)
	var session string
	fs.StringVar(&session, "session", "", "session id the hold was recorded under")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		approvalsUsage()
		return 2
	}
	actionID := fs.Arg(0)

	p, err := store.ConsumePending(session, actionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if p == nil {
		fmt.Fprintln(os.Stderr, "no pending approval with that action id (it may have expired)")
		return 1
	}

	fmt.Printf("approved: %s\n", p.ThreatTitle)
	for _, a := range p.Artifacts {
		fmt.Printf("  %s: %s\n", a.Type, a.Value)
	}
	fmt.Println("the identical retry will be allowed within the approval window")
	return 0
}
