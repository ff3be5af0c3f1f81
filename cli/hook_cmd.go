package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode/utf16"

	"github.com/sage-hq/sage/core"
	"github.com/sage-hq/sage/core/approval"
	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/decision"
)

// hookInput is the payload a host adapter delivers on stdin.
type hookInput struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// runHook evaluates one tool call. The exit code is always 0 and stdout is
// always exactly one line of JSON: a crashing hook must never take the host
// agent down with it, so every failure path degrades to an allow shape.
func runHook(args []string) int {
	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	var format string
	fs.StringVar(&format, "format", "claude", "output shape: claude, cursor, cursor-event")
	if err := fs.Parse(args); err != nil {
		fmt.Println(allowShape(format))
		return 0
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("hook panicked", "panic", r)
			fmt.Println(allowShape(format))
		}
	}()

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Println(allowShape(format))
		return 0
	}
	in, err := decodeHookInput(raw)
	if err != nil || in.ToolName == "" {
		fmt.Println(allowShape(format))
		return 0
	}

	home := core.Home()
	store := approval.NewStore(home)
	if core.LoadConfig(home).Sensitivity == decision.Paranoid {
		store = store.WithConsumedTTL(approval.ParanoidConsumedTTL)
	}
	store.SweepStale()

	e := core.NewEvaluator(home)
	v := e.Evaluate(context.Background(), core.Request{
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		ToolInput: in.ToolInput,
	})

	actionID := approval.ActionID(in.ToolName, in.ToolInput)
	if v.Decision == decision.Ask {
		if approved(store, in.SessionID, v.Artifacts) {
			v = decision.NewAllow("approval")
		} else {
			_ = store.AddPending(in.SessionID, actionID, approval.Pending{
				ThreatID:    v.MatchedThreatID,
				ThreatTitle: firstReason(v),
				Artifacts:   v.Artifacts,
			})
		}
	}

	fmt.Println(renderVerdict(format, v, actionID))
	return 0
}

// approved reports whether every verdict artifact has a live consumed
// approval. An ask with no artifacts is never auto-approved.
func approved(store *approval.Store, sid string, artifacts []artifact.Artifact) bool {
	if len(artifacts) == 0 {
		return false
	}
	for _, a := range artifacts {
		c, err := store.FindConsumed(sid, a.Type, a.Value)
		if err != nil || c == nil {
			c, err = store.FindConsumedAnySession(a.Type, a.Value)
			if err != nil || c == nil {
				return false
			}
		}
	}
	return true
}

func firstReason(v decision.Verdict) string {
	if len(v.Reasons) > 0 {
		return v.Reasons[0]
	}
	return v.Category
}

// decodeHookInput parses the stdin payload as UTF-8, falling back to
// UTF-16LE for Windows hosts. A BOM in either encoding is stripped.
func decodeHookInput(raw []byte) (hookInput, error) {
	var in hookInput

	data := raw
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if err := json.Unmarshal(data, &in); err == nil {
		return in, nil
	}

	decoded, ok := decodeUTF16LE(raw)
	if !ok {
		return in, fmt.Errorf("stdin is neither UTF-8 nor UTF-16LE JSON")
	}
	if err := json.Unmarshal(decoded, &in); err != nil {
		return in, fmt.Errorf("decoding hook input: %w", err)
	}
	return in, nil
}

// decodeUTF16LE converts little-endian UTF-16 bytes to UTF-8, stripping a
// leading BOM.
func decodeUTF16LE(raw []byte) ([]byte, bool) {
	if len(raw) < 2 || len(raw)%2 != 0 {
		return nil, false
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
	}
	if len(units) > 0 && units[0] == 0xFEFF {
		units = units[1:]
	}
	return []byte(string(utf16.Decode(units))), true
}

// renderVerdict serialises the verdict in the host's expected shape.
func renderVerdict(format string, v decision.Verdict, actionID string) string {
	reason := blockReason(v, actionID)

	switch format {
	case "cursor":
		if v.Decision == decision.Allow {
			return `{"decision":"allow"}`
		}
		return mustJSON(map[string]any{"decision": "deny", "reason": reason})

	case "cursor-event":
		out := map[string]any{"permission": string(v.Decision)}
		if v.Decision != decision.Allow {
			out["user_message"] = reason
			out["agent_message"] = reason
		}
		return mustJSON(out)

	default: // claude
		if v.Decision == decision.Allow {
			return "{}"
		}
		return mustJSON(map[string]any{
			"hookSpecificOutput": map[string]any{
				"hookEventName":            "PreToolUse",
				"permissionDecision":       string(v.Decision),
				"permissionDecisionReason": reason,
			},
		})
	}
}

// blockReason builds the short branded reason shown to the user. Asks carry
// the action id so a later approval can reference the held call.
func blockReason(v decision.Verdict, actionID string) string {
	reason := "Sage: " + firstReason(v)
	if v.MatchedThreatID != "" {
		reason += " [" + v.MatchedThreatID + "]"
	}
	if v.Decision == decision.Ask {
		reason += " (approve with: sage approvals approve " + actionID + ")"
	}
	return reason
}

// allowShape is the fail-open output for the given format.
func allowShape(format string) string {
	switch format {
	case "cursor":
		return `{"decision":"allow"}`
	case "cursor-event":
		return `{"permission":"allow"}`
	default:
		return "{}"
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
