// ABOUTME: Renders a session snapshot's turn history to Markdown, and optionally to HTML,
// ABOUTME: for audit/debug output — adapted from the teacher's SpecState-to-Markdown exporter.

package serialization

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/swarmsdk/swarmsdk/agent"
)

// RenderTranscript renders snap's turn history as a deterministic Markdown
// document: one section per turn, in History order, headed by the turn's
// type and timestamp.
func RenderTranscript(snap agent.Snapshot) string {
	var out strings.Builder

	for i, turn := range snap.History {
		fmt.Fprintf(&out, "## %d. %s (%s)\n\n", i+1, turnHeading(turn.TurnType()),
			turn.TurnTimestamp().Format("2006-01-02T15:04:05Z"))

		switch t := turn.(type) {
		case agent.UserTurn:
			fmt.Fprintln(&out, t.Content)
		case agent.AssistantTurn:
			if t.Content != "" {
				fmt.Fprintln(&out, t.Content)
			}
			for _, tc := range t.ToolCalls {
				fmt.Fprintf(&out, "\n- tool call `%s` (`%s`): `%s`\n", tc.Name, tc.ID, string(tc.Arguments))
			}
		case agent.ToolResultsTurn:
			for _, r := range t.Results {
				status := "ok"
				if r.IsError {
					status = "error"
				}
				fmt.Fprintf(&out, "- result for `%s` (%s):\n\n```\n%s\n```\n\n", r.ToolCallID, status, r.Content)
			}
		case agent.SystemTurn:
			fmt.Fprintln(&out, t.Content)
		case agent.SteeringTurn:
			fmt.Fprintln(&out, t.Content)
		}
		fmt.Fprintln(&out)
	}

	return out.String()
}

func turnHeading(turnType string) string {
	words := strings.Split(turnType, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// RenderTranscriptHTML renders snap's turn history to Markdown via
// RenderTranscript, then converts that Markdown to HTML with goldmark, for
// embedders that want an audit view without shipping their own renderer.
func RenderTranscriptHTML(snap agent.Snapshot) (string, error) {
	md := RenderTranscript(snap)
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render transcript html: %w", err)
	}
	return buf.String(), nil
}
