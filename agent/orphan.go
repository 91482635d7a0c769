// ABOUTME: Orphan tool-call recovery: prunes assistant tool_calls left without a matching result.
// ABOUTME: Self-heals the conversation once per failed turn instead of failing the whole request.
package agent

import (
	"strings"
)

// isOrphanRecoverableError reports whether err looks like the 400-with-tool-use
// wording a provider returns when the conversation has a dangling tool_call
// with no corresponding tool result. Recovery should only be attempted for
// this narrow class; every other 4xx fails fast (4.2.3).
func isOrphanRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tool_call") && (strings.Contains(msg, "no tool") ||
		strings.Contains(msg, "without a") || strings.Contains(msg, "missing") || strings.Contains(msg, "400"))
}

// recoverOrphanToolCalls scans the session history for assistant turns whose
// tool calls have no matching ToolResultsTurn entry before the next
// user/assistant turn, prunes them, clears ephemerals (indices have shifted),
// and injects a reminder so the model can re-issue the calls if still needed.
// Returns true if at least one orphan was pruned — the caller should retry
// the same LLM turn without counting it against the retry budget.
func recoverOrphanToolCalls(session *Session) bool {
	session.mu.Lock()
	defer session.mu.Unlock()

	pruned := false
	newHistory := make([]Turn, 0, len(session.History))
	var orphanIDs []string

	for i, turn := range session.History {
		at, ok := turn.(AssistantTurn)
		if !ok || len(at.ToolCalls) == 0 {
			newHistory = append(newHistory, turn)
			continue
		}

		// Only results that arrive before the next user-role or assistant turn
		// answer this turn's calls.
		answered := make(map[string]bool)
	scan:
		for _, next := range session.History[i+1:] {
			switch n := next.(type) {
			case ToolResultsTurn:
				for _, r := range n.Results {
					answered[r.ToolCallID] = true
				}
			case UserTurn, SteeringTurn, AssistantTurn:
				break scan
			}
		}

		remaining := at.ToolCalls[:0:0]
		for _, tc := range at.ToolCalls {
			if answered[tc.ID] {
				remaining = append(remaining, tc)
			} else {
				pruned = true
				orphanIDs = append(orphanIDs, tc.ID)
			}
		}

		if len(remaining) == len(at.ToolCalls) {
			newHistory = append(newHistory, turn)
			continue
		}

		at.ToolCalls = remaining
		if at.Content != "" || len(remaining) > 0 {
			newHistory = append(newHistory, at)
		}
		// else: the turn carried nothing but orphaned calls, drop it entirely.
	}

	if !pruned {
		return false
	}

	session.History = newHistory
	session.ephemeral = make(map[int][]string)

	reminder := "<system-reminder>Some of your previous tool calls (" + strings.Join(orphanIDs, ", ") +
		") were removed from the conversation because they never received a result. " +
		"Re-issue them now if they are still needed.</system-reminder>"
	idx := len(ConvertHistoryToMessages(session.History)) - 1
	if idx >= 0 {
		session.ephemeral[idx] = append(session.ephemeral[idx], reminder)
	}

	return true
}
