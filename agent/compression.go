// ABOUTME: Progressive context compression for the coding agent loop.
// ABOUTME: Truncates aging tool results by age bucket once a conversation crosses a usage threshold.

package agent

import (
	"fmt"
	"strings"

	"github.com/swarmsdk/swarmsdk/llm"
)

// compressionRecentTail is the number of most recent turns that are always
// preserved untouched, regardless of how full the context window is.
const compressionRecentTail = 10

// compressionThreshold is the fraction of a provider's context window that
// triggers progressive compression. 0.6 means compression fires once the
// most recent request's input tokens cross 60% of the window.
const compressionThreshold = 0.6

// compressionBucket maps a turn's age (in turns, counted back from the most
// recent turn) to the character limit its tool results are truncated to.
// A limit of 0 means "keep full" — used for the recent tail itself.
type compressionBucket struct {
	maxAge int // inclusive upper bound on age; -1 means unbounded
	limit  int
}

var compressionBuckets = []compressionBucket{
	{maxAge: compressionRecentTail, limit: 0},
	{maxAge: 20, limit: 1000},
	{maxAge: 40, limit: 500},
	{maxAge: 60, limit: 200},
	{maxAge: -1, limit: 100},
}

func bucketLimitForAge(age int) int {
	for _, b := range compressionBuckets {
		if b.maxAge == -1 || age <= b.maxAge {
			return b.limit
		}
	}
	return 100
}

// idempotentResultPrefixes are prefixes of tool-result content that the
// built-in classifier treats as cheap to re-run (read-only search/listing
// output), so a compression notice can tell the model re-running is fine
// rather than irrecoverably lost.
var idempotentResultPrefixes = []string{
	"matches in",
	"found",
	"no matches",
	"listing",
}

// isIdempotentResult is a small heuristic over a tool result's content
// prefix. It is intentionally conservative: false negatives only cost a
// slightly less helpful truncation notice, not correctness.
func isIdempotentResult(content string) bool {
	head := strings.ToLower(strings.TrimSpace(content))
	if len(head) > 40 {
		head = head[:40]
	}
	for _, prefix := range idempotentResultPrefixes {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

// shouldCompress reports whether the session should undergo progressive
// compression: the usage ratio must be at or above compressionThreshold,
// the session must not have already compressed once, and the window must
// be known (a zero contextWindow disables the heuristic entirely).
func shouldCompress(session *Session, inputTokens, contextWindow int) bool {
	if session.compressed || contextWindow <= 0 {
		return false
	}
	threshold := compressionThreshold
	if session.Config.CompressionThreshold > 0 {
		threshold = session.Config.CompressionThreshold
	}
	ratio := float64(inputTokens) / float64(contextWindow)
	return ratio >= threshold
}

// compressToolResults truncates ToolResultsTurn content by age bucket,
// leaving user/assistant/system/steering turns untouched. Age is the
// number of turns back from the end of history (age 0 is the most recent
// turn). Returns a new slice and the number of individual tool results that
// were truncated; history itself is never mutated in place.
func compressToolResults(history []Turn) ([]Turn, int) {
	out := make([]Turn, len(history))
	copy(out, history)

	truncated := 0
	last := len(out) - 1
	for i := range out {
		turn, ok := out[i].(ToolResultsTurn)
		if !ok {
			continue
		}
		age := last - i
		limit := bucketLimitForAge(age)
		if limit == 0 {
			continue
		}

		newResults := make([]llm.ToolResult, len(turn.Results))
		copy(newResults, turn.Results)
		for j, res := range newResults {
			if len(res.Content) <= limit {
				continue
			}
			notice := fmt.Sprintf("\n\n[Compressed: %d characters truncated to save context.", len(res.Content)-limit)
			if isIdempotentResult(res.Content) {
				notice += " This tool's output looks idempotent; re-running it to see the full result is cheap."
			}
			notice += "]"
			newResults[j].Content = res.Content[:limit] + notice
			truncated++
		}
		out[i] = ToolResultsTurn{Results: newResults, Timestamp: turn.Timestamp}
	}
	return out, truncated
}
