// ABOUTME: Core agentic loop that orchestrates LLM calls, tool execution, steering, and session management.
// ABOUTME: Provides ProcessInput (the main loop), drainSteering, and tool execution dispatch functions.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarmsdk/swarmsdk/concurrency"
	"github.com/swarmsdk/swarmsdk/hooks"
	"github.com/swarmsdk/swarmsdk/llm"
	"github.com/swarmsdk/swarmsdk/swarmerr"
)

// ProcessInput runs the core agentic loop: it appends the user input to the session,
// calls the LLM, executes any tool calls, and loops until the model produces a text-only
// response, a limit is hit, a finish marker unwinds it, or the context is cancelled.
//
// A *FinishAgentError or *FinishSwarmError returned here is not a failure: it is the
// non-local transfer a hook uses to end the turn early (see agent/finish.go). Callers
// that delegate into sub-agents must check for *FinishSwarmError specifically and
// propagate it unchanged so it keeps unwinding up the delegation chain.
func ProcessInput(ctx context.Context, session *Session, profile ProviderProfile, client *llm.Client, userInput string) error {
	session.SetState(StateProcessing)
	session.Emit(EventAgentStart, map[string]any{"agent": session.AgentName})

	cleanInput, reminders := ExtractReminders(userInput)
	session.AppendTurn(UserTurn{Content: cleanInput, Timestamp: time.Now()})
	for _, r := range reminders {
		session.AddReminder(r)
	}
	session.Emit(EventUserInput, map[string]any{"content": cleanInput})

	if session.Hooks != nil {
		res := session.Hooks.ExecuteSafe(ctx, hooks.Invocation{
			Event: hooks.UserPrompt, Agent: session.AgentName, SwarmID: session.SwarmID, Prompt: cleanInput,
		})
		switch res.Decision {
		case hooks.Block:
			session.AppendTurn(AssistantTurn{Content: res.Message, Timestamp: time.Now()})
			session.SetState(StateIdle)
			session.Emit(EventSessionEnd, nil)
			return nil
		case hooks.FinishAgent:
			return &FinishAgentError{Message: res.Message}
		case hooks.FinishSwarm:
			return &FinishSwarmError{Message: res.Message}
		}
	}

	// Drain any pending steering messages before the first LLM call
	drainSteering(session)

	roundCount := 0

	for {
		// 1. Check round limit
		if roundCount >= session.Config.MaxToolRoundsPerInput {
			session.Emit(EventTurnLimit, map[string]any{"round": roundCount})
			break
		}

		// 2. Check turn limit
		if session.Config.MaxTurns > 0 && session.TurnCount() >= session.Config.MaxTurns {
			session.Emit(EventTurnLimit, map[string]any{"total_turns": session.TurnCount()})
			break
		}

		// 3. Check context cancellation
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				session.Emit(EventTurnTimeout, map[string]any{"round": roundCount})
			}
			break
		}

		session.Emit(EventAgentStep, map[string]any{"round": roundCount})

		// 4. Build LLM request
		systemPrompt := profile.BuildSystemPrompt(session.Config.Environment, session.Config.ProjectDocs)
		if session.Config.UserOverride != "" {
			systemPrompt += "\n\n## User Instructions\n\n" + session.Config.UserOverride
		}

		session.mu.Lock()
		messages := ConvertHistoryToMessages(session.History)
		session.mu.Unlock()

		// Embed pending ephemeral reminders (4.2.1): sent once, never persisted.
		messages = session.PrepareForLLM(messages)

		// Prepend system prompt as the first message
		allMessages := make([]llm.Message, 0, len(messages)+1)
		allMessages = append(allMessages, llm.SystemMessage(systemPrompt))
		allMessages = append(allMessages, messages...)

		activeTools := profile.ToolRegistry().ActiveTools(session.Skill)
		toolDefs := make([]llm.ToolDefinition, 0, len(activeTools))
		for _, t := range activeTools {
			toolDefs = append(toolDefs, t.Definition)
		}

		request := llm.Request{
			Model:           profile.Model(),
			Messages:        allMessages,
			Tools:           toolDefs,
			ToolChoice:      &llm.ToolChoice{Mode: llm.ToolChoiceAuto},
			ReasoningEffort: session.Config.ReasoningEffort,
			Provider:        profile.ID(),
			ProviderOptions: profile.ProviderOptions(),
		}

		// 5. Call LLM, retrying transient failures (429/5xx/network) with backoff.
		retryPolicy := llm.DefaultRetryPolicy()
		retryPolicy.OnRetry = func(rerr error, attempt int, delay time.Duration) {
			session.Emit(EventLLMRetryAttempt, map[string]any{
				"attempt": attempt, "error": rerr.Error(), "delay_ms": delay.Milliseconds(),
			})
		}
		session.Emit(EventLLMAPIRequest, map[string]any{"model": request.Model, "provider": request.Provider})
		var response *llm.Response
		err := llm.Retry(ctx, retryPolicy, func() error {
			var callErr error
			response, callErr = client.Complete(ctx, request)
			return callErr
		})
		session.ClearEphemeral()
		if err != nil {
			// If context was cancelled, break out gracefully
			if ctx.Err() != nil {
				if ctx.Err() == context.DeadlineExceeded {
					session.Emit(EventTurnTimeout, map[string]any{"round": roundCount})
				}
				break
			}
			if isOrphanRecoverableError(err) {
				if recoverOrphanToolCalls(session) {
					session.Emit(EventOrphanToolCallsPruned, nil)
					continue
				}
				err = &swarmerr.OrphanRecoveryError{Cause: err}
			}
			if isRetryableLLMError(err) {
				session.Emit(EventLLMRetryExhausted, map[string]any{"error": err.Error()})
			} else {
				session.Emit(EventLLMRequestFailed, map[string]any{"error": err.Error()})
			}
			session.Emit(EventError, map[string]any{"error": err.Error()})
			session.SetState(StateIdle)
			session.Emit(EventSessionEnd, nil)
			return fmt.Errorf("LLM call failed: %w", err)
		}

		session.Emit(EventLLMAPIResponse, map[string]any{
			"model": response.Model, "provider": response.Provider, "total_tokens": response.Usage.TotalTokens,
		})

		// 6. Extract tool calls from the response
		toolCalls := response.ToolCalls()
		textContent := response.TextContent()
		reasoning := response.Reasoning()

		// 7. Record assistant turn
		assistantTurn := AssistantTurn{
			Content:    textContent,
			ToolCalls:  toolCalls,
			Reasoning:  reasoning,
			Usage:      response.Usage,
			ResponseID: response.ID,
			Timestamp:  time.Now(),
		}
		session.AppendTurn(assistantTurn)
		session.Emit(EventAssistantTextEnd, map[string]any{
			"text":               textContent,
			"reasoning":          reasoning,
			"input_tokens":       response.Usage.InputTokens,
			"output_tokens":      response.Usage.OutputTokens,
			"total_tokens":       response.Usage.TotalTokens,
			"reasoning_tokens":   response.Usage.ReasoningTokens,
			"cache_read_tokens":  response.Usage.CacheReadTokens,
			"cache_write_tokens": response.Usage.CacheWriteTokens,
		})

		if contextWindow := profile.ContextWindowSize(); contextWindow > 0 {
			ratio := float64(response.Usage.InputTokens) / float64(contextWindow)
			if ratio >= compressionThreshold*0.9 {
				session.Emit(EventContextLimitWarning, map[string]any{
					"input_tokens": response.Usage.InputTokens, "context_window": contextWindow,
				})
			}
			if compressed, truncatedCount := session.CompressIfNeeded(response.Usage.InputTokens, contextWindow); compressed {
				session.Emit(EventContextCompression, map[string]any{
					"input_tokens": response.Usage.InputTokens, "context_window": contextWindow,
					"tool_results_truncated": truncatedCount,
				})
			}
		}

		// 8. If no tool calls, natural completion
		if len(toolCalls) == 0 {
			break
		}

		// 9. Execute tool calls
		roundCount++
		results, finishErr := executeToolCalls(ctx, session, profile, toolCalls, profile.SupportsParallelToolCalls())
		session.AppendTurn(ToolResultsTurn{Results: results, Timestamp: time.Now()})
		if finishErr != nil {
			session.SetState(StateIdle)
			session.Emit(EventSessionEnd, nil)
			return finishErr
		}

		// 10. Drain steering messages injected during tool execution
		drainSteering(session)

		// 11. Loop detection
		if session.Config.EnableLoopDetection {
			session.mu.Lock()
			loopDetected := DetectLoop(session.History, session.Config.LoopDetectionWindow)
			session.mu.Unlock()

			if loopDetected {
				warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.",
					session.Config.LoopDetectionWindow)
				session.AppendTurn(SteeringTurn{Content: warning, Timestamp: time.Now()})
				session.Emit(EventLoopDetection, map[string]any{"message": warning})
			}
		}
	}

	// Process follow-up messages if any are queued
	followup := session.DrainFollowup()
	if followup != "" {
		return ProcessInput(ctx, session, profile, client, followup)
	}

	session.SetState(StateIdle)
	session.Emit(EventSessionEnd, nil)
	return nil
}

// drainSteering removes all pending steering messages from the session queue,
// appends them as SteeringTurns in the history, and emits events for each.
func drainSteering(session *Session) {
	messages := session.DrainSteering()
	for _, msg := range messages {
		session.AppendTurn(SteeringTurn{Content: msg, Timestamp: time.Now()})
		session.Emit(EventSteeringInjected, map[string]any{"content": msg})
	}
}

// executeToolCalls runs tool calls either sequentially or in parallel depending on the
// parallel flag and the number of calls. Results are returned in the same order as the
// input tool calls. If any call unwinds via a finish marker, that error is returned
// alongside whatever results were gathered so far (parallel siblings still finish).
func executeToolCalls(ctx context.Context, session *Session, profile ProviderProfile, toolCalls []llm.ToolCallData, parallel bool) ([]llm.ToolResult, error) {
	if parallel && len(toolCalls) > 1 {
		results := make([]llm.ToolResult, len(toolCalls))

		// Local capacity limiter: caps how many of this turn's tool calls run
		// at once. The swarm-wide global limiter lives one level up, around
		// each agent's LLM/delegation call.
		limiter := concurrency.NewLocalLimiter(session.Config.MaxConcurrentTools)

		var g errgroup.Group
		for i, tc := range toolCalls {
			idx, call := i, tc
			g.Go(func() error {
				if err := limiter.Acquire(ctx); err != nil {
					return nil
				}
				defer limiter.Release()
				res, err := executeSingleTool(ctx, session, profile, call)
				results[idx] = res
				if isFinishError(err) {
					return err
				}
				return nil
			})
		}
		// Plain errgroup.Group (not WithContext): a finish marker from one
		// tool call must not cancel its still-running siblings.
		return results, g.Wait()
	}

	// Sequential execution
	results := make([]llm.ToolResult, 0, len(toolCalls))
	for _, tc := range toolCalls {
		res, err := executeSingleTool(ctx, session, profile, tc)
		results = append(results, res)
		if isFinishError(err) {
			return results, err
		}
	}
	return results, nil
}

func isFinishError(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *FinishAgentError, *FinishSwarmError:
		return true
	default:
		return false
	}
}

// isRetryableLLMError reports whether err is the kind of transient provider
// failure (429/5xx/network/timeout) that llm.Retry already attempted to ride
// out. Used only to pick the right event kind once retries are exhausted;
// non-retryable classes (401/403/404/400/422, content filter, config errors)
// fail fast on the first attempt instead.
func isRetryableLLMError(err error) bool {
	type retryable interface{ IsRetryable() bool }
	r, ok := err.(retryable)
	return ok && r.IsRetryable()
}

// executeSingleTool looks up and executes a single tool call, handling errors,
// hook interception, and output truncation. It emits TOOL_CALL_START and
// TOOL_CALL_END events. Delegation tools (IsDelegation) bypass the pre/post
// hook pipeline entirely — delegation emits its own lifecycle events.
func executeSingleTool(ctx context.Context, session *Session, profile ProviderProfile, tc llm.ToolCallData) (llm.ToolResult, error) {
	session.Emit(EventToolCallStart, map[string]any{
		"tool_name": tc.Name,
		"call_id":   tc.ID,
	})

	// Look up tool in registry
	registry := profile.ToolRegistry()
	registered := registry.Get(tc.Name)
	if registered == nil {
		errorMsg := fmt.Sprintf("Unknown tool: %s", tc.Name)
		session.Emit(EventToolCallEnd, map[string]any{
			"call_id": tc.ID,
			"error":   errorMsg,
		})
		return llm.ToolResult{
			ToolCallID: tc.ID,
			Content:    errorMsg,
			IsError:    true,
		}, nil
	}

	// Parse arguments
	var args map[string]any
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			errorMsg := fmt.Sprintf("Tool error (%s): failed to parse arguments: %s", tc.Name, err)
			session.Emit(EventToolCallEnd, map[string]any{
				"call_id": tc.ID,
				"error":   errorMsg,
			})
			return llm.ToolResult{
				ToolCallID: tc.ID,
				Content:    errorMsg,
				IsError:    true,
			}, nil
		}
	} else {
		args = make(map[string]any)
	}

	if !registered.IsDelegation && session.Hooks != nil {
		pre := session.Hooks.ExecuteSafe(ctx, hooks.Invocation{
			Event: hooks.PreToolUse, Agent: session.AgentName, SwarmID: session.SwarmID, ToolName: tc.Name, Args: args,
		})
		switch pre.Decision {
		case hooks.Block:
			session.Emit(EventToolCallEnd, map[string]any{"call_id": tc.ID, "output": pre.Message, "blocked": true})
			return llm.ToolResult{ToolCallID: tc.ID, Content: pre.Message}, nil
		case hooks.FinishAgent:
			return llm.ToolResult{ToolCallID: tc.ID, Content: pre.Message}, &FinishAgentError{Message: pre.Message}
		case hooks.FinishSwarm:
			return llm.ToolResult{ToolCallID: tc.ID, Content: pre.Message}, &FinishSwarmError{Message: pre.Message}
		}
	}

	// Execute the tool
	rawOutput, err := registered.Execute(ctx, args)
	if isFinishError(err) {
		// A delegation can surface a finish marker raised by a hook deep in the
		// target's own tool loop; unwind this loop the same way a local hook would.
		return llm.ToolResult{ToolCallID: tc.ID, Content: rawOutput}, err
	}
	if err != nil {
		errorMsg := fmt.Sprintf("Tool error (%s): %s", tc.Name, err)
		session.Emit(EventToolCallEnd, map[string]any{
			"call_id": tc.ID,
			"error":   errorMsg,
		})
		return llm.ToolResult{
			ToolCallID: tc.ID,
			Content:    errorMsg,
			IsError:    true,
		}, nil
	}

	if !registered.IsDelegation && session.Hooks != nil {
		post := session.Hooks.ExecuteSafe(ctx, hooks.Invocation{
			Event: hooks.PostToolUse, Agent: session.AgentName, SwarmID: session.SwarmID, ToolName: tc.Name, Args: args, Result: rawOutput,
		})
		switch post.Decision {
		case hooks.Replace:
			rawOutput = post.Message
		case hooks.FinishAgent:
			return llm.ToolResult{ToolCallID: tc.ID, Content: rawOutput}, &FinishAgentError{Message: post.Message}
		case hooks.FinishSwarm:
			return llm.ToolResult{ToolCallID: tc.ID, Content: rawOutput}, &FinishSwarmError{Message: post.Message}
		}
	}

	// Truncate output before sending to LLM
	truncatedOutput := TruncateToolOutput(rawOutput, tc.Name, session.Config.ToolOutputLimits)

	// Emit full (untruncated) output via event stream
	session.Emit(EventToolCallEnd, map[string]any{
		"call_id": tc.ID,
		"output":  rawOutput,
	})

	return llm.ToolResult{
		ToolCallID: tc.ID,
		Content:    truncatedOutput,
		IsError:    false,
	}, nil
}
