// ABOUTME: Delegation subsystem: builds named WorkWith<Target> tools that let one agent hand work to another.
// ABOUTME: Tracks a fiber-local delegation path for circular-dependency detection and isolates concurrent fan-outs.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/swarmsdk/swarmsdk/hooks"
	"github.com/swarmsdk/swarmsdk/llm"
	"github.com/swarmsdk/swarmsdk/swarmerr"
)

// delegationPathKey is the context key under which the current fiber's
// delegation path is stored. Unexported so only WithDelegationPath can set it.
type delegationPathKey struct{}

// WithDelegationPath returns a context carrying target appended to the
// calling fiber's delegation path. The parent context's path is copied, not
// mutated, so parallel fan-outs from the same parent never see each other's
// extension of the path (5. Path isolation).
func WithDelegationPath(ctx context.Context, target string) context.Context {
	parent := DelegationPathFrom(ctx)
	path := make([]string, len(parent), len(parent)+1)
	copy(path, parent)
	path = append(path, target)
	return context.WithValue(ctx, delegationPathKey{}, path)
}

// DelegationPathFrom returns the delegation path carried by ctx, or nil if
// this fiber has never delegated.
func DelegationPathFrom(ctx context.Context) []string {
	if v, ok := ctx.Value(delegationPathKey{}).([]string); ok {
		return v
	}
	return nil
}

func pathContains(path []string, target string) bool {
	for _, p := range path {
		if p == target {
			return true
		}
	}
	return false
}

// DelegationTarget is anything a WorkWith<Target> tool can hand a message to:
// another agent's session, or (via the swarm package) a sub-swarm's lead agent.
type DelegationTarget interface {
	Name() string
	Ask(ctx context.Context, message string, clearContext bool) (output string, usage llm.Usage, err error)
}

// AgentTarget adapts a persistent Session plus the provider profile it runs
// against into a DelegationTarget. Each Ask drives a full ProcessInput
// tool-use loop against the target's own session, so repeated delegations to
// the same target are conversational by default.
type AgentTarget struct {
	AgentName string
	Session   *Session
	Profile   ProviderProfile
	Client    *llm.Client

	// askSemaphore serializes every Ask against this target: delegation
	// ordering within one target is strict append order, matching the
	// single-agent ask-semaphore the rest of the runtime relies on.
	askSemaphore sync.Mutex
}

func NewAgentTarget(name string, profile ProviderProfile, client *llm.Client, config SessionConfig) *AgentTarget {
	return &AgentTarget{
		AgentName: name,
		Session:   NewSession(config),
		Profile:   profile,
		Client:    client,
	}
}

func (t *AgentTarget) Name() string { return t.AgentName }

func (t *AgentTarget) Ask(ctx context.Context, message string, clearContext bool) (string, llm.Usage, error) {
	t.askSemaphore.Lock()
	defer t.askSemaphore.Unlock()

	if clearContext {
		t.Session.mu.Lock()
		t.Session.History = nil
		t.Session.ephemeral = make(map[int][]string)
		t.Session.mu.Unlock()
	}

	before := t.Session.CumulativeUsage
	err := ProcessInput(ctx, t.Session, t.Profile, t.Client, message)
	after := t.Session.CumulativeUsage

	delta := llm.Usage{
		InputTokens:  after.InputTokens - before.InputTokens,
		OutputTokens: after.OutputTokens - before.OutputTokens,
		TotalTokens:  after.TotalTokens - before.TotalTokens,
	}

	output := extractLastAssistantOutput(t.Session)
	return output, delta, err
}

// extractLastAssistantOutput walks the session history backwards to find the
// last AssistantTurn and returns its Content.
func extractLastAssistantOutput(session *Session) string {
	session.mu.Lock()
	defer session.mu.Unlock()

	for i := len(session.History) - 1; i >= 0; i-- {
		if at, ok := session.History[i].(AssistantTurn); ok {
			return at.Content
		}
	}
	return ""
}

// FanOutCounter tracks how many concurrent Ask calls are in flight for a
// single delegation target, so a WorkWith<Target> tool can force
// clear_context=true (4.3 concurrency isolation for fan-out) without the
// caller having to coordinate. One instance is shared across every
// delegation tool built for the same delegating agent.
type FanOutCounter struct {
	counters sync.Map // target name -> *int64
}

// NewFanOutCounter returns an empty FanOutCounter.
func NewFanOutCounter() *FanOutCounter {
	return &FanOutCounter{}
}

func (c *FanOutCounter) enter(target string) int64 {
	v, _ := c.counters.LoadOrStore(target, new(int64))
	return atomic.AddInt64(v.(*int64), 1)
}

func (c *FanOutCounter) leave(target string) {
	if v, ok := c.counters.Load(target); ok {
		atomic.AddInt64(v.(*int64), -1)
	}
}

// delegationPascal renders target as a PascalCase identifier suitable for
// embedding in a WorkWith<Target> tool name: "code-reviewer" -> "CodeReviewer".
func delegationPascal(target string) string {
	parts := strings.FieldsFunc(target, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return target
	}
	return b.String()
}

// NewWorkWithTool builds the WorkWith<Target> delegation tool for a single
// target, bound to the delegating agent's own session. Tool instances are
// created once per agent (4.4) and reused across turns, which is why fanOut
// is shared across every delegation tool built for the same caller: it must
// see concurrent calls across the caller's whole toolset, not just one tool.
func NewWorkWithTool(callerSession *Session, target DelegationTarget, fanOut *FanOutCounter) *RegisteredTool {
	toolName := "WorkWith" + delegationPascal(target.Name())
	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        toolName,
			Description: fmt.Sprintf("Delegate a task to the %q agent and return its response.", target.Name()),
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"message": {
						"type": "string",
						"description": "The task or question to hand to the target agent"
					},
					"reset_context": {
						"type": "boolean",
						"description": "Clear the target's prior conversation before this call (default: false)"
					}
				},
				"required": ["message"]
			}`),
		},
		Description:  fmt.Sprintf("Delegate a task to %s.", target.Name()),
		IsDelegation: true,
		NonRemovable: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			message, err := getStringArg(args, "message", true)
			if err != nil {
				return "", err
			}
			resetContext, _ := args["reset_context"].(bool)

			path := DelegationPathFrom(ctx)
			if pathContains(path, target.Name()) {
				callerSession.Emit(EventDelegationCircular, map[string]any{
					"target": target.Name(), "delegation_path": path,
				})
				circErr := &swarmerr.CircularDelegationError{Target: target.Name(), Path: path}
				return "error: " + circErr.Error(), nil
			}

			inFlight := fanOut.enter(target.Name())
			defer fanOut.leave(target.Name())
			clearContext := resetContext || inFlight > 1

			if callerSession.Hooks != nil {
				res := callerSession.Hooks.ExecuteSafe(ctx, hooks.Invocation{
					Event: hooks.PreDelegation, Agent: callerSession.AgentName, SwarmID: callerSession.SwarmID,
					Target: target.Name(), Prompt: message,
				})
				switch res.Decision {
				case hooks.Block, hooks.Replace:
					return res.Message, nil
				case hooks.FinishAgent:
					return "", &FinishAgentError{Message: res.Message}
				case hooks.FinishSwarm:
					return "", &FinishSwarmError{Message: res.Message}
				}
			}

			callerSession.Emit(EventAgentDelegation, map[string]any{
				"target": target.Name(), "message": message, "clear_context": clearContext,
			})

			childCtx := WithDelegationPath(ctx, target.Name())
			output, usage, askErr := target.Ask(childCtx, message, clearContext)
			callerSession.RollupUsage(usage)

			finishSwarm, isFinishSwarm := askErr.(*FinishSwarmError)

			callerSession.Emit(EventDelegationResult, map[string]any{
				"target": target.Name(), "output": output, "error": errString(askErr), "total_tokens": usage.TotalTokens,
			})

			if callerSession.Hooks != nil {
				res := callerSession.Hooks.ExecuteSafe(ctx, hooks.Invocation{
					Event: hooks.PostDelegation, Agent: callerSession.AgentName, SwarmID: callerSession.SwarmID,
					Target: target.Name(), Result: output,
				})
				if res.Decision == hooks.Replace {
					output = res.Message
				}
			}

			if isFinishSwarm {
				return "", finishSwarm
			}
			if askErr != nil && output == "" {
				callerSession.Emit(EventDelegationError, map[string]any{
					"target": target.Name(), "error": askErr.Error(),
				})
				return "", fmt.Errorf("delegation to %s failed: %w", target.Name(), askErr)
			}
			return output, nil
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
