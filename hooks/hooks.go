// ABOUTME: Hook registry and executor for swarm lifecycle and tool-use interception.
// ABOUTME: Supports in-process handlers and external-command hooks via a stdin/stdout JSON protocol.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmsdk/swarmsdk/swarmerr"
)

// Event identifies a point in the swarm/agent lifecycle where hooks may run.
type Event string

const (
	SwarmStart     Event = "swarm_start"
	SwarmStop      Event = "swarm_stop"
	UserPrompt     Event = "user_prompt"
	PreToolUse     Event = "pre_tool_use"
	PostToolUse    Event = "post_tool_use"
	PreDelegation  Event = "pre_delegation"
	PostDelegation Event = "post_delegation"
	ContextWarning Event = "context_warning"
	AgentStop      Event = "agent_stop"
	FirstMessage   Event = "first_message"
)

// Decision is the outcome a hook handler returns.
type Decision string

const (
	Proceed     Decision = "proceed"
	Block       Decision = "block"
	Replace     Decision = "replace"
	FinishAgent Decision = "finish_agent"
	FinishSwarm Decision = "finish_swarm"
)

// Invocation carries everything a hook needs to know about the event it is
// reacting to. Fields not relevant to a given Event are left zero.
type Invocation struct {
	Event    Event
	Agent    string
	SwarmID  string
	ToolName string
	Args     map[string]any
	Prompt   string
	Result   string // proposed tool/delegation output, for post_* events
	Target   string // delegation target name, for *_delegation events
}

// Result is what a hook handler, or the executor summarizing a chain of
// handlers, produces.
type Result struct {
	Decision Decision
	Message  string // replacement content (Replace/Block) or finish payload
}

// Handler is an in-process hook callback.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// ExternalCommand describes a hook implemented as an external process. The
// invocation is marshaled to JSON on the child's stdin; stdout/exit-code map
// back to a Result per the protocol documented on Hook.
type ExternalCommand struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Hook is one registered handler for one Event, optionally restricted to
// tool names matching Matcher.
//
// Exit-code protocol for external-command hooks: 0 = continue (stdout, if
// non-empty, becomes a Replace result; otherwise Proceed); 2 = halt, stderr
// becomes the Block message; any other non-zero exit is a non-blocking
// warning (logged, treated as Proceed). A timeout is treated the same as a
// non-blocking warning.
type Hook struct {
	Event    Event
	Matcher  *regexp.Regexp
	Priority int
	Handler  Handler
	External *ExternalCommand
}

func (h *Hook) matches(toolName string) bool {
	if h.Matcher == nil {
		return true
	}
	return h.Matcher.MatchString(toolName)
}

// Registry stores hooks grouped by event and runs them in priority order.
type Registry struct {
	mu     sync.RWMutex
	byKind map[Event][]*Hook
	logger *zap.Logger
}

// NewRegistry creates an empty Registry. A nil logger falls back to zap.NewNop().
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{byKind: make(map[Event][]*Hook), logger: logger}
}

// Register adds a hook, keeping each event's slice sorted by descending priority.
func (r *Registry) Register(h *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.byKind[h.Event], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	r.byKind[h.Event] = list
}

// ExecuteSafe runs every hook registered for inv.Event whose matcher accepts
// inv.ToolName, in priority order, stopping at the first non-Proceed result.
// A handler panic or error is logged and treated as Proceed — hook failures
// never abort the agent turn that triggered them.
func (r *Registry) ExecuteSafe(ctx context.Context, inv Invocation) Result {
	r.mu.RLock()
	list := append([]*Hook(nil), r.byKind[inv.Event]...)
	r.mu.RUnlock()

	for _, h := range list {
		if !h.matches(inv.ToolName) {
			continue
		}
		res, err := r.run(ctx, h, inv)
		if err != nil {
			hookErr := &swarmerr.HookError{Event: string(inv.Event), Cause: err}
			r.logger.Warn("hook failed, continuing",
				zap.String("event", string(inv.Event)),
				zap.String("agent", inv.Agent),
				zap.Error(hookErr))
			continue
		}
		if res.Decision != Proceed && res.Decision != "" {
			return res
		}
	}
	return Result{Decision: Proceed}
}

func (r *Registry) run(ctx context.Context, h *Hook, inv Invocation) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()

	if h.Handler != nil {
		return h.Handler(ctx, inv)
	}
	if h.External != nil {
		return r.runExternal(ctx, h.External, inv)
	}
	return Result{Decision: Proceed}, nil
}

func (r *Registry) runExternal(ctx context.Context, cmd *ExternalCommand, inv Invocation) (Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"event":     inv.Event,
		"agent":     inv.Agent,
		"swarm_id":  inv.SwarmID,
		"tool_name": inv.ToolName,
		"args":      inv.Args,
		"prompt":    inv.Prompt,
		"result":    inv.Result,
		"target":    inv.Target,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal hook invocation: %w", err)
	}

	c := exec.CommandContext(cctx, cmd.Path, cmd.Args...)
	c.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	if cctx.Err() != nil {
		return Result{Decision: Proceed}, fmt.Errorf("hook command timed out: %w", cctx.Err())
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Result{Decision: Proceed}, fmt.Errorf("hook command failed to start: %w", runErr)
	}

	switch exitCode {
	case 0:
		if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
			return Result{Decision: Replace, Message: string(out)}, nil
		}
		return Result{Decision: Proceed}, nil
	case 2:
		return Result{Decision: Block, Message: string(bytes.TrimSpace(stderr.Bytes()))}, nil
	default:
		return Result{Decision: Proceed}, fmt.Errorf("hook command exited %d: %s", exitCode, stderr.String())
	}
}
