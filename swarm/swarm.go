// ABOUTME: Swarm orchestrator: owns a statically configured set of agents, their delegation graph,
// ABOUTME: and the shared capacity limiter, then drives the lead agent's conversation loop end to end.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/swarmsdk/swarmsdk/agent"
	"github.com/swarmsdk/swarmsdk/concurrency"
	"github.com/swarmsdk/swarmsdk/hooks"
	"github.com/swarmsdk/swarmsdk/llm"
	"github.com/swarmsdk/swarmsdk/swarmerr"
)

// AgentSpec is the static configuration for one agent in a Definition: its
// provider profile, the environment it executes tools against, and the
// names of the agents or sub-swarms it is allowed to delegate to.
type AgentSpec struct {
	Name        string
	Profile     agent.ProviderProfile
	DelegatesTo []string
	Config      agent.SessionConfig
}

// SubSwarmSpec registers a nested swarm as a delegation target. When
// KeepContext is false, the nested swarm's lead agent conversation is reset
// after every call; concurrent calls into the same sub-swarm are serialized
// by a per-sub-swarm lock so a reset never races a peer's in-flight turn.
type SubSwarmSpec struct {
	Name        string
	Def         *Definition
	KeepContext bool
}

// Definition is the static, validated configuration of a swarm: its lead
// agent, member agents, registered sub-swarms, and resource limits.
type Definition struct {
	Name        string
	LeadAgent   string
	Agents      map[string]*AgentSpec
	SubSwarms   map[string]*SubSwarmSpec
	GlobalLimit int64 // max concurrent in-flight LLM/delegation calls across the swarm
	Hooks       *hooks.Registry
}

// Validate checks that the delegation graph only references agents that
// exist, either as a member agent or a registered sub-swarm, and that the
// lead agent is itself a member. Fails fast, as construction-time errors
// should (5. Error Taxonomy: configuration errors fail construction).
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &swarmerr.ConfigurationError{Detail: "swarm: name must not be empty"}
	}
	if _, ok := d.Agents[d.LeadAgent]; !ok {
		return &swarmerr.ConfigurationError{Detail: fmt.Sprintf("swarm %q: lead agent %q is not a configured agent", d.Name, d.LeadAgent)}
	}
	for name, spec := range d.Agents {
		for _, target := range spec.DelegatesTo {
			if _, ok := d.Agents[target]; ok {
				continue
			}
			if _, ok := d.SubSwarms[target]; ok {
				continue
			}
			return &swarmerr.ConfigurationError{Detail: fmt.Sprintf("swarm %q: agent %q delegates to unknown target %q", d.Name, name, target)}
		}
	}
	return nil
}

// Swarm is a running instance of a Definition: it lazily builds agent
// targets and their WorkWith<Target> tools, gates every LLM/delegation call
// behind a shared global semaphore, and serializes access to each
// registered sub-swarm's lead agent.
type Swarm struct {
	ID     string
	def    *Definition
	client *llm.Client

	mu            sync.Mutex
	targets       map[string]agent.DelegationTarget
	globalLimit   *concurrency.GlobalLimiter
	subSwarmLocks map[string]*sync.Mutex
	emitter       *agent.EventEmitter
}

// New validates def and constructs a Swarm ready to Execute. The global
// capacity limiter defaults to 50 in-flight calls when GlobalLimit is unset.
func New(def *Definition, client *llm.Client, emitter *agent.EventEmitter) (*Swarm, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	limit := def.GlobalLimit
	if limit <= 0 {
		limit = 50
	}
	if emitter == nil {
		emitter = agent.NewEventEmitter()
	}

	subLocks := make(map[string]*sync.Mutex, len(def.SubSwarms))
	for name := range def.SubSwarms {
		subLocks[name] = &sync.Mutex{}
	}

	return &Swarm{
		ID:            ulid.Make().String(),
		def:           def,
		client:        client,
		targets:       make(map[string]agent.DelegationTarget),
		globalLimit:   concurrency.NewGlobalLimiter(limit),
		subSwarmLocks: subLocks,
		emitter:       emitter,
	}, nil
}

// Result is the outcome of a completed Swarm.Execute call.
type Result struct {
	Content        string
	Success        bool
	Duration       time.Duration
	Usage          llm.Usage
	AgentsInvolved []string
}

// Execute hands prompt to the lead agent and drives its conversation loop,
// including any delegation it triggers, to completion. If timeout is
// positive, the call is wrapped in a cooperative deadline: on expiry the
// lead agent's in-flight work is cancelled and Execute returns a failed
// Result rather than blocking indefinitely (4.1, Cancellation).
func (s *Swarm) Execute(ctx context.Context, prompt string, timeout time.Duration) (Result, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	involved := newAgentsInvolvedTracker(s.emitter)
	defer involved.stop()

	s.emit(agent.EventSwarmStart, s.def.LeadAgent, nil)

	lead, err := s.targetFor(s.def.LeadAgent)
	if err != nil {
		s.emit(agent.EventSwarmStop, s.def.LeadAgent, map[string]any{"error": err.Error()})
		return Result{Success: false, Duration: time.Since(start)}, err
	}

	if err := s.globalLimit.Acquire(ctx); err != nil {
		return Result{Success: false, Duration: time.Since(start)}, fmt.Errorf("swarm %q: %w", s.def.Name, err)
	}
	output, usage, askErr := lead.Ask(ctx, prompt, false)
	s.globalLimit.Release()

	if fe, ok := askErr.(*agent.FinishSwarmError); ok {
		output = fe.Message
		askErr = nil
	}

	if askErr == nil && ctx.Err() == context.DeadlineExceeded {
		askErr = fmt.Errorf("swarm %q: %w", s.def.Name, ctx.Err())
	}

	result := Result{
		Content:        output,
		Success:        askErr == nil,
		Duration:       time.Since(start),
		Usage:          usage,
		AgentsInvolved: involved.names(),
	}

	s.emit(agent.EventSwarmStop, s.def.LeadAgent, map[string]any{
		"lead_agent":      s.def.LeadAgent,
		"success":         result.Success,
		"total_tokens":    usage.TotalTokens,
		"agents_involved": result.AgentsInvolved,
	})

	return result, askErr
}

// agentsInvolvedTracker subscribes to the swarm's event emitter for the
// lifetime of one Execute call and records every distinct agent name that
// started a turn, in first-seen order (4.1, agents_involved).
type agentsInvolvedTracker struct {
	emitter *agent.EventEmitter
	ch      <-chan agent.SessionEvent
	done    chan struct{}

	mu   sync.Mutex
	seen map[string]bool
	list []string
}

func newAgentsInvolvedTracker(emitter *agent.EventEmitter) *agentsInvolvedTracker {
	t := &agentsInvolvedTracker{
		emitter: emitter,
		ch:      emitter.Subscribe(),
		done:    make(chan struct{}),
		seen:    make(map[string]bool),
	}
	go t.run()
	return t
}

func (t *agentsInvolvedTracker) run() {
	for {
		select {
		case ev, ok := <-t.ch:
			if !ok {
				return
			}
			if ev.Kind != agent.EventAgentStart || ev.Agent == "" {
				continue
			}
			t.mu.Lock()
			if !t.seen[ev.Agent] {
				t.seen[ev.Agent] = true
				t.list = append(t.list, ev.Agent)
			}
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

func (t *agentsInvolvedTracker) stop() {
	close(t.done)
	t.emitter.Unsubscribe(t.ch)
}

func (t *agentsInvolvedTracker) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.list))
	copy(out, t.list)
	return out
}

// emit fills in the Timestamp and Agent fields the same way Session.Emit
// does, so swarm-level events carry the same shape as per-agent ones.
func (s *Swarm) emit(kind agent.EventKind, agentName string, data map[string]any) {
	s.emitter.Emit(agent.SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: s.ID,
		Agent:     agentName,
		SwarmID:   s.ID,
		Data:      data,
	})
}

// targetFor lazily builds the DelegationTarget for name, wiring its
// WorkWith<Target> tools for every agent or sub-swarm it may delegate to.
// Built once per Swarm and cached, matching the "tool instances created once
// per agent" lifecycle rule (4.1).
func (s *Swarm) targetFor(name string) (agent.DelegationTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.targets[name]; ok {
		return t, nil
	}

	spec, ok := s.def.Agents[name]
	if !ok {
		if sub, ok := s.def.SubSwarms[name]; ok {
			t, err := s.buildSubSwarmTarget(sub)
			if err != nil {
				return nil, err
			}
			s.targets[name] = t
			return t, nil
		}
		return nil, fmt.Errorf("swarm %q: unknown delegation target %q", s.def.Name, name)
	}

	config := spec.Config
	target := agent.NewAgentTarget(name, spec.Profile, s.client, config)
	target.Session.SwarmID = s.ID
	target.Session.AgentName = name
	target.Session.Hooks = s.def.Hooks
	target.Session.EventEmitter = s.emitter

	s.targets[name] = target // cache before recursing so cycles in the graph don't loop forever

	fanOut := &agentFanOutCounter{}
	for _, dep := range spec.DelegatesTo {
		depTarget, err := s.targetFor(dep)
		if err != nil {
			return nil, err
		}
		tool := agent.NewWorkWithTool(target.Session, s.wrapWithGlobalLimit(depTarget), fanOut.shared())
		if err := spec.Profile.ToolRegistry().Register(tool); err != nil {
			return nil, fmt.Errorf("swarm %q: registering delegation tool for %q: %w", s.def.Name, dep, err)
		}
	}

	return target, nil
}

// buildSubSwarmTarget adapts a registered sub-swarm into a DelegationTarget.
// Every call acquires the sub-swarm's dedicated lock first, so a
// KeepContext:false reset always runs with exclusive access to that
// sub-swarm's lead agent (9. resolved open question).
func (s *Swarm) buildSubSwarmTarget(sub *SubSwarmSpec) (agent.DelegationTarget, error) {
	nested, err := New(sub.Def, s.client, s.emitter)
	if err != nil {
		return nil, fmt.Errorf("swarm %q: building sub-swarm %q: %w", s.def.Name, sub.Name, err)
	}
	lock := s.subSwarmLocks[sub.Name]
	return &subSwarmTarget{name: sub.Name, nested: nested, lock: lock, keepContext: sub.KeepContext}, nil
}

// wrapWithGlobalLimit gates an inner target's Ask behind this swarm's global
// capacity semaphore, so nested/delegated calls count against the same
// budget as top-level agent turns.
func (s *Swarm) wrapWithGlobalLimit(inner agent.DelegationTarget) agent.DelegationTarget {
	return &limitedTarget{inner: inner, limit: s.globalLimit}
}

type limitedTarget struct {
	inner agent.DelegationTarget
	limit *concurrency.GlobalLimiter
}

func (t *limitedTarget) Name() string { return t.inner.Name() }

func (t *limitedTarget) Ask(ctx context.Context, message string, clearContext bool) (string, llm.Usage, error) {
	if err := t.limit.Acquire(ctx); err != nil {
		return "", llm.Usage{}, fmt.Errorf("%s: %w", t.inner.Name(), err)
	}
	defer t.limit.Release()
	return t.inner.Ask(ctx, message, clearContext)
}

// subSwarmTarget adapts a nested Swarm into a DelegationTarget. Its own
// lock, not the parent's global semaphore, governs exclusivity; global
// capacity is enforced by the limitedTarget wrapper that targetFor puts
// around it.
type subSwarmTarget struct {
	name        string
	nested      *Swarm
	lock        *sync.Mutex
	keepContext bool
}

func (t *subSwarmTarget) Name() string { return t.name }

func (t *subSwarmTarget) Ask(ctx context.Context, message string, clearContext bool) (string, llm.Usage, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	lead, err := t.nested.targetFor(t.nested.def.LeadAgent)
	if err != nil {
		return "", llm.Usage{}, err
	}
	reset := clearContext || !t.keepContext
	return lead.Ask(ctx, message, reset)
}

// agentFanOutCounter hands out the single fan-out counter a delegating
// agent's WorkWith<Target> tools all share, built once per targetFor call.
type agentFanOutCounter struct {
	once sync.Once
	c    *agent.FanOutCounter
}

func (a *agentFanOutCounter) shared() *agent.FanOutCounter {
	a.once.Do(func() { a.c = agent.NewFanOutCounter() })
	return a.c
}
