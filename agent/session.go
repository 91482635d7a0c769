// ABOUTME: Session management for the coding agent loop, including turn types, config, and loop detection.
// ABOUTME: Provides Session struct with history, steering/followup queues, and ConvertHistoryToMessages.

package agent

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/swarmsdk/swarmsdk/hooks"
	"github.com/swarmsdk/swarmsdk/llm"
	"github.com/google/uuid"
)

// reminderPattern matches <system-reminder>...</system-reminder> blocks so they
// can be stripped from persisted content and re-attached as ephemeral entries.
var reminderPattern = regexp.MustCompile(`(?s)<system-reminder>(.*?)</system-reminder>`)

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateProcessing    SessionState = "processing"
	StateAwaitingInput SessionState = "awaiting_input"
	StateClosed        SessionState = "closed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxTurns                int            `json:"max_turns"`
	MaxToolRoundsPerInput   int            `json:"max_tool_rounds_per_input"`
	DefaultCommandTimeoutMs int            `json:"default_command_timeout_ms"`
	MaxCommandTimeoutMs     int            `json:"max_command_timeout_ms"`
	ReasoningEffort         string         `json:"reasoning_effort,omitempty"`
	ToolOutputLimits        map[string]int `json:"tool_output_limits,omitempty"`
	EnableLoopDetection     bool           `json:"enable_loop_detection"`
	LoopDetectionWindow     int            `json:"loop_detection_window"`
	MaxSubagentDepth        int            `json:"max_subagent_depth"`
	UserOverride            string         `json:"user_override,omitempty"`

	// Environment and ProjectDocs are plain data the embedder supplies for
	// system-prompt assembly. This package never discovers a working
	// directory or reads project files itself — the caller owns whatever
	// filesystem or sandbox the agent's tools act on.
	Environment EnvironmentInfo `json:"environment,omitempty"`
	ProjectDocs []string        `json:"project_docs,omitempty"`

	// CompressionThreshold overrides compressionThreshold (the fraction of
	// the provider's context window that triggers progressive compression).
	// Zero means "use the package default".
	CompressionThreshold float64 `json:"compression_threshold,omitempty"`

	// MaxConcurrentTools caps how many tool calls from a single assistant
	// turn run at once when the provider supports parallel tool calls (the
	// local half of the two-level concurrency model; the global half is the
	// swarm-wide capacity limiter in package swarm). Zero means unlimited.
	MaxConcurrentTools int `json:"max_concurrent_tools,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig with spec-defined defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTurns:                0,
		MaxToolRoundsPerInput:   200,
		DefaultCommandTimeoutMs: 10000,
		MaxCommandTimeoutMs:     600000,
		EnableLoopDetection:     true,
		LoopDetectionWindow:     10,
		MaxSubagentDepth:        1,
		ToolOutputLimits:        make(map[string]int),
		MaxConcurrentTools:      10,
	}
}

// Turn is the interface implemented by all conversation turn types.
type Turn interface {
	// TurnType returns a string discriminator: "user", "assistant", "tool_results", "system", or "steering".
	TurnType() string

	// TurnTimestamp returns the time when the turn was created.
	TurnTimestamp() time.Time
}

// UserTurn represents a user-submitted message.
type UserTurn struct {
	Content   string
	Timestamp time.Time
}

func (t UserTurn) TurnType() string        { return "user" }
func (t UserTurn) TurnTimestamp() time.Time { return t.Timestamp }

// AssistantTurn represents the model's response, optionally including tool calls.
type AssistantTurn struct {
	Content    string
	ToolCalls  []llm.ToolCallData
	Reasoning  string
	Usage      llm.Usage
	ResponseID string
	Timestamp  time.Time
}

func (t AssistantTurn) TurnType() string        { return "assistant" }
func (t AssistantTurn) TurnTimestamp() time.Time { return t.Timestamp }

// ToolResultsTurn holds results from executing one or more tool calls.
type ToolResultsTurn struct {
	Results   []llm.ToolResult
	Timestamp time.Time
}

func (t ToolResultsTurn) TurnType() string        { return "tool_results" }
func (t ToolResultsTurn) TurnTimestamp() time.Time { return t.Timestamp }

// SystemTurn represents a system-level message in the conversation.
type SystemTurn struct {
	Content   string
	Timestamp time.Time
}

func (t SystemTurn) TurnType() string        { return "system" }
func (t SystemTurn) TurnTimestamp() time.Time { return t.Timestamp }

// SteeringTurn represents an injected steering message from the host application.
type SteeringTurn struct {
	Content   string
	Timestamp time.Time
}

func (t SteeringTurn) TurnType() string        { return "steering" }
func (t SteeringTurn) TurnTimestamp() time.Time { return t.Timestamp }

// Session is the central orchestrator for the agent conversation loop.
// It holds conversation state, manages queues, tracks ephemeral reminders
// for the context manager, and dispatches events.
type Session struct {
	ID            string
	AgentName     string
	SwarmID       string
	Config        SessionConfig
	History       []Turn
	State         SessionState
	EventEmitter  *EventEmitter
	Hooks         *hooks.Registry
	Skill         *SkillState
	ephemeral          map[int][]string // message index -> pending reminders
	compressed         bool
	lastTodoWriteIndex int // history index of the most recent TodoWrite turn, -1 if none
	todos              []TodoItem
	steeringQueue      []string
	followupQueue      []string
	CumulativeUsage    llm.Usage
	mu                 sync.Mutex
}

// RollupUsage folds a delegated child session's token usage into this
// session's cumulative total, so a lead agent's usage reflects everything
// it spent through WorkWith delegation as well as its own LLM calls.
func (s *Session) RollupUsage(u llm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CumulativeUsage = s.CumulativeUsage.Add(u)
}

// NewSession creates a new Session with a generated UUID and the given configuration.
func NewSession(config SessionConfig) *Session {
	return &Session{
		ID:                 uuid.New().String(),
		Config:             config,
		History:            make([]Turn, 0),
		State:              StateIdle,
		EventEmitter:       NewEventEmitter(),
		ephemeral:          make(map[int][]string),
		lastTodoWriteIndex: -1,
		steeringQueue:      make([]string, 0),
		followupQueue:      make([]string, 0),
	}
}

// AddReminder attaches a system reminder to the most recently appended
// message, to be embedded only at the next LLM call and never persisted.
func (s *Session) AddReminder(reminder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(ConvertHistoryToMessages(s.History)) - 1
	if idx < 0 {
		return
	}
	s.ephemeral[idx] = append(s.ephemeral[idx], reminder)
}

// ExtractReminders strips <system-reminder> blocks out of incoming content
// (e.g. a delegation return) and returns the cleaned content plus the
// extracted reminder bodies, so callers can re-attach them as ephemerals
// instead of letting them persist verbatim in history.
func ExtractReminders(content string) (clean string, reminders []string) {
	matches := reminderPattern.FindAllStringSubmatch(content, -1)
	for _, m := range matches {
		reminders = append(reminders, m[1])
	}
	clean = reminderPattern.ReplaceAllString(content, "")
	return clean, reminders
}

// PrepareForLLM returns a deep copy of messages with every pending ephemeral
// reminder appended to its message's text content. The live conversation
// itself is never mutated.
func (s *Session) PrepareForLLM(messages []llm.Message) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ephemeral) == 0 {
		return messages
	}

	out := make([]llm.Message, len(messages))
	copy(out, messages)
	for idx, reminders := range s.ephemeral {
		if idx < 0 || idx >= len(out) || len(reminders) == 0 {
			continue
		}
		msg := out[idx]
		suffix := "\n\n" + joinReminders(reminders)
		msg.Content = appendTextSuffix(msg.Content, suffix)
		out[idx] = msg
	}
	return out
}

// Snapshot captures everything needed to restore this session's conversation
// state: the turn history, pending ephemerals, the compression flag, the
// index of the last TodoWrite turn, token counters, and the active skill.
// It is a plain value the caller may marshal however it likes; SwarmSDK
// itself never writes it to disk.
type Snapshot struct {
	History            []Turn
	Ephemeral          map[int][]string
	Compressed         bool
	LastTodoWriteIndex int
	Todos              []TodoItem
	CumulativeUsage    llm.Usage
	Skill              *SkillState
}

// Snapshot returns a deep-enough copy of the session's serializable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Turn, len(s.History))
	copy(history, s.History)

	ephemeral := make(map[int][]string, len(s.ephemeral))
	for idx, reminders := range s.ephemeral {
		cp := make([]string, len(reminders))
		copy(cp, reminders)
		ephemeral[idx] = cp
	}

	todos := make([]TodoItem, len(s.todos))
	copy(todos, s.todos)

	return Snapshot{
		History:            history,
		Ephemeral:          ephemeral,
		Compressed:         s.compressed,
		LastTodoWriteIndex: s.lastTodoWriteIndex,
		Todos:              todos,
		CumulativeUsage:    s.CumulativeUsage,
		Skill:              s.Skill,
	}
}

// Restore replaces the session's conversation state with a previously taken
// Snapshot. restore(snapshot(x)) is observationally equivalent to x.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.History = make([]Turn, len(snap.History))
	copy(s.History, snap.History)

	s.ephemeral = make(map[int][]string, len(snap.Ephemeral))
	for idx, reminders := range snap.Ephemeral {
		cp := make([]string, len(reminders))
		copy(cp, reminders)
		s.ephemeral[idx] = cp
	}
	s.compressed = snap.Compressed
	s.lastTodoWriteIndex = snap.LastTodoWriteIndex
	s.todos = make([]TodoItem, len(snap.Todos))
	copy(s.todos, snap.Todos)
	s.CumulativeUsage = snap.CumulativeUsage
	s.Skill = snap.Skill
}

// CompressIfNeeded applies one-shot progressive compression to the session's
// tool-result history if inputTokens/contextWindow crosses the configured
// threshold and compression hasn't already run this conversation. Returns
// whether compression occurred and how many tool results it truncated.
func (s *Session) CompressIfNeeded(inputTokens, contextWindow int) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !shouldCompress(s, inputTokens, contextWindow) {
		return false, 0
	}
	compressed, n := compressToolResults(s.History)
	s.History = compressed
	s.compressed = true
	return true, n
}

// RecordTodoWrite marks the index of the most recent TodoWrite turn, so a
// Snapshot can restore "where the last todo list update was" without
// re-scanning history.
func (s *Session) RecordTodoWrite(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTodoWriteIndex = index
}

// SetTodos replaces the session's current todo list wholesale.
func (s *Session) SetTodos(todos []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = todos
}

// Todos returns a copy of the session's current todo list.
func (s *Session) Todos() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TodoItem, len(s.todos))
	copy(out, s.todos)
	return out
}

// ClearEphemeral discards all pending reminders. Always paired with a
// PrepareForLLM call around a single LLM round-trip, win or lose.
func (s *Session) ClearEphemeral() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ephemeral = make(map[int][]string)
}

func joinReminders(reminders []string) string {
	out := ""
	for i, r := range reminders {
		if i > 0 {
			out += "\n\n"
		}
		out += r
	}
	return out
}

// appendTextSuffix returns a copy of content with suffix appended to the
// last text part, or a new trailing text part if none exists.
func appendTextSuffix(content []llm.ContentPart, suffix string) []llm.ContentPart {
	parts := make([]llm.ContentPart, len(content))
	copy(parts, content)
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Kind == llm.ContentText {
			parts[i].Text += suffix
			return parts
		}
	}
	return append(parts, llm.TextPart(suffix))
}

// Emit emits a session event with the given kind and data, auto-populating
// the session ID and timestamp.
func (s *Session) Emit(kind EventKind, data map[string]any) {
	s.EventEmitter.Emit(SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: s.ID,
		Agent:     s.AgentName,
		SwarmID:   s.SwarmID,
		Data:      data,
	})
}

// SetState transitions the session to the given state.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

// Steer queues a steering message to be injected after the current tool round.
func (s *Session) Steer(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steeringQueue = append(s.steeringQueue, message)
}

// FollowUp queues a follow-up message to be processed after the current input completes.
func (s *Session) FollowUp(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followupQueue = append(s.followupQueue, message)
}

// DrainSteering removes and returns all pending steering messages.
func (s *Session) DrainSteering() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.steeringQueue) == 0 {
		return nil
	}
	messages := s.steeringQueue
	s.steeringQueue = make([]string, 0)
	return messages
}

// DrainFollowup removes and returns the first pending follow-up message.
// Returns an empty string if the queue is empty.
func (s *Session) DrainFollowup() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.followupQueue) == 0 {
		return ""
	}
	msg := s.followupQueue[0]
	s.followupQueue = s.followupQueue[1:]
	return msg
}

// AppendTurn adds a turn to the session history.
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, turn)
	if at, ok := turn.(AssistantTurn); ok {
		s.CumulativeUsage = s.CumulativeUsage.Add(at.Usage)
	}
}

// TurnCount returns the number of turns in the session history.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.History)
}

// Close transitions the session to StateClosed and closes the event emitter.
func (s *Session) Close() {
	s.mu.Lock()
	s.State = StateClosed
	s.mu.Unlock()
	s.EventEmitter.Close()
}

// ConvertHistoryToMessages converts a slice of Turn values into LLM messages
// suitable for sending to a language model.
func ConvertHistoryToMessages(history []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))

	for _, turn := range history {
		switch t := turn.(type) {
		case SystemTurn:
			messages = append(messages, llm.SystemMessage(t.Content))

		case UserTurn:
			messages = append(messages, llm.UserMessage(t.Content))

		case AssistantTurn:
			parts := make([]llm.ContentPart, 0)
			if t.Content != "" {
				parts = append(parts, llm.TextPart(t.Content))
			}
			for _, tc := range t.ToolCalls {
				parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			messages = append(messages, llm.Message{
				Role:    llm.RoleAssistant,
				Content: parts,
			})

		case ToolResultsTurn:
			for _, result := range t.Results {
				messages = append(messages, llm.ToolResultMessage(
					result.ToolCallID,
					result.Content,
					result.IsError,
				))
			}

		case SteeringTurn:
			// Steering messages are presented to the LLM as user-role messages
			messages = append(messages, llm.UserMessage(t.Content))
		}
	}

	return messages
}

// DetectLoop checks whether the recent tool call history contains a repeating
// pattern of length 1, 2, or 3. It extracts the signatures (name + args hash)
// of the last windowSize tool calls, however many assistant turns they span.
func DetectLoop(history []Turn, windowSize int) bool {
	signatures := ExtractToolCallSignatures(history, windowSize)
	if len(signatures) < windowSize {
		return false
	}

	// Check for repeating patterns of length 1, 2, or 3
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := signatures[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if signatures[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}

// ExtractToolCallSignatures extracts the last `count` tool call signatures
// from the history. A signature is "name:sha256(arguments)" for each tool call
// found in AssistantTurn entries.
func ExtractToolCallSignatures(history []Turn, count int) []string {
	var signatures []string

	// Walk history backwards to collect the most recent tool call signatures
	for i := len(history) - 1; i >= 0 && len(signatures) < count; i-- {
		if at, ok := history[i].(AssistantTurn); ok {
			for _, tc := range at.ToolCalls {
				hash := sha256.Sum256(tc.Arguments)
				sig := fmt.Sprintf("%s:%x", tc.Name, hash[:8])
				signatures = append(signatures, sig)
			}
		}
	}

	// Reverse so signatures are in chronological order
	for i, j := 0, len(signatures)-1; i < j; i, j = i+1, j-1 {
		signatures[i], signatures[j] = signatures[j], signatures[i]
	}

	// If we collected more than count, take only the last count
	if len(signatures) > count {
		signatures = signatures[len(signatures)-count:]
	}

	return signatures
}
