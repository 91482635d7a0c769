// ABOUTME: Provider profiles for the coding agent loop (OpenAI, Anthropic, Gemini).
// ABOUTME: Each profile aligns tool-usage guidance and system prompts to the provider's native agent conventions.

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/swarmsdk/swarmsdk/llm"
)

// EnvironmentInfo is the plain, caller-supplied data a system prompt needs to
// describe the agent's working environment. Unlike a live execution
// environment, it carries no behavior — an embedder fills it in once (from
// its own sandbox, container, or host) and passes it through; this package
// never reads a filesystem or shells out to produce it.
type EnvironmentInfo struct {
	WorkingDirectory string
	Platform         string
	OSVersion        string
}

// ProviderProfile defines the interface for provider-specific tool and prompt configurations.
// Each profile aligns its tools and system prompts to how the provider's models work best.
type ProviderProfile interface {
	ID() string
	Model() string
	BuildSystemPrompt(env EnvironmentInfo, projectDocs []string) string
	Tools() []llm.ToolDefinition
	ProviderOptions() map[string]any
	ToolRegistry() *ToolRegistry
	SupportsParallelToolCalls() bool
	SupportsReasoning() bool
	SupportsStreaming() bool
	ContextWindowSize() int
}

// BaseProfile provides shared implementation for all provider profiles.
type BaseProfile struct {
	id                        string
	model                     string
	registry                  *ToolRegistry
	supportsParallelToolCalls bool
	supportsReasoning         bool
	supportsStreaming         bool
	contextWindowSize         int
	providerOpts              map[string]any
}

func (b *BaseProfile) ID() string                     { return b.id }
func (b *BaseProfile) Model() string                  { return b.model }
func (b *BaseProfile) SupportsParallelToolCalls() bool { return b.supportsParallelToolCalls }
func (b *BaseProfile) SupportsReasoning() bool         { return b.supportsReasoning }
func (b *BaseProfile) SupportsStreaming() bool         { return b.supportsStreaming }
func (b *BaseProfile) ContextWindowSize() int          { return b.contextWindowSize }
func (b *BaseProfile) ToolRegistry() *ToolRegistry     { return b.registry }

// Tools returns all tool definitions from the profile's registry.
func (b *BaseProfile) Tools() []llm.ToolDefinition {
	return b.registry.Definitions()
}

// ProviderOptions returns provider-specific options for the LLM request.
func (b *BaseProfile) ProviderOptions() map[string]any {
	return b.providerOpts
}

// ProfileOption configures a BaseProfile during construction.
type ProfileOption func(*BaseProfile)

// WithProfileModel overrides the default model for a profile.
func WithProfileModel(model string) ProfileOption {
	return func(b *BaseProfile) {
		b.model = model
	}
}

// WithProfileProviderOptions sets provider-specific options on the profile.
func WithProfileProviderOptions(opts map[string]any) ProfileOption {
	return func(b *BaseProfile) {
		b.providerOpts = opts
	}
}

// WithProfileTools pre-registers tools into the profile's registry at
// construction time. Profiles no longer auto-register concrete tool
// implementations (file I/O, shell, web fetch, memory) themselves — those
// are out-of-scope external collaborators the embedding application builds
// and supplies per agent, closing over whatever working directory or
// sandbox backs them. This option is the seam an embedder uses to hand a
// profile its toolset.
func WithProfileTools(tools ...*RegisteredTool) ProfileOption {
	return func(b *BaseProfile) {
		for _, t := range tools {
			b.registry.Register(t)
		}
	}
}

// buildEnvironmentContext produces the <environment> block for system prompts.
func buildEnvironmentContext(env EnvironmentInfo) string {
	var b strings.Builder
	b.WriteString("<environment>\n")
	b.WriteString(fmt.Sprintf("Working directory: %s\n", env.WorkingDirectory))
	b.WriteString(fmt.Sprintf("Platform: %s\n", env.Platform))
	b.WriteString(fmt.Sprintf("OS version: %s\n", env.OSVersion))
	b.WriteString(fmt.Sprintf("Today's date: %s\n", time.Now().Format("2006-01-02")))
	b.WriteString("</environment>\n")
	return b.String()
}

// buildProjectDocsSection formats project documentation for inclusion in the system prompt.
// projectDocs is supplied by the caller (who owns the filesystem this agent runs
// against); this package never discovers or reads project files itself.
func buildProjectDocsSection(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Project Instructions\n\n")
	for _, doc := range docs {
		b.WriteString(doc)
		b.WriteString("\n\n")
	}
	return b.String()
}

// --- OpenAI Profile ---

// OpenAIProfile is a ProviderProfile aligned to OpenAI's codex-rs conventions.
type OpenAIProfile struct {
	BaseProfile
}

// NewOpenAIProfile creates an OpenAI-aligned provider profile with an empty
// tool registry. If model is empty, defaults to "gpt-5.2-codex". Use
// WithProfileTools to populate its registry — OpenAI agents conventionally
// favor a single apply_patch-style edit tool over an edit_file diff tool,
// but this package no longer ships one: that tool is supplied externally.
func NewOpenAIProfile(model string, opts ...ProfileOption) *OpenAIProfile {
	if model == "" {
		model = "gpt-5.2-codex"
	}

	profile := &OpenAIProfile{
		BaseProfile: BaseProfile{
			id:                        "openai",
			model:                     model,
			registry:                  NewToolRegistry(),
			supportsParallelToolCalls: true,
			supportsReasoning:         true,
			supportsStreaming:         true,
			contextWindowSize:         200000,
			providerOpts:              make(map[string]any),
		},
	}

	for _, opt := range opts {
		opt(&profile.BaseProfile)
	}

	return profile
}

// BuildSystemPrompt constructs the system prompt for OpenAI models, mirroring codex-rs conventions.
func (p *OpenAIProfile) BuildSystemPrompt(env EnvironmentInfo, projectDocs []string) string {
	var b strings.Builder

	b.WriteString("You are a coding assistant powered by " + p.model + ". ")
	b.WriteString("You help users write, debug, and modify code by reading files, applying patches, ")
	b.WriteString("running shell commands, and searching codebases.\n\n")

	b.WriteString("## Tool Usage\n\n")
	b.WriteString("- Read a file before making changes to it.\n")
	b.WriteString("- Prefer a single targeted patch over rewriting a whole file.\n")
	b.WriteString("- Default shell timeout is 10 seconds unless a tool says otherwise.\n")
	b.WriteString("- Use search tools to find files and content before guessing paths.\n\n")

	b.WriteString("## Coding Best Practices\n\n")
	b.WriteString("- Read files before editing to understand existing code.\n")
	b.WriteString("- Make targeted changes; avoid rewriting entire files when small edits suffice.\n")
	b.WriteString("- Run tests after making changes to verify correctness.\n")
	b.WriteString("- Follow existing code style and conventions.\n\n")

	b.WriteString(buildEnvironmentContext(env))
	b.WriteString(buildProjectDocsSection(projectDocs))

	return b.String()
}

// Compile-time interface check
var _ ProviderProfile = (*OpenAIProfile)(nil)

// --- Anthropic Profile ---

// AnthropicProfile is a ProviderProfile aligned to Claude Code conventions.
type AnthropicProfile struct {
	BaseProfile
}

// NewAnthropicProfile creates an Anthropic-aligned provider profile with an
// empty tool registry. If model is empty, defaults to "claude-sonnet-4-5".
func NewAnthropicProfile(model string, opts ...ProfileOption) *AnthropicProfile {
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	profile := &AnthropicProfile{
		BaseProfile: BaseProfile{
			id:                        "anthropic",
			model:                     model,
			registry:                  NewToolRegistry(),
			supportsParallelToolCalls: true,
			supportsReasoning:         true,
			supportsStreaming:         true,
			contextWindowSize:         200000,
			providerOpts:              make(map[string]any),
		},
	}

	for _, opt := range opts {
		opt(&profile.BaseProfile)
	}

	return profile
}

// BuildSystemPrompt constructs the system prompt for Anthropic models, mirroring Claude Code conventions.
func (p *AnthropicProfile) BuildSystemPrompt(env EnvironmentInfo, projectDocs []string) string {
	var b strings.Builder

	b.WriteString("You are a coding assistant powered by " + p.model + ". ")
	b.WriteString("You help users write, debug, and modify code by reading files, editing them, ")
	b.WriteString("running shell commands, and searching codebases.\n\n")

	b.WriteString("## Tool Usage\n\n")
	b.WriteString("- Examine file contents before making changes.\n")
	b.WriteString("- Make targeted, surgical edits rather than rewriting whole files.\n")
	b.WriteString("- Prefer editing existing files over creating new ones.\n")
	b.WriteString("- Default shell timeout is 120 seconds (120000ms) unless a tool says otherwise.\n\n")

	b.WriteString("## Coding Best Practices\n\n")
	b.WriteString("- Always read a file before editing it to understand the existing code.\n")
	b.WriteString("- Make targeted, minimal changes rather than rewriting entire files.\n")
	b.WriteString("- Prefer editing existing files over creating new ones.\n")
	b.WriteString("- Run tests after making changes to verify correctness.\n")
	b.WriteString("- Follow existing code style and conventions in the project.\n\n")

	b.WriteString(buildEnvironmentContext(env))
	b.WriteString(buildProjectDocsSection(projectDocs))

	return b.String()
}

// Compile-time interface check
var _ ProviderProfile = (*AnthropicProfile)(nil)

// --- Gemini Profile ---

// GeminiProfile is a ProviderProfile aligned to gemini-cli conventions.
type GeminiProfile struct {
	BaseProfile
}

// NewGeminiProfile creates a Gemini-aligned provider profile with an empty
// tool registry. If model is empty, defaults to "gemini-3-flash-preview".
func NewGeminiProfile(model string, opts ...ProfileOption) *GeminiProfile {
	if model == "" {
		model = "gemini-3-flash-preview"
	}

	profile := &GeminiProfile{
		BaseProfile: BaseProfile{
			id:                        "gemini",
			model:                     model,
			registry:                  NewToolRegistry(),
			supportsParallelToolCalls: false,
			supportsReasoning:         true,
			supportsStreaming:         true,
			contextWindowSize:         1000000,
			providerOpts:              make(map[string]any),
		},
	}

	for _, opt := range opts {
		opt(&profile.BaseProfile)
	}

	return profile
}

// BuildSystemPrompt constructs the system prompt for Gemini models, mirroring gemini-cli conventions.
func (p *GeminiProfile) BuildSystemPrompt(env EnvironmentInfo, projectDocs []string) string {
	var b strings.Builder

	b.WriteString("You are a coding assistant powered by " + p.model + ". ")
	b.WriteString("You help users write, debug, and modify code by reading files, editing them, ")
	b.WriteString("running shell commands, and searching codebases.\n\n")

	b.WriteString("## Tool Usage\n\n")
	b.WriteString("- Examine file contents before making changes.\n")
	b.WriteString("- Make targeted edits rather than rewriting whole files.\n")
	b.WriteString("- Default shell timeout is 10 seconds unless a tool says otherwise.\n\n")

	b.WriteString("## Project Configuration\n\n")
	b.WriteString("- Check for a GEMINI.md file in the project root for project-specific instructions.\n")
	b.WriteString("- GEMINI.md may contain coding conventions, architecture notes, or task-specific guidance.\n\n")

	b.WriteString("## Coding Best Practices\n\n")
	b.WriteString("- Read files before editing to understand existing code.\n")
	b.WriteString("- Make targeted changes; avoid rewriting entire files when small edits suffice.\n")
	b.WriteString("- Run tests after making changes to verify correctness.\n")
	b.WriteString("- Follow existing code style and conventions.\n\n")

	b.WriteString(buildEnvironmentContext(env))
	b.WriteString(buildProjectDocsSection(projectDocs))

	return b.String()
}

// Compile-time interface check
var _ ProviderProfile = (*GeminiProfile)(nil)

// newToolDef is a helper to create a minimal ToolDefinition for testing and custom tools.
func newToolDef(name, description string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}
