// ABOUTME: In-memory task-list tracking exposed to agents as the TodoWrite tool.
// ABOUTME: Tracks the active todo list on the session and warns when more than one item is in_progress.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swarmsdk/swarmsdk/llm"
)

// TodoStatus is the lifecycle state of a single todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in an agent's task list.
type TodoItem struct {
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

var todoWriteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"todos": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"content": {"type": "string"},
					"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
				},
				"required": ["content", "status"]
			}
		}
	},
	"required": ["todos"]
}`)

// NewTodoWriteTool builds the TodoWrite tool bound to session: it replaces
// session's current todo list wholesale on every call and records the call's
// position in history via Session.RecordTodoWrite. Unlike WorkWith<Target>
// tools it is not a delegation tool, but it is non-removable the same way —
// skill activation should never hide task tracking from an agent.
func NewTodoWriteTool(session *Session) *RegisteredTool {
	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name: "TodoWrite",
			Description: "Replace the current todo list with the given items. Exactly one item " +
				"should be in_progress at a time.",
			Parameters: todoWriteSchema,
		},
		NonRemovable: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			raw, ok := args["todos"]
			if !ok {
				return "", fmt.Errorf("missing required argument: todos")
			}
			encoded, err := json.Marshal(raw)
			if err != nil {
				return "", fmt.Errorf("invalid todos argument: %w", err)
			}
			var todos []TodoItem
			if err := json.Unmarshal(encoded, &todos); err != nil {
				return "", fmt.Errorf("invalid todos argument: %w", err)
			}

			session.SetTodos(todos)
			session.RecordTodoWrite(session.TurnCount())

			inProgress := 0
			for _, t := range todos {
				if t.Status == TodoInProgress {
					inProgress++
				}
			}
			if inProgress != 1 {
				session.Emit(EventError, map[string]any{
					"warning":     "todo_write_invariant",
					"in_progress": inProgress,
					"message":     fmt.Sprintf("expected exactly one in_progress todo, found %d", inProgress),
				})
			}

			return fmt.Sprintf("Todo list updated: %d items, %d in progress.", len(todos), inProgress), nil
		},
	}
}
