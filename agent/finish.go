// ABOUTME: Finish markers let a hook end an agent's turn or the whole swarm early.
// ABOUTME: Go has no throw/catch, so they are modeled as sentinel errors unwound at each loop boundary.
package agent

import "fmt"

// FinishAgentError unwinds the tool loop for the current agent only, with
// Message substituted as the agent's final assistant content.
type FinishAgentError struct {
	Message string
}

func (e *FinishAgentError) Error() string {
	return fmt.Sprintf("finish_agent: %s", e.Message)
}

// FinishSwarmError unwinds the tool loop and every enclosing delegation call,
// propagating Message all the way to the swarm's execute() result.
type FinishSwarmError struct {
	Message string
}

func (e *FinishSwarmError) Error() string {
	return fmt.Sprintf("finish_swarm: %s", e.Message)
}
