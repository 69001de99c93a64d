package domain

// PromptField declares a dynamic placeholder in an agent's prompt text.
// Placeholders appear in prompts as {name} and are filled in at run time
// from user-supplied values.
type PromptField struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DefaultValue string `json:"default_value"`
	Required     bool   `json:"required"`
}

// AgentDefinition is a stored, named agent configuration: a prompt bundle
// plus a tool selection. Definitions are inert data; they are materialized
// into runnable agents per request.
type AgentDefinition struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	SystemPrompt     string        `json:"system_prompt"`
	AdditionalPrompt string        `json:"additional_prompt"`
	SelectedTools    []string      `json:"selected_tools"`
	Handoff          bool          `json:"handoff"`
	PromptFields     []PromptField `json:"prompt_fields"`
}

// OrchestratorDefinition is a stored orchestrator: an ordered list of member
// agent IDs plus its own coordination prompt. The order of Agents defines the
// chain sequence in sequential mode; in composite mode the members become
// callable tools of a coordinator agent.
type OrchestratorDefinition struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Agents       []string `json:"agents"`
	Tools        []string `json:"tools"`
	SystemPrompt string   `json:"system_prompt"`
}
