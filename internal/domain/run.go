package domain

import "math"

// Dollar cost per 1K tokens, matching the billing model the run reports use.
const (
	PromptCostPer1K     = 0.01
	CompletionCostPer1K = 0.03
)

// Cost is the dollar cost attributed to a run or a single agent call.
type Cost struct {
	PromptCost     float64 `json:"prompt_cost"`
	CompletionCost float64 `json:"completion_cost"`
	TotalCost      float64 `json:"total_cost"`
}

// Add accumulates another cost into c.
func (c *Cost) Add(other Cost) {
	c.PromptCost += other.PromptCost
	c.CompletionCost += other.CompletionCost
	c.TotalCost += other.TotalCost
}

// Round rounds all components to 6 decimal places.
func (c *Cost) Round() {
	c.PromptCost = round6(c.PromptCost)
	c.CompletionCost = round6(c.CompletionCost)
	c.TotalCost = round6(c.TotalCost)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// CostFromUsage computes the dollar cost of a token usage block.
func CostFromUsage(u Usage) Cost {
	c := Cost{
		PromptCost:     float64(u.PromptTokens) / 1000 * PromptCostPer1K,
		CompletionCost: float64(u.CompletionTokens) / 1000 * CompletionCostPer1K,
	}
	c.TotalCost = c.PromptCost + c.CompletionCost
	c.Round()
	return c
}

// Add accumulates another usage block into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// AgentCall records one agent's contribution to an orchestrator run.
type AgentCall struct {
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	Response   string `json:"response"`
	TokenUsage Usage  `json:"token_usage"`
	Cost       Cost   `json:"cost"`
}

// RunError is a non-fatal problem recorded during a run (an unresolvable
// agent, a failed member call). Errors are embedded in the result rather
// than aborting the whole run.
type RunError struct {
	AgentID string `json:"agent_id,omitempty"`
	Message string `json:"message"`
}

// ExecutionDetails itemizes the per-agent work behind a run response.
type ExecutionDetails struct {
	AgentCalls []AgentCall `json:"agent_calls"`
	Errors     []RunError  `json:"errors,omitempty"`
}

// RunResult is the outcome of executing an agent or orchestrator.
type RunResult struct {
	Response   string           `json:"response"`
	Details    ExecutionDetails `json:"execution_details"`
	TokenUsage Usage            `json:"token_usage"`
	Cost       Cost             `json:"cost"`
}
