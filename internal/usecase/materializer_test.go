package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

// stubTools resolves only the tool names it is seeded with.
type stubTools struct {
	tools map[string]domain.Tool
}

func (s *stubTools) Get(name string) (domain.Tool, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (s *stubTools) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(s.tools))
	for _, t := range s.tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

func TestMaterializeFormatsPrompt(t *testing.T) {
	m := NewMaterializer(&stubTools{}, nil, testLogger())

	def := domain.AgentDefinition{
		ID:               "a1",
		Name:             "Analyst",
		Description:      "Analyzes things",
		SystemPrompt:     "You analyze {topic}.",
		AdditionalPrompt: "Focus on {depth} detail.",
	}
	agent, desc := m.Materialize(def, map[string]any{"topic": "sales", "depth": "high"})

	assert.Equal(t, "You analyze sales.\n\nFocus on high detail.", agent.Instructions)
	assert.Equal(t, "Analyzes things", desc)
}

func TestMaterializeAppliesFieldDefaults(t *testing.T) {
	m := NewMaterializer(&stubTools{}, nil, testLogger())

	def := domain.AgentDefinition{
		Name:         "Agent",
		SystemPrompt: "Use {database}.",
		PromptFields: []domain.PromptField{
			{Name: "database", DefaultValue: "analytics"},
		},
	}
	agent, _ := m.Materialize(def, nil)
	assert.Equal(t, "Use analytics.", agent.Instructions)

	// Caller value wins over the default.
	agent, _ = m.Materialize(def, map[string]any{"database": "staging"})
	assert.Equal(t, "Use staging.", agent.Instructions)
}

func TestMaterializeLeavesPromptOnMissingValues(t *testing.T) {
	m := NewMaterializer(&stubTools{}, nil, testLogger())

	def := domain.AgentDefinition{
		Name:         "Agent",
		SystemPrompt: "Use {database} and {schema}.",
	}
	agent, _ := m.Materialize(def, map[string]any{"database": "analytics"})

	// Partial substitution is never done; the template stays intact.
	assert.Equal(t, "Use {database} and {schema}.", agent.Instructions)
}

func TestMaterializeSkipsUnresolvedTools(t *testing.T) {
	echo := &echoTool{}
	m := NewMaterializer(&stubTools{tools: map[string]domain.Tool{"echo": echo}}, nil, testLogger())

	def := domain.AgentDefinition{
		Name:          "Agent",
		SystemPrompt:  "Do things.",
		SelectedTools: []string{"echo", "nonexistent", "also_missing"},
	}
	agent, _ := m.Materialize(def, nil)

	require.Len(t, agent.Tools, 1)
	assert.Equal(t, "echo", agent.Tools[0].Name())
}

func TestMaterializeNormalizesMultiValueFields(t *testing.T) {
	m := NewMaterializer(&stubTools{}, []string{"tables"}, testLogger())

	def := domain.AgentDefinition{
		Name:         "Agent",
		SystemPrompt: "Query {tables}.",
	}
	agent, _ := m.Materialize(def, map[string]any{"tables": "orders, customers ,items"})

	assert.Equal(t, "Query orders, customers, items.", agent.Instructions)
}
