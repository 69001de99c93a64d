package prompt

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

func TestExtractPlaceholders(t *testing.T) {
	names := ExtractPlaceholders("Query {database} for {tables}", "focus on {database}")
	assert.Equal(t, []string{"database", "tables"}, names)
}

func TestExtractPlaceholdersNone(t *testing.T) {
	assert.Empty(t, ExtractPlaceholders("no placeholders here"))
}

func TestExtractPlaceholdersIdempotent(t *testing.T) {
	first := ExtractPlaceholders("use {a} and {b}")
	second := ExtractPlaceholders(first...)
	// Extracted names carry no braces, so re-extraction finds nothing new.
	assert.Empty(t, second)
	assert.Equal(t, first, ExtractPlaceholders("use {a} and {b}"))
}

func TestExtractPlaceholdersIgnoresInvalidNames(t *testing.T) {
	names := ExtractPlaceholders("literal {1bad} and {ok_name} and {}")
	assert.Equal(t, []string{"ok_name"}, names)
}

func TestDefaultFields(t *testing.T) {
	def := domain.AgentDefinition{
		SystemPrompt:     "Analyze {dataset}",
		AdditionalPrompt: "Report to {audience}",
	}
	fields := DefaultFields(def)
	require.Len(t, fields, 2)
	assert.Equal(t, "audience", fields[0].Name)
	assert.Equal(t, "dataset", fields[1].Name)
	assert.True(t, fields[0].Required)
	assert.Equal(t, "Value for audience", fields[0].Description)
}

func TestFormatSubstitutes(t *testing.T) {
	out := Format("Query {db} tables {tables}", map[string]any{
		"db":     "sales",
		"tables": []string{"orders", "customers"},
	}, slog.Default())
	assert.Equal(t, "Query sales tables orders, customers", out)
}

func TestFormatFallbackOnMissingKey(t *testing.T) {
	tpl := "Query {db} for {missing}"
	out := Format(tpl, map[string]any{"db": "sales"}, slog.Default())
	// Never a partial substitution: the unformatted template comes back whole.
	assert.Equal(t, tpl, out)
}

func TestFormatNoPlaceholders(t *testing.T) {
	assert.Equal(t, "plain text", Format("plain text", nil, nil))
}

func TestNormalizeValuesSplitsMultiField(t *testing.T) {
	out := NormalizeValues(map[string]any{
		"tables": "orders, customers , items",
		"db":     "sales",
	}, []string{"tables"})

	assert.Equal(t, []string{"orders", "customers", "items"}, out["tables"])
	assert.Equal(t, "sales", out["db"])
}

func TestNormalizeValuesLeavesNonStrings(t *testing.T) {
	in := map[string]any{"tables": []string{"already", "split"}}
	out := NormalizeValues(in, []string{"tables"})
	assert.Equal(t, in["tables"], out["tables"])
}
