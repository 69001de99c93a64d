// Package prompt implements placeholder extraction and substitution for
// agent prompt templates. Placeholders use single-brace {name} syntax.
package prompt

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"conductor/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ExtractPlaceholders returns the distinct placeholder names found across the
// given texts, sorted for determinism. Running extraction over already
// extracted names yields the same set.
func ExtractPlaceholders(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultFields derives a PromptField per placeholder found in the agent's
// prompt texts. Used when a stored definition declares no fields of its own.
func DefaultFields(def domain.AgentDefinition) []domain.PromptField {
	names := ExtractPlaceholders(def.SystemPrompt, def.AdditionalPrompt)
	fields := make([]domain.PromptField, 0, len(names))
	for _, name := range names {
		fields = append(fields, domain.PromptField{
			Name:        name,
			Description: fmt.Sprintf("Value for %s", name),
			Required:    true,
		})
	}
	return fields
}

// Format substitutes placeholder values into template. If the template
// references a placeholder that values does not provide, the template is
// returned unformatted and the miss is logged with the required and provided
// key sets. A partial substitution is never produced.
func Format(template string, values map[string]any, logger *slog.Logger) string {
	required := ExtractPlaceholders(template)
	for _, name := range required {
		if _, ok := values[name]; !ok {
			if logger != nil {
				logger.Warn("prompt format fallback: missing placeholder value",
					"missing", name,
					"required", required,
					"provided", keysOf(values),
				)
			}
			return template
		}
	}

	out := template
	for _, name := range required {
		out = strings.ReplaceAll(out, "{"+name+"}", renderValue(values[name]))
	}
	return out
}

// NormalizeValues converts comma-separated string values into string slices
// for fields declared multi-valued. Other values pass through unchanged.
// The input map is not mutated.
func NormalizeValues(values map[string]any, multiFields []string) map[string]any {
	if len(values) == 0 {
		return values
	}
	multi := make(map[string]struct{}, len(multiFields))
	for _, f := range multiFields {
		multi[f] = struct{}{}
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := multi[k]; ok {
			if s, isStr := v.(string); isStr {
				parts := strings.Split(s, ",")
				items := make([]string, 0, len(parts))
				for _, p := range parts {
					if trimmed := strings.TrimSpace(p); trimmed != "" {
						items = append(items, trimmed)
					}
				}
				out[k] = items
				continue
			}
		}
		out[k] = v
	}
	return out
}

// renderValue converts a placeholder value to its textual form. Slices are
// joined with ", " so that multi-valued fields read naturally in a prompt.
func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func keysOf(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
