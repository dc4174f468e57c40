// Package prompt renders stage seed-prompt templates. Templates use
// {{variable}} placeholders and {{#if variable}}...{{/if}} conditional
// blocks; missing required variables are an error so a stage never generates
// from a half-rendered prompt.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands a template with the given variables. Conditional blocks are
// included only when their variable is set and non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := stripConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// stripConditionals resolves {{#if var}}...{{/if}} blocks, innermost first so
// nesting works.
func stripConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// The last opening tag before this close is the innermost block.
		opens := ifOpenRe.FindAllStringIndex(result[:closeIdx], -1)
		if opens == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		open := opens[len(opens)-1]
		name := ifOpenRe.FindStringSubmatch(result[open[0]:open[1]])[1]

		body := ""
		if val, ok := vars[name]; ok && val != "" {
			body = result[open[1]:closeIdx]
		}
		result = result[:open[0]] + body + result[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}

// LoadTemplate returns the template content for name. A file of the same
// name under overrideDir (if non-empty) takes precedence over the builtin.
func LoadTemplate(name string, overrideDir string) (string, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, name)
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	if content, ok := builtinTemplates[name]; ok {
		return content, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}

// DefaultOverrideDir returns ~/.admint/templates, or "" when the home
// directory cannot be determined.
func DefaultOverrideDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".admint", "templates")
}
