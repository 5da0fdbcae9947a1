package playbook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mailpilot/triage-engine/internal/core"
)

// ErrMissingVariable is returned when a required template variable has no
// provided value. Rendering never falls back to a partial result.
var ErrMissingVariable = errors.New("missing required variable")

// Render substitutes {name} placeholders in the template body. Only variables
// declared in the template's available-variable list are substituted; tokens
// naming anything else are left untouched. A doubled opening brace escapes to
// a literal brace. Any required variable without a value aborts the render
// before substitution begins.
func Render(tpl *core.Template, vars map[string]string) (string, error) {
	for _, required := range tpl.RequiredVariables {
		if v, ok := vars[required]; !ok || v == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, required)
		}
	}

	available := make(map[string]bool, len(tpl.AvailableVariables))
	for _, name := range tpl.AvailableVariables {
		available[name] = true
	}

	var out strings.Builder
	body := tpl.Body
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch != '{' {
			out.WriteByte(ch)
			continue
		}

		// {{ escapes to a literal brace.
		if i+1 < len(body) && body[i+1] == '{' {
			out.WriteByte('{')
			i++
			continue
		}

		end := strings.IndexByte(body[i+1:], '}')
		if end < 0 {
			// Unterminated token, keep the rest verbatim.
			out.WriteString(body[i:])
			break
		}

		name := body[i+1 : i+1+end]
		value, ok := vars[name]
		if available[name] && ok {
			out.WriteString(value)
		} else {
			out.WriteString(body[i : i+2+end])
		}
		i += end + 1
	}

	return out.String(), nil
}

// Placeholders lists the variable names referenced by a template body,
// skipping escaped braces. Useful for validating operator-edited templates.
func Placeholders(body string) []string {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < len(body); i++ {
		if body[i] != '{' {
			continue
		}
		if i+1 < len(body) && body[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(body[i+1:], '}')
		if end < 0 {
			break
		}
		name := body[i+1 : i+1+end]
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i += end + 1
	}
	return names
}
