package playbook

import (
	"errors"
	"testing"

	"github.com/mailpilot/triage-engine/internal/core"
)

func TestRenderSubstitutesAvailableVariables(t *testing.T) {
	tpl := &core.Template{
		Body:               "Hi {customer_name}, order {order_id} has shipped.",
		AvailableVariables: []string{"customer_name", "order_id"},
		RequiredVariables:  []string{"customer_name"},
	}

	got, err := Render(tpl, map[string]string{
		"customer_name": "Jo",
		"order_id":      "12345",
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	want := "Hi Jo, order 12345 has shipped."
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderMissingRequiredVariable(t *testing.T) {
	tpl := &core.Template{
		Body:               "Hi {customer_name}",
		AvailableVariables: []string{"customer_name"},
		RequiredVariables:  []string{"customer_name"},
	}

	tests := []struct {
		name string
		vars map[string]string
	}{
		{"absent", map[string]string{}},
		{"empty value", map[string]string{"customer_name": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tpl, tt.vars)
			if !errors.Is(err, ErrMissingVariable) {
				t.Fatalf("err = %v, want ErrMissingVariable", err)
			}
		})
	}
}

func TestRenderLeavesUndeclaredTokensVerbatim(t *testing.T) {
	tpl := &core.Template{
		Body:               "Hi {customer_name}, see {tracking_url}.",
		AvailableVariables: []string{"customer_name"},
	}

	got, err := Render(tpl, map[string]string{
		"customer_name": "Jo",
		"tracking_url":  "https://example.com",
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	want := "Hi Jo, see {tracking_url}."
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderEscapedBrace(t *testing.T) {
	tpl := &core.Template{
		Body:               "Literal {{not_a_var} and real {name}",
		AvailableVariables: []string{"name"},
	}

	got, err := Render(tpl, map[string]string{"name": "value"})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	want := "Literal {not_a_var} and real value"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderUnterminatedToken(t *testing.T) {
	tpl := &core.Template{
		Body:               "Hello {name and goodbye",
		AvailableVariables: []string{"name"},
	}

	got, err := Render(tpl, map[string]string{"name": "x"})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got != "Hello {name and goodbye" {
		t.Fatalf("Render = %q, want body kept verbatim", got)
	}
}

func TestRenderDeclaredButUnprovidedVariableKept(t *testing.T) {
	tpl := &core.Template{
		Body:               "Your order {order_id}",
		AvailableVariables: []string{"order_id"},
	}

	got, err := Render(tpl, nil)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got != "Your order {order_id}" {
		t.Fatalf("Render = %q, want token kept", got)
	}
}

func TestPlaceholders(t *testing.T) {
	body := "Hi {customer_name}, {{escaped} order {order_id} and {order_id} again"
	got := Placeholders(body)
	want := []string{"customer_name", "order_id"}

	if len(got) != len(want) {
		t.Fatalf("Placeholders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Placeholders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
