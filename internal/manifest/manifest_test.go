package manifest

import (
	"strings"
	"testing"

	"github.com/modelrelay/relay/pkg/errors"
)

const validYAML = `version: "1"
standard_schema:
  parameters:
    temperature: {type: number, range: [0, 2]}
    max_tokens: {type: integer}
    stream: {type: boolean}
providers:
  openai:
    base_url: https://api.openai.com/v1
    chat_path: /chat/completions
    auth:
      mode: bearer
      env_var: OPENAI_API_KEY
    dialect: openai_style
    stream:
      format: data_lines
    param_rules:
      temperature: {kind: direct, target_path: temperature}
      max_tokens: {kind: direct, target_path: max_tokens}
    response_paths:
      content: choices[0].message.content
    default_model: gpt-4o-mini
models:
  gpt-4o:
    provider: openai
    context_window: 128000
  gpt-4o-mini:
    provider: openai
`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	p := m.Providers["openai"]
	if p.ID != "openai" {
		t.Errorf("provider id not stamped: %q", p.ID)
	}
	if p.Auth.Mode != AuthBearer || p.Auth.EnvVar != "OPENAI_API_KEY" {
		t.Errorf("auth = %+v", p.Auth)
	}

	mdl := m.Models["gpt-4o"]
	if mdl.ID != "gpt-4o" || mdl.WireID != "gpt-4o" {
		t.Errorf("model ids = %q / %q", mdl.ID, mdl.WireID)
	}
	if mdl.Status != StatusActive {
		t.Errorf("status = %q, want defaulted active", mdl.Status)
	}
}

func TestParseRejectsStructuralErrors(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
	}{
		{"missing chat_path", func(s string) string {
			return strings.Replace(s, "    chat_path: /chat/completions\n", "", 1)
		}},
		{"missing auth mode", func(s string) string {
			return strings.Replace(s, "      mode: bearer\n", "", 1)
		}},
		{"model without provider", func(s string) string {
			return s + "  stray:\n    context_window: 1\n"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.edit(validYAML)))
			ge, ok := errors.AsError(err)
			if !ok || ge.Kind != errors.KindConfiguration {
				t.Fatalf("err = %v, want KindConfiguration", err)
			}
		})
	}
}

func TestValidateAccumulatesViolations(t *testing.T) {
	bad := strings.Replace(validYAML,
		"      temperature: {kind: direct, target_path: temperature}",
		"      temperature: {kind: scale, target_path: temperature}", 1)
	bad = strings.Replace(bad,
		"    temperature: {type: number, range: [0, 2]}",
		"    temperature: {type: number, range: [2, 0]}", 1)

	_, err := Parse([]byte(bad))
	ge, ok := errors.AsError(err)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	// Both the inverted range and the factorless scale rule must be
	// reported in one pass.
	if !strings.Contains(ge.Message, "range min") {
		t.Errorf("missing range violation in %q", ge.Message)
	}
	if !strings.Contains(ge.Message, "non-zero factor") {
		t.Errorf("missing scale violation in %q", ge.Message)
	}
}

func TestValidateRejectsUnknownCanonicalParam(t *testing.T) {
	bad := strings.Replace(validYAML,
		"      max_tokens: {kind: direct, target_path: max_tokens}",
		"      mystery_param: {kind: direct, target_path: x}", 1)
	_, err := Parse([]byte(bad))
	if err == nil || !strings.Contains(err.Error(), "mystery_param") {
		t.Fatalf("err = %v, want a violation naming mystery_param", err)
	}
}

func TestValidateRejectsUndeclaredTemplateVar(t *testing.T) {
	bad := strings.Replace(validYAML,
		"    base_url: https://api.openai.com/v1",
		"    base_url_template: https://{RESOURCE}.example.com", 1)
	_, err := Parse([]byte(bad))
	if err == nil || !strings.Contains(err.Error(), "RESOURCE") {
		t.Fatalf("err = %v, want a violation naming RESOURCE", err)
	}
}

func TestTemplateVars(t *testing.T) {
	phs, err := TemplateVars("https://{RESOURCE}.openai.azure.com/deployments/${DEPLOYMENT}/x")
	if err != nil {
		t.Fatal(err)
	}
	if len(phs) != 2 || phs[0].Name != "RESOURCE" || phs[1].Name != "DEPLOYMENT" {
		t.Fatalf("placeholders = %+v", phs)
	}

	for _, bad := range []string{"a{b{c}}", "a{unclosed", "a}b", "a{}b"} {
		if _, err := TemplateVars(bad); err == nil {
			t.Errorf("TemplateVars(%q) accepted a malformed template", bad)
		}
	}
}

func TestDefaultManifestParses(t *testing.T) {
	m := Default()
	for _, id := range []string{"openai", "anthropic", "gemini", "cohere"} {
		if _, ok := m.Providers[id]; !ok {
			t.Errorf("embedded manifest missing provider %q", id)
		}
	}
	if len(m.Models) == 0 {
		t.Error("embedded manifest lists no models")
	}
}

func TestExportSchemaIsCopied(t *testing.T) {
	a := ExportSchema()
	if len(a) == 0 {
		t.Fatal("empty schema export")
	}
	a[0] = 'X'
	if b := ExportSchema(); b[0] == 'X' {
		t.Error("ExportSchema shares its backing array with the embed")
	}
}

func TestConditionMatches(t *testing.T) {
	yes, no := true, false
	gt := 0.5
	scope := map[string]any{"temperature": 0.9, "model": "gpt-4o"}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"presence only", Condition{Param: "model"}, true},
		{"presence only, absent", Condition{Param: "nope"}, false},
		{"exists true", Condition{Param: "model", Exists: &yes}, true},
		{"exists false", Condition{Param: "nope", Exists: &no}, true},
		{"eq match", Condition{Param: "model", Eq: "gpt-4o"}, true},
		{"eq mismatch", Condition{Param: "model", Eq: "gpt-3.5"}, false},
		{"gt holds", Condition{Param: "temperature", Gt: &gt}, true},
		{"lt fails", Condition{Param: "temperature", Lt: &gt}, false},
		{"gt on missing param", Condition{Param: "nope", Gt: &gt}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Matches(scope); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}
