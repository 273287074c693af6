package mapping

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

func float(v float64) *float64 { return &v }

func openAIProvider() *manifest.ProviderDefinition {
	return &manifest.ProviderDefinition{
		ID:      "openai",
		Dialect: manifest.DialectOpenAI,
		ParamRules: map[string]*manifest.MappingRule{
			"temperature": {Kind: manifest.RuleDirect, TargetPath: "temperature"},
			"max_tokens":  {Kind: manifest.RuleDirect, TargetPath: "max_tokens"},
			"stream":      {Kind: manifest.RuleDirect, TargetPath: "stream"},
		},
	}
}

func TestBuildBodyOpenAI(t *testing.T) {
	req := &types.ChatRequest{
		Model:       "gpt-4o",
		Temperature: float(0.7),
		MaxTokens:   256,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: types.TextContent("be terse")},
			{Role: types.RoleUser, Content: types.TextContent("hi")},
		},
	}

	body, err := BuildBody(openAIProvider(), nil, "gpt-4o", req)
	if err != nil {
		t.Fatal(err)
	}

	if body["model"] != "gpt-4o" {
		t.Errorf("model = %v", body["model"])
	}
	if body["temperature"] != 0.7 {
		t.Errorf("temperature = %v", body["temperature"])
	}
	if body["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be terse" {
		t.Errorf("first message = %v", first)
	}
}

func TestBuildBodyDeterministic(t *testing.T) {
	req := &types.ChatRequest{
		Model:       "gpt-4o",
		Temperature: float(1),
		TopP:        float(0.5),
		MaxTokens:   100,
		Messages:    []types.Message{{Role: types.RoleUser, Content: types.TextContent("x")}},
	}
	p := openAIProvider()
	p.ParamRules["top_p"] = &manifest.MappingRule{Kind: manifest.RuleDirect, TargetPath: "top_p"}

	a, err := BuildBody(p, nil, "gpt-4o", req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildBody(p, nil, "gpt-4o", req)
	if err != nil {
		t.Fatal(err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("identical inputs produced different bodies:\n%s\n%s", ja, jb)
	}
}

func TestBuildBodyAnthropicDialect(t *testing.T) {
	p := &manifest.ProviderDefinition{
		ID:      "anthropic",
		Dialect: manifest.DialectAnthropic,
		ParamRules: map[string]*manifest.MappingRule{
			"temperature": {Kind: manifest.RuleScale, Factor: 0.5, TargetPath: "temperature"},
			"max_tokens":  {Kind: manifest.RuleDirect, TargetPath: "max_tokens"},
		},
	}
	req := &types.ChatRequest{
		Temperature: float(1.6),
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: types.TextContent("be brief")},
			{Role: types.RoleUser, Content: types.TextContent("hi")},
		},
	}

	body, err := BuildBody(p, nil, "claude-3-5-sonnet-latest", req)
	if err != nil {
		t.Fatal(err)
	}

	// System messages hoist to the top-level field.
	if body["system"] != "be brief" {
		t.Errorf("system = %v", body["system"])
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	if got := body["temperature"].(float64); got != 0.8 {
		t.Errorf("scaled temperature = %v, want 0.8", got)
	}
}

func TestBuildBodyGeminiDialect(t *testing.T) {
	p := &manifest.ProviderDefinition{
		ID:      "gemini",
		Dialect: manifest.DialectGemini,
		ParamRules: map[string]*manifest.MappingRule{
			"max_tokens": {Kind: manifest.RuleDirect, TargetPath: "generationConfig.maxOutputTokens"},
		},
	}
	req := &types.ChatRequest{
		MaxTokens: 64,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: types.TextContent("hi")},
			{Role: types.RoleAssistant, Content: types.TextContent("hello")},
		},
	}

	body, err := BuildBody(p, nil, "gemini-2.0-flash", req)
	if err != nil {
		t.Fatal(err)
	}

	if _, hasModel := body["model"]; hasModel {
		t.Error("gemini body must not carry the model field")
	}
	contents := body["contents"].([]any)
	second := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Errorf("assistant role = %v, want model", second["role"])
	}
	gc := body["generationConfig"].(map[string]any)
	if gc["maxOutputTokens"] != float64(64) {
		t.Errorf("maxOutputTokens = %v", gc["maxOutputTokens"])
	}
}

func TestModelOverridesWin(t *testing.T) {
	p := openAIProvider()
	mdl := &manifest.ModelDefinition{
		ID:        "gpt-4o-big",
		Overrides: map[string]any{"max_tokens": 8192},
	}
	req := &types.ChatRequest{
		MaxTokens: 100,
		Messages:  []types.Message{{Role: types.RoleUser, Content: types.TextContent("x")}},
	}

	body, err := BuildBody(p, mdl, "gpt-4o-big", req)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := toFloat(body["max_tokens"]); got != 8192 {
		t.Errorf("max_tokens = %v, want the model override 8192", body["max_tokens"])
	}
}

func TestExtensionsMergeButNeverCollide(t *testing.T) {
	p := openAIProvider()
	req := &types.ChatRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextContent("x")}},
		Extensions: map[string]json.RawMessage{
			"logprobs": json.RawMessage(`true`),
		},
	}
	body, err := BuildBody(p, nil, "gpt-4o", req)
	if err != nil {
		t.Fatal(err)
	}
	if body["logprobs"] != true {
		t.Errorf("logprobs = %v", body["logprobs"])
	}

	req.Extensions = map[string]json.RawMessage{"model": json.RawMessage(`"evil"`)}
	_, err = BuildBody(p, nil, "gpt-4o", req)
	ge, ok := errors.AsError(err)
	if !ok || ge.Kind != errors.KindConfiguration {
		t.Fatalf("colliding extension err = %v, want KindConfiguration", err)
	}
}

func TestApplyRuleTransforms(t *testing.T) {
	scope := map[string]any{"model": "gpt-4o"}

	cases := []struct {
		name  string
		rule  *manifest.MappingRule
		value any
		path  string
		want  any
	}{
		{
			"format renders mustache",
			&manifest.MappingRule{Kind: manifest.RuleFormat, TargetPath: "prompt", Template: "Q: {{value}}"},
			"why", "prompt", "Q: why",
		},
		{
			"enum_map translates",
			&manifest.MappingRule{Kind: manifest.RuleEnumMap, TargetPath: "tool_choice.type",
				Mappings: map[string]string{"required": "any"}},
			"required", "tool_choice.type", "any",
		},
		{
			"path_rewrite applies regex",
			&manifest.MappingRule{Kind: manifest.RulePathRewrite, TargetPath: "deployment",
				SourcePattern: `^gpt-(.*)$`, TargetTemplate: "azure-gpt-$1"},
			"gpt-4o", "deployment", "azure-gpt-4o",
		},
		{
			"type_cast string to integer",
			&manifest.MappingRule{Kind: manifest.RuleTypeCast, TargetPath: "n", CastTo: "integer"},
			"42", "n", int64(42),
		},
		{
			"conditional first match wins",
			&manifest.MappingRule{Kind: manifest.RuleConditional, Cases: []manifest.ConditionalCase{
				{When: manifest.Condition{Param: "missing"}, TargetPath: "a"},
				{When: manifest.Condition{Param: "model"}, TargetPath: "b"},
			}},
			"v", "b", "v",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := map[string]any{}
			if err := applyRule(body, tc.rule, tc.value, scope); err != nil {
				t.Fatal(err)
			}
			got, ok := Get(body, tc.path)
			if !ok || got != tc.want {
				t.Errorf("body[%s] = (%v, %v), want %v", tc.path, got, ok, tc.want)
			}
		})
	}
}

func TestEnumMapDefaultAndDrop(t *testing.T) {
	def := "auto"
	rule := &manifest.MappingRule{Kind: manifest.RuleEnumMap, TargetPath: "mode",
		Mappings: map[string]string{"a": "x"}, Default: &def}
	body := map[string]any{}
	if err := applyRule(body, rule, "unmapped", nil); err != nil {
		t.Fatal(err)
	}
	if body["mode"] != "auto" {
		t.Errorf("mode = %v, want default auto", body["mode"])
	}

	rule.Default = nil
	body = map[string]any{}
	if err := applyRule(body, rule, "unmapped", nil); err != nil {
		t.Fatal(err)
	}
	if _, present := body["mode"]; present {
		t.Error("unmapped value without default must be dropped")
	}
}

func TestConditionalNoMatchDropsParameter(t *testing.T) {
	rule := &manifest.MappingRule{Kind: manifest.RuleConditional, Cases: []manifest.ConditionalCase{
		{When: manifest.Condition{Param: "absent"}, TargetPath: "x"},
	}}
	body := map[string]any{}
	if err := applyRule(body, rule, 1, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if len(body) != 0 {
		t.Errorf("body = %v, want empty", body)
	}
}

func TestUnmappedParametersDropped(t *testing.T) {
	p := openAIProvider()
	delete(p.ParamRules, "temperature")
	req := &types.ChatRequest{
		Temperature: float(0.3),
		Messages:    []types.Message{{Role: types.RoleUser, Content: types.TextContent("x")}},
	}
	body, err := BuildBody(p, nil, "gpt-4o", req)
	if err != nil {
		t.Fatal(err)
	}
	if _, present := body["temperature"]; present {
		t.Error("parameter without a rule must not reach the wire body")
	}
}
