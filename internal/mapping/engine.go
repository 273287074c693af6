package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/cbroglie/mustache"
	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// BuildBody produces the provider wire body for a canonical request.
// The construction order is fixed so that identical inputs always
// produce identical bodies: messages, model id, mapped parameters in
// sorted canonical order, tools, model-level overrides, extensions.
func BuildBody(p *manifest.ProviderDefinition, mdl *manifest.ModelDefinition, wireModel string, req *types.ChatRequest) (map[string]any, error) {
	body := map[string]any{}

	if err := setMessages(body, p.Dialect, req.Messages); err != nil {
		return nil, err
	}

	// The gemini dialect carries the model in the URL, not the body.
	if p.Dialect != manifest.DialectGemini {
		body["model"] = wireModel
	}

	params := paramValues(req)
	for _, name := range sortedParams(params) {
		rule, ok := p.ParamRules[name]
		if !ok {
			// Parameters the provider does not map are dropped.
			continue
		}
		if err := applyRule(body, rule, params[name], params); err != nil {
			return nil, errors.Newf(errors.KindConfiguration,
				"provider %s: mapping parameter %q: %v", p.ID, name, err)
		}
	}

	if len(req.Tools) > 0 {
		if err := setTools(body, p.Dialect, req.Tools); err != nil {
			return nil, err
		}
	}

	// Model-level overrides win over anything the provider mapping
	// produced for the same parameter.
	if mdl != nil && len(mdl.Overrides) > 0 {
		for _, name := range sortedKeys(mdl.Overrides) {
			rule, ok := p.ParamRules[name]
			if !ok {
				continue
			}
			if err := applyRule(body, rule, mdl.Overrides[name], params); err != nil {
				return nil, errors.Newf(errors.KindConfiguration,
					"model %s: override %q: %v", mdl.ID, name, err)
			}
		}
	}

	// Extensions merge verbatim but may never overwrite engine output.
	for _, key := range sortedKeys(req.Extensions) {
		if _, exists := body[key]; exists {
			return nil, errors.Newf(errors.KindConfiguration,
				"extension %q collides with a mapped field", key)
		}
		var v any
		if err := json.Unmarshal(req.Extensions[key], &v); err != nil {
			return nil, errors.Newf(errors.KindConfiguration,
				"extension %q is not valid JSON: %v", key, err)
		}
		body[key] = v
	}

	return body, nil
}

// paramValues collects the canonical parameters present on the request.
func paramValues(req *types.ChatRequest) map[string]any {
	params := map[string]any{}
	if req.Temperature != nil {
		params["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		params["max_tokens"] = float64(req.MaxTokens)
	}
	if req.TopP != nil {
		params["top_p"] = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		params["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		params["presence_penalty"] = *req.PresencePenalty
	}
	if req.Stream {
		params["stream"] = true
	}
	if len(req.ToolChoice) > 0 {
		var v any
		if err := json.Unmarshal(req.ToolChoice, &v); err == nil {
			params["tool_choice"] = v
		}
	}
	if req.ResponseFormat != nil {
		params["response_format"] = map[string]any{"type": req.ResponseFormat.Type}
	}
	return params
}

func applyRule(body map[string]any, rule *manifest.MappingRule, value any, scope map[string]any) error {
	switch rule.Kind {
	case manifest.RuleDirect:
		return Set(body, rule.TargetPath, value)

	case manifest.RuleScale:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("scale requires a numeric value, got %T", value)
		}
		return Set(body, rule.TargetPath, f*rule.Factor)

	case manifest.RuleFormat:
		rendered, err := mustache.Render(rule.Template, scopeWith(scope, value))
		if err != nil {
			return fmt.Errorf("render template: %w", err)
		}
		return Set(body, rule.TargetPath, rendered)

	case manifest.RuleEnumMap:
		key := fmt.Sprintf("%v", value)
		mapped, ok := rule.Mappings[key]
		if !ok {
			if rule.Default == nil {
				return nil // drop unmapped values
			}
			mapped = *rule.Default
		}
		return Set(body, rule.TargetPath, mapped)

	case manifest.RulePathRewrite:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("path_rewrite requires a string value, got %T", value)
		}
		re, err := regexp.Compile(rule.SourcePattern)
		if err != nil {
			return fmt.Errorf("compile source_pattern: %w", err)
		}
		return Set(body, rule.TargetPath, re.ReplaceAllString(str, rule.TargetTemplate))

	case manifest.RuleTypeCast:
		cast, err := typeCast(value, rule.CastTo)
		if err != nil {
			return err
		}
		return Set(body, rule.TargetPath, cast)

	case manifest.RuleConditional:
		for _, c := range rule.Cases {
			if !c.When.Matches(scope) {
				continue
			}
			if c.Transform != nil {
				inner := *c.Transform
				if inner.TargetPath == "" {
					inner.TargetPath = c.TargetPath
				}
				return applyRule(body, &inner, value, scope)
			}
			return Set(body, c.TargetPath, value)
		}
		return nil // no case matched: parameter dropped

	default:
		return fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

// scopeWith exposes the request parameters plus the current value to
// format templates.
func scopeWith(scope map[string]any, value any) map[string]any {
	out := make(map[string]any, len(scope)+1)
	for k, v := range scope {
		out[k] = v
	}
	out["value"] = value
	return out
}

func typeCast(value any, target string) (any, error) {
	switch target {
	case "string":
		return fmt.Sprintf("%v", value), nil
	case "number":
		if f, ok := toFloat(value); ok {
			return f, nil
		}
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to number: %w", s, err)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot cast %T to number", value)
	case "integer":
		if f, ok := toFloat(value); ok {
			return int64(f), nil
		}
		if s, ok := value.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to integer: %w", s, err)
			}
			return n, nil
		}
		return nil, fmt.Errorf("cannot cast %T to integer", value)
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cast %q to boolean: %w", v, err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot cast %T to boolean", value)
	default:
		return nil, fmt.Errorf("unknown cast target %q", target)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedParams(m map[string]any) []string {
	return sortedKeys(m)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
