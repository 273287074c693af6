// Package manifest implements the declarative catalogue of providers
// and models that drives the gateway. A manifest is loaded from YAML,
// validated structurally (JSON Schema) and logically (referential
// rules), then published as an immutable snapshot behind an atomic
// pointer; hot reload swaps snapshots without locking readers.
package manifest

import "fmt"

// Auth modes supported by provider definitions.
const (
	AuthBearer       = "bearer"
	AuthAPIKeyHeader = "api_key_header"
	AuthQueryParam   = "query_param"
	AuthNone         = "none"
)

// Payload dialects. A dialect fixes the wire field names for messages
// and the model id; everything else is per-provider mapping data.
const (
	DialectOpenAI    = "openai_style"
	DialectAnthropic = "anthropic_style"
	DialectGemini    = "gemini_style"
	DialectCohere    = "cohere_native"
)

// Streaming event dialects.
const (
	StreamDataLines    = "data_lines"
	StreamAnthropicSSE = "anthropic_sse"
	StreamGeminiJSON   = "gemini_json"
	StreamCohereNative = "cohere_native"
	StreamResponsesAPI = "responses_api"
)

// Model lifecycle statuses.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
	StatusRetired    = "retired"
)

// Manifest is the authoritative gateway configuration: the canonical
// parameter vocabulary plus every provider and model record.
type Manifest struct {
	Version        string                         `yaml:"version" json:"version"`
	StandardSchema StandardSchema                 `yaml:"standard_schema" json:"standard_schema"`
	Providers      map[string]*ProviderDefinition `yaml:"providers" json:"providers"`
	Models         map[string]*ModelDefinition    `yaml:"models" json:"models"`
}

// StandardSchema declares the canonical parameter vocabulary that
// mapping rules may refer to.
type StandardSchema struct {
	Parameters      map[string]ParameterSpec `yaml:"parameters" json:"parameters"`
	ResponseFormats []string                 `yaml:"response_formats,omitempty" json:"response_formats,omitempty"`
	StreamEvents    []string                 `yaml:"stream_events,omitempty" json:"stream_events,omitempty"`
}

// ParameterSpec describes one canonical parameter.
type ParameterSpec struct {
	Type    string    `yaml:"type" json:"type"`
	Range   []float64 `yaml:"range,omitempty" json:"range,omitempty"`
	Default any       `yaml:"default,omitempty" json:"default,omitempty"`
}

// AuthConfig selects how credentials are attached to requests.
type AuthConfig struct {
	Mode         string            `yaml:"mode" json:"mode"`
	EnvVar       string            `yaml:"env_var,omitempty" json:"env_var,omitempty"`
	HeaderName   string            `yaml:"header_name,omitempty" json:"header_name,omitempty"`
	ParamName    string            `yaml:"param_name,omitempty" json:"param_name,omitempty"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty" json:"extra_headers,omitempty"`
}

// StreamConfig describes how a provider streams tokens.
type StreamConfig struct {
	Format string `yaml:"format" json:"format"`
	// Path overrides the chat path for streaming calls (gemini's
	// streamGenerateContent endpoint).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DoneEvent is the configured terminal sentinel for NDJSON
	// dialects, e.g. "stream-end".
	DoneEvent string `yaml:"done_event,omitempty" json:"done_event,omitempty"`
}

// ResponsePaths tells the extraction layer where to read fields on a
// non-stream reply. Content is mandatory; the rest are optional.
type ResponsePaths struct {
	Content         string `yaml:"content" json:"content"`
	ToolCalls       string `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	FinishReason    string `yaml:"finish_reason,omitempty" json:"finish_reason,omitempty"`
	UsagePrompt     string `yaml:"usage_prompt,omitempty" json:"usage_prompt,omitempty"`
	UsageCompletion string `yaml:"usage_completion,omitempty" json:"usage_completion,omitempty"`
	UsageTotal      string `yaml:"usage_total,omitempty" json:"usage_total,omitempty"`
}

// ProviderDefinition captures every site-specific detail of one
// upstream provider API.
type ProviderDefinition struct {
	ID              string                  `yaml:"-" json:"id"`
	BaseURL         string                  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	BaseURLTemplate string                  `yaml:"base_url_template,omitempty" json:"base_url_template,omitempty"`
	ConnectionVars  []string                `yaml:"connection_vars,omitempty" json:"connection_vars,omitempty"`
	ChatPath        string                  `yaml:"chat_path" json:"chat_path"`
	UploadEndpoint  string                  `yaml:"upload_endpoint,omitempty" json:"upload_endpoint,omitempty"`
	Auth            AuthConfig              `yaml:"auth" json:"auth"`
	Dialect         string                  `yaml:"dialect" json:"dialect"`
	Stream          StreamConfig            `yaml:"stream" json:"stream"`
	Headers         map[string]string       `yaml:"headers,omitempty" json:"headers,omitempty"`
	ParamRules      map[string]*MappingRule `yaml:"param_rules,omitempty" json:"param_rules,omitempty"`
	ResponsePaths   ResponsePaths           `yaml:"response_paths" json:"response_paths"`
	Capabilities    []string                `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	DefaultModel    string                  `yaml:"default_model,omitempty" json:"default_model,omitempty"`
}

// HasCapability reports whether the provider declares the capability.
func (p *ProviderDefinition) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// ModelDefinition binds a public model id to its owning provider and
// wire-level name.
type ModelDefinition struct {
	ID            string         `yaml:"-" json:"id"`
	Provider      string         `yaml:"provider" json:"provider"`
	WireID        string         `yaml:"wire_id,omitempty" json:"wire_id,omitempty"`
	ContextWindow int            `yaml:"context_window,omitempty" json:"context_window,omitempty"`
	Capabilities  []string       `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Pricing       *Pricing       `yaml:"pricing,omitempty" json:"pricing,omitempty"`
	Overrides     map[string]any `yaml:"overrides,omitempty" json:"overrides,omitempty"`
	Status        string         `yaml:"status,omitempty" json:"status,omitempty"`
}

// Pricing is informational; the core never bills.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// MappingRule is the tagged instruction for rewriting one canonical
// parameter into provider wire shape.
type MappingRule struct {
	Kind       string `yaml:"kind" json:"kind"`
	TargetPath string `yaml:"target_path,omitempty" json:"target_path,omitempty"`

	// scale
	Factor float64 `yaml:"factor,omitempty" json:"factor,omitempty"`

	// format
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// enum_map
	Mappings map[string]string `yaml:"mappings,omitempty" json:"mappings,omitempty"`
	Default  *string           `yaml:"default,omitempty" json:"default,omitempty"`

	// path_rewrite
	SourcePattern  string `yaml:"source_pattern,omitempty" json:"source_pattern,omitempty"`
	TargetTemplate string `yaml:"target_template,omitempty" json:"target_template,omitempty"`

	// type_cast
	CastTo string `yaml:"cast_to,omitempty" json:"cast_to,omitempty"`

	// conditional
	Cases []ConditionalCase `yaml:"cases,omitempty" json:"cases,omitempty"`
}

// Mapping rule kinds.
const (
	RuleDirect      = "direct"
	RuleConditional = "conditional"
	RuleScale       = "scale"
	RuleFormat      = "format"
	RuleEnumMap     = "enum_map"
	RulePathRewrite = "path_rewrite"
	RuleTypeCast    = "type_cast"
)

// ConditionalCase is one branch of a conditional rule; the first
// matching condition wins.
type ConditionalCase struct {
	When       Condition    `yaml:"when" json:"when"`
	TargetPath string       `yaml:"target_path" json:"target_path"`
	Transform  *MappingRule `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Condition is a declarative predicate over one canonical parameter.
type Condition struct {
	Param  string   `yaml:"param" json:"param"`
	Exists *bool    `yaml:"exists,omitempty" json:"exists,omitempty"`
	Eq     any      `yaml:"eq,omitempty" json:"eq,omitempty"`
	Gt     *float64 `yaml:"gt,omitempty" json:"gt,omitempty"`
	Lt     *float64 `yaml:"lt,omitempty" json:"lt,omitempty"`
}

// Matches evaluates the condition against a map of canonical parameter
// values. All declared clauses must hold.
func (c *Condition) Matches(scope map[string]any) bool {
	val, present := scope[c.Param]

	if c.Exists != nil && *c.Exists != present {
		return false
	}
	if c.Eq != nil {
		if !present || fmt.Sprintf("%v", val) != fmt.Sprintf("%v", c.Eq) {
			return false
		}
	}
	if c.Gt != nil || c.Lt != nil {
		f, ok := asFloat(val)
		if !present || !ok {
			return false
		}
		if c.Gt != nil && !(f > *c.Gt) {
			return false
		}
		if c.Lt != nil && !(f < *c.Lt) {
			return false
		}
	}
	// A condition with only a param clause matches on presence.
	if c.Exists == nil && c.Eq == nil && c.Gt == nil && c.Lt == nil {
		return present
	}
	return true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
