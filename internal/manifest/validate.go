package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modelrelay/relay/pkg/errors"
)

// Validate runs the logical validation rules over a structurally valid
// manifest. All violations are accumulated into a single
// ConfigurationError so one load reports every problem at once.
func (m *Manifest) Validate() error {
	var violations []string

	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	// Parameter ranges must be [min,max] with min <= max.
	for _, name := range sortedKeys(m.StandardSchema.Parameters) {
		spec := m.StandardSchema.Parameters[name]
		if len(spec.Range) == 0 {
			continue
		}
		if len(spec.Range) != 2 {
			add("standard_schema.parameters.%s: range must be [min,max], got %d values", name, len(spec.Range))
			continue
		}
		if spec.Range[0] > spec.Range[1] {
			add("standard_schema.parameters.%s: range min %g > max %g", name, spec.Range[0], spec.Range[1])
		}
	}

	for _, id := range sortedKeys(m.Providers) {
		p := m.Providers[id]

		if p.ResponsePaths.Content == "" {
			add("providers.%s: response_paths.content is required", id)
		}

		if p.BaseURLTemplate != "" {
			placeholders, err := TemplateVars(p.BaseURLTemplate)
			if err != nil {
				add("providers.%s: base_url_template: %v", id, err)
			} else {
				declared := make(map[string]bool, len(p.ConnectionVars))
				for _, v := range p.ConnectionVars {
					declared[v] = true
				}
				for _, ph := range placeholders {
					if !declared[ph.Name] {
						add("providers.%s: template variable %q not listed in connection_vars", id, ph.Name)
					}
				}
			}
		}

		// Mapping rules may only target canonical parameters.
		for _, param := range sortedKeys(p.ParamRules) {
			if _, ok := m.StandardSchema.Parameters[param]; !ok {
				add("providers.%s: param_rules.%s is not a canonical parameter", id, param)
			}
			if err := p.ParamRules[param].validate(); err != nil {
				add("providers.%s: param_rules.%s: %v", id, param, err)
			}
		}
	}

	for _, id := range sortedKeys(m.Models) {
		mdl := m.Models[id]
		if _, ok := m.Providers[mdl.Provider]; !ok {
			add("models.%s: provider %q is not defined", id, mdl.Provider)
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return errors.NewConfiguration(
		fmt.Sprintf("manifest has %d violation(s):\n  - %s",
			len(violations), strings.Join(violations, "\n  - ")))
}

func (r *MappingRule) validate() error {
	switch r.Kind {
	case RuleDirect:
		if r.TargetPath == "" {
			return fmt.Errorf("direct rule needs target_path")
		}
	case RuleScale:
		if r.Factor == 0 {
			return fmt.Errorf("scale rule needs a non-zero factor")
		}
	case RuleFormat:
		if r.Template == "" {
			return fmt.Errorf("format rule needs a template")
		}
	case RuleEnumMap:
		if len(r.Mappings) == 0 {
			return fmt.Errorf("enum_map rule needs mappings")
		}
	case RulePathRewrite:
		if r.SourcePattern == "" || r.TargetTemplate == "" {
			return fmt.Errorf("path_rewrite rule needs source_pattern and target_template")
		}
	case RuleTypeCast:
		if r.CastTo == "" {
			return fmt.Errorf("type_cast rule needs cast_to")
		}
	case RuleConditional:
		if len(r.Cases) == 0 {
			return fmt.Errorf("conditional rule needs at least one case")
		}
		for i, c := range r.Cases {
			if c.When.Param == "" {
				return fmt.Errorf("case %d: condition needs a param", i)
			}
			if c.TargetPath == "" {
				return fmt.Errorf("case %d: needs target_path", i)
			}
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
