package mapping

import (
	"strings"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
)

// ExpandTemplate substitutes {var} and ${VAR} placeholders in a URL
// template from vars. The first placeholder with no key in vars fails
// the expansion with a ConfigurationError naming it.
func ExpandTemplate(template string, vars map[string]string) (string, error) {
	placeholders, err := manifest.TemplateVars(template)
	if err != nil {
		return "", errors.NewConfiguration(err.Error()).WithCause(err)
	}

	var b strings.Builder
	b.Grow(len(template))
	prev := 0
	for _, ph := range placeholders {
		val, ok := vars[ph.Name]
		if !ok {
			return "", errors.Newf(errors.KindConfiguration,
				"template %q: missing variable %q", template, ph.Name)
		}
		b.WriteString(template[prev:ph.Start])
		b.WriteString(val)
		prev = ph.End
	}
	b.WriteString(template[prev:])
	return b.String(), nil
}
