package transport

import (
	"io"
	"os"
	"strings"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/internal/mapping"
	"github.com/modelrelay/relay/pkg/errors"
)

// Generic environment fallbacks consulted after provider-specific
// variables.
const (
	EnvGenericAPIKey  = "AI_API_KEY"
	EnvGenericBaseURL = "AI_BASE_URL"
)

// Overrides holds per-provider values set on the client builder. They
// outrank the environment but lose to per-call values.
type Overrides struct {
	// APIKeys maps provider id to credential.
	APIKeys map[string]string
	// BaseURLs maps provider id to endpoint override.
	BaseURLs map[string]string
	// ConnectionVars feed base_url_template placeholders.
	ConnectionVars map[string]string
}

// ResolveAPIKey walks the credential chain for a provider: explicit
// call-site value, client override, the provider's configured env var,
// then the generic AI_API_KEY. Providers with auth mode "none" always
// resolve to empty.
func ResolveAPIKey(p *manifest.ProviderDefinition, explicit string, o Overrides) (string, error) {
	if p.Auth.Mode == manifest.AuthNone {
		return "", nil
	}
	if explicit != "" {
		return explicit, nil
	}
	if key, ok := o.APIKeys[p.ID]; ok && key != "" {
		return key, nil
	}
	if p.Auth.EnvVar != "" {
		if key := os.Getenv(p.Auth.EnvVar); key != "" {
			return key, nil
		}
	}
	if key := os.Getenv(EnvGenericAPIKey); key != "" {
		return key, nil
	}

	err := errors.Newf(errors.KindAuthentication,
		"no credential found for provider %q; set %s", p.ID, credentialHint(p))
	err.Provider = p.ID
	return "", err
}

func credentialHint(p *manifest.ProviderDefinition) string {
	if p.Auth.EnvVar != "" {
		return p.Auth.EnvVar
	}
	return EnvGenericAPIKey
}

// ResolveBaseURL walks the endpoint chain: explicit value, client
// override, the provider's <PROVIDER>_BASE_URL variable, generic
// AI_BASE_URL, then the manifest. Templates are expanded from
// connection variables (client overrides first, then the environment).
func ResolveBaseURL(p *manifest.ProviderDefinition, explicit string, o Overrides) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if u, ok := o.BaseURLs[p.ID]; ok && u != "" {
		return u, nil
	}
	if u := os.Getenv(envBaseURLVar(p.ID)); u != "" {
		return u, nil
	}
	if u := os.Getenv(EnvGenericBaseURL); u != "" {
		return u, nil
	}

	if p.BaseURLTemplate != "" {
		vars := make(map[string]string, len(p.ConnectionVars))
		for _, name := range p.ConnectionVars {
			if v, ok := o.ConnectionVars[name]; ok && v != "" {
				vars[name] = v
				continue
			}
			if v := os.Getenv(name); v != "" {
				vars[name] = v
			}
		}
		return mapping.ExpandTemplate(p.BaseURLTemplate, vars)
	}

	if p.BaseURL != "" {
		return p.BaseURL, nil
	}
	return "", errors.Newf(errors.KindConfiguration,
		"provider %q declares no base URL", p.ID)
}

// envBaseURLVar is the per-provider endpoint override variable, e.g.
// OPENAI_BASE_URL for provider "openai".
func envBaseURLVar(provider string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, provider)
	return sanitized + "_BASE_URL"
}

// maxResponseBody caps buffered upstream bodies at 10MB. Streams are
// unaffected; they never buffer whole bodies.
const maxResponseBody int64 = 10 * 1024 * 1024

// ReadLimitedBody reads at most maxResponseBody bytes, surfacing an
// InvalidModelResponse when the cap is exceeded.
func ReadLimitedBody(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxResponseBody+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxResponseBody {
		return body[:maxResponseBody], errors.New(errors.KindInvalidModelResponse,
			"response body exceeds the 10MB limit")
	}
	return body, nil
}
