package catalog

import (
	"os"
	"strings"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
)

// Resolution is the outcome of resolving one call: which provider to
// hit, which wire-level model name to send, and what to try next if
// the provider rejects the model.
type Resolution struct {
	Provider  *manifest.ProviderDefinition
	Model     *manifest.ModelDefinition
	WireModel string
	// Fallbacks lists wire ids to try, in order, after an
	// invalid-model error. The chosen model itself is excluded.
	Fallbacks []string
	DocsURL   string
}

// Resolver maps public model ids onto provider wire ids using the
// manifest snapshot, with environment and static-catalogue defaults
// for providers the manifest leaves unconfigured.
type Resolver struct {
	registry *manifest.Registry
}

// NewResolver wraps a manifest registry.
func NewResolver(registry *manifest.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve picks the provider and wire model for a call.
//
// Precedence: a manifest model entry wins; otherwise the provider hint
// selects the provider and the wire id falls back through pass-through,
// the provider's default_model, the <PROVIDER>_MODEL environment
// override, and finally the static catalogue. An unknown model with no
// hint is a configuration error: the resolver never invents a provider.
func (r *Resolver) Resolve(requestedModel, providerHint string) (*Resolution, error) {
	m := r.registry.Manifest()

	if mdl, ok := m.Models[requestedModel]; ok {
		return r.fromManifestModel(m, mdl)
	}

	if providerHint == "" {
		return nil, errors.Newf(errors.KindConfiguration,
			"model %q is not in the catalogue and no provider was named", requestedModel)
	}

	provider, ok := m.Providers[providerHint]
	if !ok {
		return nil, errors.Newf(errors.KindConfiguration,
			"unknown provider %q", providerHint)
	}

	wire := requestedModel
	if wire == "" {
		wire = r.defaultWireModel(provider)
	}
	if wire == "" {
		return nil, errors.Newf(errors.KindConfiguration,
			"provider %q has no default model; name one explicitly", providerHint)
	}

	res := &Resolution{Provider: provider, WireModel: wire}
	r.attachStatics(res)
	return res, nil
}

func (r *Resolver) fromManifestModel(m *manifest.Manifest, mdl *manifest.ModelDefinition) (*Resolution, error) {
	if mdl.Status == manifest.StatusRetired {
		err := errors.Newf(errors.KindModelNotFound, "model %q has been retired", mdl.ID)
		err.Model = mdl.ID
		err.Provider = mdl.Provider
		if e, ok := StaticEntry(mdl.Provider); ok {
			err.Suggested = e.Fallbacks
			err.DocsURL = e.DocsURL
		}
		return nil, err
	}

	provider, ok := m.Providers[mdl.Provider]
	if !ok {
		// Validation guarantees this; a stale snapshot race is still
		// reported cleanly.
		return nil, errors.Newf(errors.KindConfiguration,
			"model %q names missing provider %q", mdl.ID, mdl.Provider)
	}

	res := &Resolution{
		Provider:  provider,
		Model:     mdl,
		WireModel: mdl.WireID,
	}
	r.attachStatics(res)
	return res, nil
}

// defaultWireModel walks the default chain for a provider with no
// model named: manifest default, environment override, static table.
func (r *Resolver) defaultWireModel(p *manifest.ProviderDefinition) string {
	if p.DefaultModel != "" {
		if mdl, ok := r.registry.Manifest().Models[p.DefaultModel]; ok {
			return mdl.WireID
		}
		return p.DefaultModel
	}
	if env := os.Getenv(envModelVar(p.ID)); env != "" {
		return env
	}
	if e, ok := StaticEntry(p.ID); ok {
		return e.DefaultModel
	}
	return ""
}

// attachStatics fills the fallback chain and docs URL, dropping the
// already-chosen wire model from the chain.
func (r *Resolver) attachStatics(res *Resolution) {
	e, ok := StaticEntry(res.Provider.ID)
	if !ok {
		return
	}
	res.DocsURL = e.DocsURL
	for _, fb := range e.Fallbacks {
		if fb != res.WireModel {
			res.Fallbacks = append(res.Fallbacks, fb)
		}
	}
}

// envModelVar is the per-provider model override variable, e.g.
// OPENAI_MODEL.
func envModelVar(provider string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, provider)
	return sanitized + "_MODEL"
}
