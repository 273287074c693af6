package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/modelrelay/relay/pkg/errors"
)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func structuralSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("manifest.schema.json")
	})
	return compiledSchema, schemaErr
}

// Parse decodes a YAML manifest, runs structural validation against the
// embedded JSON Schema, then the logical rules. Environment variables
// in ${VAR} form inside quoted scalar values are NOT expanded here;
// credential resolution happens at request time.
func Parse(data []byte) (*Manifest, error) {
	// Structural pass: decode generically, re-encode as JSON, and
	// validate against the schema so type errors carry field paths.
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("parse manifest: %v", err)).WithCause(err)
	}

	sch, err := structuralSchema()
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("normalize manifest: %v", err)).WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("normalize manifest: %v", err)).WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("manifest failed schema validation: %v", err)).WithCause(err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("decode manifest: %v", err)).WithCause(err)
	}

	// Stamp ids so records are self-describing after lookup.
	for id, p := range m.Providers {
		p.ID = id
	}
	for id, mdl := range m.Models {
		mdl.ID = id
		if mdl.WireID == "" {
			mdl.WireID = id
		}
		if mdl.Status == "" {
			mdl.Status = StatusActive
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("read manifest %s: %v", path, err)).WithCause(err)
	}
	m, err := Parse(data)
	if err != nil {
		if ge, ok := errors.AsError(err); ok {
			ge.Message = fmt.Sprintf("%s: %s", path, ge.Message)
		}
		return nil, err
	}
	return m, nil
}

// Default parses the embedded default manifest shipped with the
// library. It panics on failure since the embedded document is fixed
// at build time and covered by tests.
func Default() *Manifest {
	m, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default manifest invalid: %v", err))
	}
	return m
}

// ExportSchema returns the companion JSON Schema for editor validation
// of manifest files.
func ExportSchema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}
