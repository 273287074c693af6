package manifest

import _ "embed"

//go:embed default.yaml
var defaultYAML []byte

//go:embed manifest.schema.json
var schemaJSON []byte
