package schema

import _ "embed"

//go:embed tool-provisioner-config.schema.json
var ConfigSchema []byte

//go:embed tool-manifest.schema.json
var ManifestSchema []byte
