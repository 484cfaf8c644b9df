// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package descriptor

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaID is the base URI for generated descriptor schemas.
const SchemaID = "https://plugify.net/schemas"

// schemaCache holds compiled schemas keyed by kind to avoid recompilation.
var schemaCache sync.Map

// schemaKind enumerates the generatable document schemas.
type schemaKind struct {
	name  string
	title string
	model any
}

// SchemaKinds lists every document kind a schema is generated for. Manifests
// have no schema; pkgmanager.ParseManifest checks them as it decodes.
var SchemaKinds = []string{"plugin", "module"}

func kindFor(kind string) (schemaKind, error) {
	switch kind {
	case "plugin":
		return schemaKind{"plugin", "Plugify Plugin Descriptor", &PluginDescriptor{}}, nil
	case "module":
		return schemaKind{"module", "Plugify Language Module Descriptor", &LanguageModuleDescriptor{}}, nil
	default:
		return schemaKind{}, oops.Code("SCHEMA_UNKNOWN_KIND").Errorf("no schema for kind %q", kind)
	}
}

// GenerateSchema generates the JSON Schema for the given document kind
// ("plugin" or "module").
func GenerateSchema(kind string) ([]byte, error) {
	k, err := kindFor(kind)
	if err != nil {
		return nil, err
	}

	r := jsonschema.Reflector{
		DoNotReference: true,
		// Unknown optional fields are ignored, not rejected.
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(k.model)
	schema.ID = jsonschema.ID(SchemaID + "/" + k.name + ".schema.json")
	schema.Title = k.title

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").Wrapf(err, "marshal %s schema", k.name)
	}
	return data, nil
}

// ValidateSchema validates a JSON document against the schema for kind.
func ValidateSchema(kind string, data []byte) error {
	if len(data) == 0 {
		return oops.Code("DESCRIPTOR_INVALID").Errorf("document is empty")
	}

	sch, err := compiledSchema(kind)
	if err != nil {
		return err
	}

	inst, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.Code("DESCRIPTOR_INVALID").Wrapf(err, "invalid JSON")
	}

	if err := sch.Validate(inst); err != nil {
		return oops.Code("DESCRIPTOR_INVALID").Wrapf(err, "schema validation failed")
	}
	return nil
}

// compiledSchema returns the cached compiled schema for kind, compiling it on
// first use.
func compiledSchema(kind string) (*jschema.Schema, error) {
	if cached, ok := schemaCache.Load(kind); ok {
		return cached.(*jschema.Schema), nil
	}

	raw, err := GenerateSchema(kind)
	if err != nil {
		return nil, err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrapf(err, "parse generated %s schema", kind)
	}

	url := SchemaID + "/" + kind + ".schema.json"
	compiler := jschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrapf(err, "add %s schema resource", kind)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrapf(err, "compile %s schema", kind)
	}

	schemaCache.Store(kind, sch)
	return sch, nil
}
