package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/xerr"
)

// sshOptionsSchema, containerOptionsSchema, and clusterOptionsSchema encode
// the adapter-option contracts from spec §6 as JSON Schema. They validate
// only the JSON-representable subset of an adapter's option map (plain
// strings/numbers/bools/arrays) — constructor-only fields such as an
// *ssh.Signer or a decoded []container.Mount are never expressed as raw
// map[string]any and so fall outside what a JSON Schema can describe; those
// shapes are validated by their own package's decodeOptions instead.
const (
	sshOptionsSchema = `{
		"type": "object",
		"required": ["host", "username"],
		"properties": {
			"host": {"type": "string", "minLength": 1},
			"port": {"type": "integer"},
			"username": {"type": "string", "minLength": 1},
			"maxConnections": {"type": "integer", "minimum": 1}
		}
	}`

	containerOptionsSchema = `{
		"type": "object",
		"oneOf": [
			{"required": ["image"]},
			{"required": ["container"]}
		],
		"properties": {
			"image": {"type": "string"},
			"container": {"type": "string"},
			"memory": {"type": "string"},
			"cpus": {"type": "string"}
		}
	}`

	clusterOptionsSchema = `{
		"type": "object",
		"required": ["pod"],
		"properties": {
			"pod": {"type": "string", "minLength": 1}
		}
	}`
)

// compiledSchemas holds the three schemas above, compiled once at package
// init so per-call validation is a pure in-memory check.
var compiledSchemas = mustCompileAll(map[string]string{
	"ssh.json":       sshOptionsSchema,
	"container.json": containerOptionsSchema,
	"cluster.json":   clusterOptionsSchema,
})

func mustCompileAll(schemas map[string]string) map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	for name, src := range schemas {
		if err := compiler.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
			panic(fmt.Sprintf("engine: invalid built-in schema %s: %v", name, err))
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemas))
	for name := range schemas {
		schema, err := compiler.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("engine: compiling built-in schema %s: %v", name, err))
		}
		out[name] = schema
	}
	return out
}

// validateAdapterOptions checks cmd's AdapterOptions against the schema for
// its AdapterKind (local has no extra options, remote-container is checked
// as its constituent ssh+container halves). A schema violation is a
// Validation error (spec §7), surfaced before the adapter is ever dispatched
// to.
func validateAdapterOptions(kind command.AdapterKind, opts map[string]any) error {
	var schemaName string
	switch kind {
	case command.Local:
		return nil
	case command.SSH:
		schemaName = "ssh.json"
	case command.Container:
		schemaName = "container.json"
	case command.Cluster:
		schemaName = "cluster.json"
	default:
		return xerr.New(xerr.KindValidation, "unknown adapter kind "+string(kind))
	}

	instance, err := jsonSafeInstance(opts)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "adapter options are not representable as JSON", err)
	}

	if err := compiledSchemas[schemaName].Validate(instance); err != nil {
		return xerr.Wrap(xerr.KindValidation, fmt.Sprintf("invalid %s adapter options", kind), err)
	}
	return nil
}

// jsonSafeInstance round-trips opts through encoding/json so that values
// jsonschema can't natively compare (structs, slices of non-string types)
// are dropped rather than panicking the validator; jsonschema only ever
// needs to see the plain-scalar projection described by the schemas above.
func jsonSafeInstance(opts map[string]any) (any, error) {
	filtered := make(map[string]any, len(opts))
	for k, v := range opts {
		if b, err := json.Marshal(v); err == nil && json.Valid(b) {
			filtered[k] = v
		}
	}
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil, err
	}
	var instance any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, err
	}
	return instance, nil
}
