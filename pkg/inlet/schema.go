package inlet

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the structural contract for incoming bus envelopes.
// Fields whose absence has a dedicated rejection reason (schema_version,
// event_id, pins) are type-checked here but not required, so the gate can
// report the specific reason instead of a generic structural failure.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "event_id": {"type": "string"},
    "event_type": {"type": "string", "minLength": 1},
    "schema_version": {"type": "string"},
    "ts_utc": {"type": "string"},
    "manifest_fingerprint": {"type": "string"},
    "parameter_hash": {"type": "string"},
    "seed": {"type": "string"},
    "scenario_id": {"type": "string"},
    "platform_run_id": {"type": "string"},
    "scenario_run_id": {"type": "string"},
    "producer": {"type": "string"},
    "parent_event_id": {"type": "string"},
    "payload": {"type": ["object", "array", "string", "number", "boolean", "null"]}
  }
}`

func compileEnvelopeSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", strings.NewReader(envelopeSchema)); err != nil {
		panic("inlet: envelope schema resource: " + err.Error())
	}
	return compiler.MustCompile("envelope.json")
}
