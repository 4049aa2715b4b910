package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURI = "urn:postbus:schema:envelope"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["data"],
  "properties": {
    "namespace": {"type": "string"},
    "data": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string"},
        "_key": {"type": "string"}
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jschema.Schema
	compileErr  error
)

func envelopeValidator() (*jschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			compileErr = fmt.Errorf("transport: parsing envelope schema: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(envelopeSchemaURI, doc); err != nil {
			compileErr = fmt.Errorf("transport: adding envelope schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(envelopeSchemaURI)
	})
	return compiled, compileErr
}

// DecodeEnvelope validates data against the envelope schema and decodes it.
// The namespace of the result is never empty.
func DecodeEnvelope(data []byte) (Envelope, error) {
	sch, err := envelopeValidator()
	if err != nil {
		return Envelope{}, err
	}

	inst, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Namespace == "" {
		env.Namespace = Wildcard
	}
	return env, nil
}
