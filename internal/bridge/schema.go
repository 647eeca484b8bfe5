// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema ids for the wire envelopes.
const (
	RequestSchemaID  = "https://passy.dev/schemas/plugin-request.schema.json"
	ResponseSchemaID = "https://passy.dev/schemas/plugin-response.schema.json"
)

// CodeInvalidEnvelope marks an envelope that fails schema validation.
const CodeInvalidEnvelope = "INVALID_ENVELOPE"

var (
	requestSchemaOnce sync.Once
	requestSchema     *jschema.Schema
	requestSchemaErr  error
)

// GenerateRequestSchema returns the JSON Schema of the request envelope.
func GenerateRequestSchema() ([]byte, error) {
	return generate(&Invocation{}, RequestSchemaID,
		"Passy Plugin Request",
		"Envelope published on the plugin request topic")
}

// GenerateResponseSchema returns the JSON Schema of the response envelope.
func GenerateResponseSchema() ([]byte, error) {
	return generate(&Response{}, ResponseSchemaID,
		"Passy Plugin Response",
		"Envelope published on the plugin response topic")
}

func generate(v any, id, title, description string) ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(id)
	schema.Title = title
	schema.Description = description

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.With("schema", id).Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateRequest checks a raw request envelope against its schema.
func ValidateRequest(payload []byte) error {
	sch, err := compiledRequestSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return oops.Code(CodeInvalidEnvelope).Wrapf(err, "invalid json")
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code(CodeInvalidEnvelope).Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledRequestSchema() (*jschema.Schema, error) {
	requestSchemaOnce.Do(func() {
		requestSchema, requestSchemaErr = compile(GenerateRequestSchema, "request.json")
	})
	return requestSchema, requestSchemaErr
}

func compile(gen func() ([]byte, error), name string) (*jschema.Schema, error) {
	raw, err := gen()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Wrapf(err, "parse schema json")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, oops.Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, oops.Wrapf(err, "compile schema")
	}
	return sch, nil
}

// FormatSchemaError trims the wrapping prefix from a validation error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
