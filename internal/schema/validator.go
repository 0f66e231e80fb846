// Package schema validates inbound feed payloads against embedded JSON Schemas.
package schema

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed call_message.schema.json
var callMessageSchema string

// Validator checks decoded JSON values against one compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewCallMessageValidator compiles the schema for per-call feed messages.
func NewCallMessageValidator() (*Validator, error) {
	return compile("call_message.json", callMessageSchema)
}

func compile(name, data string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks v, a value produced by json.Unmarshal into interface{}.
func (v *Validator) Validate(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			var messages []string
			collectErrors(validationErr, &messages)
			if len(messages) > 0 {
				return fmt.Errorf("schema validation failed: %s", strings.Join(messages, "; "))
			}
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// collectErrors flattens the leaf causes of a validation error.
func collectErrors(err *jsonschema.ValidationError, messages *[]string) {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*messages = append(*messages, fmt.Sprintf("%s: %s", loc, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
