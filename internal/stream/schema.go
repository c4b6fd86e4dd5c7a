// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FragmentSchema is the JSON schema every streamed object must satisfy.
// Nothing is required because partial objects may omit any property.
const FragmentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"content": {"type": ["string", "null"]},
		"followUpQuestions": {"type": ["array", "null"], "items": {"type": ["string", "null"]}},
		"sources": {"type": ["array", "null"], "items": {"type": ["string", "null"]}},
		"actions": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": ["string", "null"]},
					"directoryLink": {"type": ["string", "null"]},
					"type": {"type": ["string", "null"]}
				}
			}
		},
		"sql": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": ["string", "null"]},
					"type": {"type": ["string", "null"]},
					"link": {"type": ["string", "null"]},
					"fields": {"type": ["object", "null"], "additionalProperties": {"type": ["string", "null"]}}
				}
			}
		}
	}
}`

// ValidationError lists the schema violations of one fragment.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fragment: %s", strings.Join(e.Errors, "; "))
}

// Validator checks raw fragments against FragmentSchema. The schema is
// compiled once; a Validator is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles FragmentSchema.
func NewValidator() (*Validator, error) {
	return NewValidatorWithSchema(FragmentSchema)
}

// NewValidatorWithSchema compiles a custom fragment schema.
func NewValidatorWithSchema(src string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile fragment schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks raw against the schema.
func (v *Validator) Validate(raw json.RawMessage) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Errors: msgs}
	}
	return nil
}

// Decode validates raw and decodes it into a Fragment.
func (v *Validator) Decode(raw json.RawMessage) (Fragment, error) {
	if err := v.Validate(raw); err != nil {
		return Fragment{}, err
	}
	var f Fragment
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fragment{}, fmt.Errorf("failed to decode fragment: %w", err)
	}
	return f, nil
}
