// Package schema validates type-specific configuration maps against JSON
// Schema documents.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every schema violation of one document.
type ValidationError struct {
	Subject string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Object builds an object schema with the given required keys and properties.
func Object(required []string, properties map[string]any) map[string]any {
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		doc["required"] = required
	}

	return doc
}

// NonEmptyString is the schema of a required text parameter.
func NonEmptyString() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

// Number is a numeric parameter with an optional lower bound.
func Number(minimum *float64) map[string]any {
	doc := map[string]any{"type": "number"}
	if minimum != nil {
		doc["minimum"] = *minimum
	}

	return doc
}

// Validate checks data against doc. subject names the validated thing in errors.
func Validate(subject string, doc map[string]any, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(doc), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", subject, ErrInvalidConfig, err)
	}

	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}

	return &ValidationError{Subject: subject, Issues: issues}
}
