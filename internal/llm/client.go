// Package llm defines the language-model collaborator interface and its
// Google GenAI implementation. Failures are classified transient vs fatal so
// callers can decide between retry-then-fallback (characterization agents)
// and fatal-to-unit (Deep Research synthesis).
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTransient marks failures worth retrying (timeouts, rate limits,
// temporary unavailability).
var ErrTransient = errors.New("transient llm error")

// ErrFatal marks failures that will not succeed on retry (malformed output,
// invalid request).
var ErrFatal = errors.New("fatal llm error")

// Schema describes the expected shape of a structured response. Property
// values are JSON type names ("string", "number", "array").
type Schema struct {
	Properties map[string]string
	Required   []string
}

// Client is the minimal interface the pipeline uses to call a language model.
type Client interface {
	// Generate sends a prompt and returns a structured value conforming to
	// schema. The error, if any, wraps ErrTransient or ErrFatal.
	Generate(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
