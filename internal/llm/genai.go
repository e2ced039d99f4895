package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"codeatlas/internal/logging"
)

// GenAIClient calls Google's Gemini API with JSON-constrained output.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIClient creates a Gemini-backed client.
func NewGenAIClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client, model: model, timeout: timeout}, nil
}

// Generate sends the prompt with a response schema and returns the raw JSON.
func (c *GenAIClient) Generate(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "Generate")
	defer timer.StopWithThreshold(30 * time.Second)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   toGenAISchema(schema),
		},
	)
	if err != nil {
		return nil, classify(err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("empty model response: %w", ErrFatal)
	}

	// The model occasionally wraps JSON in a fenced block despite the MIME
	// type constraint.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("malformed model output: %w", ErrFatal)
	}

	logging.APIDebug("Generate succeeded: model=%s response_len=%d", c.model, len(text))
	return json.RawMessage(text), nil
}

// classify maps transport errors into the transient/fatal taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "rate"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "500"):
		return fmt.Errorf("%v: %w", err, ErrTransient)
	default:
		return fmt.Errorf("%v: %w", err, ErrFatal)
	}
}

func toGenAISchema(s Schema) *genai.Schema {
	props := make(map[string]*genai.Schema, len(s.Properties))
	for name, kind := range s.Properties {
		switch kind {
		case "number":
			props[name] = &genai.Schema{Type: genai.TypeNumber}
		case "array":
			props[name] = &genai.Schema{
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			}
		default:
			props[name] = &genai.Schema{Type: genai.TypeString}
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   s.Required,
	}
}
