// Package classifier labels a post with the fixed category set using a
// natural-language model. Responses are accepted only if they match the
// category schema exactly.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"subpulse/models"

	"github.com/getkin/kin-openapi/openapi3"
	log "github.com/sirupsen/logrus"
)

var ErrClassificationInvalid = errors.New("classification invalid")

const systemPrompt = "You are a helpful assistant that analyzes Reddit posts and provides responses in JSON format."

// Completer sends one prompt pair to a model and returns the raw response
// text. Implementations must request a JSON object response.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Classifier struct {
	completer Completer
	schema    *openapi3.Schema
}

func NewClassifier(completer Completer) *Classifier {
	return &Classifier{
		completer: completer,
		schema:    CategorySchema(),
	}
}

// CategorySchema is an object with one required, non-nullable boolean per
// category and no other properties
func CategorySchema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	schema.Required = models.CategoryKeys()
	schema.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}

	for _, c := range models.Categories {
		property := openapi3.NewBoolSchema()
		property.Description = c.Description
		schema.WithProperty(c.Key, property)
	}

	return schema
}

func buildPrompt(title, body string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following Reddit post and categorize it based on these criteria:\n")
	for _, c := range models.Categories {
		fmt.Fprintf(&sb, "%s: %s\n", c.Key, c.Description)
	}
	fmt.Fprintf(&sb, "\nPost Title: %s\nPost Content: %s\n\n", title, body)
	sb.WriteString("Provide a structured output with boolean values for each category in JSON format.")
	return sb.String()
}

// Classify makes exactly one completion call. Every failure wraps
// ErrClassificationInvalid.
func (c *Classifier) Classify(ctx context.Context, title, body string) (models.Classification, error) {
	text, err := c.completer.Complete(ctx, systemPrompt, buildPrompt(title, body))
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: completion failed: %w", ErrClassificationInvalid, err)
	}

	return c.Parse(text)
}

// Parse validates a raw model response against the category schema
func (c *Classifier) Parse(text string) (models.Classification, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return models.Classification{}, fmt.Errorf("%w: response is not JSON: %w", ErrClassificationInvalid, err)
	}

	if err := c.schema.VisitJSON(value); err != nil {
		log.WithFields(log.Fields{
			"response": text,
		}).Debug("Response does not match category schema")
		return models.Classification{}, fmt.Errorf("%w: %w", ErrClassificationInvalid, err)
	}

	object, _ := value.(map[string]any)
	values := make(map[string]bool, len(object))
	for key, v := range object {
		b, ok := v.(bool)
		if !ok {
			return models.Classification{}, fmt.Errorf("%w: %s is not a boolean", ErrClassificationInvalid, key)
		}
		values[key] = b
	}

	classification, ok := models.ClassificationFromMap(values)
	if !ok {
		return models.Classification{}, fmt.Errorf("%w: missing category", ErrClassificationInvalid)
	}

	return classification, nil
}
