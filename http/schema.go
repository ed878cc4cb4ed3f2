package http

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/blip-x402/x402-demo"
)

// paymentRequiredSchema is the shape a 402 body must have before the client
// will sign anything for it. Unknown fields are allowed.
const paymentRequiredSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "error": {"type": "string"},
    "resource": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string"},
        "description": {"type": "string"},
        "mimeType": {"type": "string"}
      }
    },
    "accepts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["scheme", "network", "amount", "payTo"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "asset": {"type": "string"},
          "amount": {"type": "string", "pattern": "^[0-9]+$"},
          "payTo": {"type": "string", "minLength": 1},
          "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
          "extra": {"type": "object"}
        }
      }
    },
    "extensions": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadPaymentRequiredSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(paymentRequiredSchema))
	})
	return compiledSchema, schemaErr
}

// ValidatePaymentRequired checks a decoded 402 body against the PaymentRequired
// schema. Failures wrap x402.ErrMalformedRequirements.
func ValidatePaymentRequired(body []byte) error {
	schema, err := loadPaymentRequiredSchema()
	if err != nil {
		return fmt.Errorf("failed to compile payment required schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", x402.ErrMalformedRequirements, strings.Join(msgs, "; "))
	}
	return nil
}
