// Package bazaar declares how a paid route is called so that facilitators
// and agents can catalogue it.
package bazaar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402http "github.com/blip-x402/x402-demo/http"
	"github.com/blip-x402/x402-demo/types"
)

// DeclareBodyDiscovery builds the route extensions for a POST/PUT/PATCH route.
// The example input must validate against InputSchema when one is given.
func DeclareBodyDiscovery(config DeclareBodyDiscoveryConfig) (map[string]interface{}, error) {
	if config.Method == "" {
		config.Method = MethodPOST
	}
	if config.BodyType == "" {
		config.BodyType = BodyTypeJSON
	}
	if err := validateExample(config.Input, config.InputSchema); err != nil {
		return nil, err
	}

	ext := DiscoveryExtension{
		Info: DiscoveryInfo{
			Input: BodyInput{
				Type:     "http",
				Method:   config.Method,
				BodyType: config.BodyType,
				Body:     config.Input,
			},
			Output: outputInfo(config.Output),
		},
		Schema: inputSchema(config.InputSchema),
	}
	return map[string]interface{}{Key: ext}, nil
}

// DeclareQueryDiscovery builds the route extensions for a GET/HEAD/DELETE route
func DeclareQueryDiscovery(config DeclareQueryDiscoveryConfig) (map[string]interface{}, error) {
	if config.Method == "" {
		config.Method = MethodGET
	}
	var example interface{}
	if config.Input != nil {
		example = config.Input
	}
	if err := validateExample(example, config.InputSchema); err != nil {
		return nil, err
	}

	ext := DiscoveryExtension{
		Info: DiscoveryInfo{
			Input: QueryInput{
				Type:        "http",
				Method:      config.Method,
				QueryParams: config.Input,
			},
			Output: outputInfo(config.Output),
		},
		Schema: inputSchema(config.InputSchema),
	}
	return map[string]interface{}{Key: ext}, nil
}

func outputInfo(config *OutputConfig) *OutputInfo {
	if config == nil {
		return nil
	}
	return &OutputInfo{Type: "json", Format: "application/json", Example: config.Example}
}

func inputSchema(schema JSONSchema) JSONSchema {
	if schema == nil {
		return JSONSchema{"type": "object"}
	}
	return schema
}

func validateExample(example interface{}, schema JSONSchema) error {
	if schema == nil || example == nil {
		return nil
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(map[string]interface{}(schema)),
		gojsonschema.NewGoLoader(example),
	)
	if err != nil {
		return fmt.Errorf("failed to validate discovery example: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("discovery example does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Extension fills the request method into bazaar declarations
type Extension struct{}

var _ types.ResourceServerExtension = Extension{}

// Key implements types.ResourceServerExtension
func (Extension) Key() string {
	return Key
}

// EnrichDeclaration sets the input method to the method of the request being
// answered, when the declaration and the request agree on the method kind.
func (Extension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	ext, ok := declaration.(DiscoveryExtension)
	if !ok {
		return declaration
	}
	reqCtx, ok := transportContext.(x402http.HTTPRequestContext)
	if !ok {
		return declaration
	}
	method := strings.ToUpper(reqCtx.Method)

	switch input := ext.Info.Input.(type) {
	case BodyInput:
		if IsBodyMethod(method) {
			input.Method = BodyMethods(method)
			ext.Info.Input = input
		}
	case QueryInput:
		if IsQueryMethod(method) {
			input.Method = QueryParamMethods(method)
			ext.Info.Input = input
		}
	}
	return ext
}

// ExtractDiscovery reads the bazaar declaration out of PaymentRequired extensions.
// It returns nil, nil when there is none.
func ExtractDiscovery(extensions map[string]interface{}) (*DiscoveryExtension, error) {
	raw, ok := extensions[Key]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var ext DiscoveryExtension
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to decode bazaar extension: %w", err)
	}
	return &ext, nil
}
