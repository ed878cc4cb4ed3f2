package bazaar

import (
	"encoding/json"
)

// Key is the extensions key of the discovery declaration
const Key = "bazaar"

// QueryParamMethods are HTTP methods that take query parameters
type QueryParamMethods string

const (
	MethodGET    QueryParamMethods = "GET"
	MethodHEAD   QueryParamMethods = "HEAD"
	MethodDELETE QueryParamMethods = "DELETE"
)

// BodyMethods are HTTP methods that take a request body
type BodyMethods string

const (
	MethodPOST  BodyMethods = "POST"
	MethodPUT   BodyMethods = "PUT"
	MethodPATCH BodyMethods = "PATCH"
)

// BodyType is the encoding of a request body
type BodyType string

const (
	BodyTypeJSON     BodyType = "json"
	BodyTypeFormData BodyType = "form-data"
	BodyTypeText     BodyType = "text"
)

// QueryInput describes how to call a query-parameter route
type QueryInput struct {
	Type        string                 `json:"type"` // "http"
	Method      QueryParamMethods      `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// BodyInput describes how to call a body route
type BodyInput struct {
	Type        string                 `json:"type"` // "http"
	Method      BodyMethods            `json:"method"`
	BodyType    BodyType               `json:"bodyType"`
	Body        interface{}            `json:"body"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// OutputInfo describes what a paid call returns
type OutputInfo struct {
	Type    string      `json:"type,omitempty"`
	Format  string      `json:"format,omitempty"`
	Example interface{} `json:"example,omitempty"`
}

// DiscoveryInfo holds either a QueryInput or a BodyInput
type DiscoveryInfo struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON picks the input type by the presence of bodyType
func (d *DiscoveryInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var probe struct {
		BodyType *string `json:"bodyType"`
	}
	_ = json.Unmarshal(raw.Input, &probe)

	if probe.BodyType != nil {
		var bodyInput BodyInput
		if err := json.Unmarshal(raw.Input, &bodyInput); err != nil {
			return err
		}
		d.Input = bodyInput
	} else {
		var queryInput QueryInput
		if err := json.Unmarshal(raw.Input, &queryInput); err != nil {
			return err
		}
		d.Input = queryInput
	}

	d.Output = raw.Output
	return nil
}

// JSONSchema is a JSON Schema document
type JSONSchema map[string]interface{}

// DiscoveryExtension is the declaration placed under extensions["bazaar"]
type DiscoveryExtension struct {
	Info   DiscoveryInfo `json:"info"`
	Schema JSONSchema    `json:"schema"`
}

// DeclareQueryDiscoveryConfig declares a query-parameter route
type DeclareQueryDiscoveryConfig struct {
	Method      QueryParamMethods
	Input       map[string]interface{}
	InputSchema JSONSchema
	Output      *OutputConfig
}

// DeclareBodyDiscoveryConfig declares a body route
type DeclareBodyDiscoveryConfig struct {
	Method      BodyMethods
	Input       interface{}
	InputSchema JSONSchema
	BodyType    BodyType
	Output      *OutputConfig
}

// OutputConfig is an example output and its schema
type OutputConfig struct {
	Example interface{}
	Schema  JSONSchema
}

// IsQueryMethod reports whether method takes query parameters
func IsQueryMethod(method string) bool {
	switch QueryParamMethods(method) {
	case MethodGET, MethodHEAD, MethodDELETE:
		return true
	}
	return false
}

// IsBodyMethod reports whether method takes a body
func IsBodyMethod(method string) bool {
	switch BodyMethods(method) {
	case MethodPOST, MethodPUT, MethodPATCH:
		return true
	}
	return false
}
