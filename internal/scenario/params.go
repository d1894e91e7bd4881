package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// paramSchema builds the JSON schema for a descriptor's declared params.
func paramSchema(desc *Descriptor) ([]byte, error) {
	props := make(map[string]any, len(desc.Params))
	for name, p := range desc.Params {
		prop := map[string]any{}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		switch p.Type {
		case ParamInteger, ParamNumber, ParamString, ParamBoolean:
			prop["type"] = p.Type
		case ParamDuration:
			// "250ms" or a number of milliseconds
			prop["type"] = []string{"string", "number"}
		case "":
		default:
			return nil, fmt.Errorf("scenario %s: param %s has unknown type %q", desc.Name, name, p.Type)
		}
		props[name] = prop
	}

	return json.Marshal(map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	})
}

// ValidateParams checks params against the descriptor's declared params.
//
// Undeclared keys and values of the wrong type are reported as an
// *InvalidParamError naming the first offending param.
func ValidateParams(desc *Descriptor, params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := desc.Params[k]; !ok {
			return &InvalidParamError{Scenario: desc.Name, Param: k, Reason: "param is not declared"}
		}
	}
	if len(params) == 0 {
		return nil
	}

	raw, err := paramSchema(desc)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("invalid param schema: %w", err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return fmt.Errorf("invalid param schema: %w", err)
	}

	doc, err := normalize(params)
	if err != nil {
		return &InvalidParamError{Scenario: desc.Name, Reason: err.Error()}
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := firstLeaf(verr)
			return &InvalidParamError{
				Scenario: desc.Name,
				Param:    strings.TrimPrefix(leaf.InstanceLocation, "/"),
				Reason:   leaf.Message,
			}
		}
		return &InvalidParamError{Scenario: desc.Name, Reason: err.Error()}
	}
	return nil
}

// normalize round-trips params through JSON so YAML-decoded values validate
// the same as JSON-decoded ones.
func normalize(params map[string]any) (any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// MergeParams returns the declared defaults overlaid with params.
func MergeParams(desc *Descriptor, params map[string]any) map[string]any {
	out := make(map[string]any, len(desc.Params)+len(params))
	for name, p := range desc.Params {
		if p.Default != nil {
			out[name] = p.Default
		}
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
