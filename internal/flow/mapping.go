package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PathMapper is the default mapping engine. Each mapping entry writes one
// output field: the key is a dotted destination path, the value is either a
// "$." prefixed dotted source path resolved against the input or a literal
// copied as-is.
//
//	{"customer.name": "$.user.full_name", "source": "hub"}
type PathMapper struct{}

// NewPathMapper creates the default mapping engine
func NewPathMapper() *PathMapper {
	return &PathMapper{}
}

// Apply builds a new value from the input according to the mapping.
func (PathMapper) Apply(_ context.Context, mapping map[string]any, input any) (any, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transform input: %w", err)
	}

	out := []byte(`{}`)
	for dest, src := range mapping {
		value := src
		if path, ok := sourcePath(src); ok {
			res := gjson.GetBytes(inputJSON, path)
			if !res.Exists() {
				return nil, fmt.Errorf("transform source path %q not found in input", path)
			}
			value = res.Value()
		}
		out, err = sjson.SetBytes(out, dest, value)
		if err != nil {
			return nil, fmt.Errorf("failed to set transform field %q: %w", dest, err)
		}
	}

	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to decode transform output: %w", err)
	}
	return result, nil
}

func sourcePath(src any) (string, bool) {
	s, ok := src.(string)
	if !ok {
		return "", false
	}
	path, ok := strings.CutPrefix(s, "$.")
	if !ok || path == "" {
		return "", false
	}
	return path, true
}
