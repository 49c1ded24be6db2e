// Package filedata converts uploaded files into JSON-compatible payload
// objects. Its whole contract with the flow core is: the returned object is
// merged into the initial payload before execution.
package filedata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/apiweave/apiweave/pkg/model/mintegration"
)

// ToPayload parses data according to the file extension. A top-level JSON
// object is returned as-is; arrays and CSV rows are wrapped under a key
// derived from the file name.
func ToPayload(name string, data []byte) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return fromJSON(name, data)
	case ".yaml", ".yml":
		return fromYAML(name, data)
	case ".csv":
		return fromCSV(name, data)
	default:
		// Sniff JSON for extensionless uploads.
		if json.Valid(bytes.TrimSpace(data)) {
			return fromJSON(name, data)
		}
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}

func payloadKey(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	key := mintegration.SanitizeID(base)
	if key == "" {
		return "data"
	}
	return strings.ReplaceAll(key, "-", "_")
}

func fromJSON(name string, data []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{payloadKey(name): v}, nil
}

func fromYAML(name string, data []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	v = normalizeYAML(v)
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{payloadKey(name): v}, nil
}

// normalizeYAML rewrites map[any]any nodes into map[string]any so the result
// round-trips through JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return val
	}
}

func fromCSV(name string, data []byte) (map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return map[string]any{payloadKey(name): []any{}}, nil
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return map[string]any{payloadKey(name): rows}, nil
}

// Merge folds a parsed file object into the initial payload; file values win
// on key collisions.
func Merge(payload, file map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+len(file))
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range file {
		out[k] = v
	}
	return out
}
