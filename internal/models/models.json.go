// FilePath: server/devicehub/internal/models/models.json.go
package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSON is a wrapper around map[string]interface{} for free-form document fields
type JSON map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, &j)
}

// Clone returns a shallow copy of j. Nested maps are shared.
func (j JSON) Clone() JSON {
	if j == nil {
		return nil
	}
	out := make(JSON, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// Merge shallow-merges patch into a copy of j and returns it
func (j JSON) Merge(patch JSON) JSON {
	out := j.Clone()
	if out == nil {
		out = JSON{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, if any
func (j JSON) String(key string) (string, bool) {
	v, ok := j[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the numeric value stored under key, if any
func (j JSON) Float(key string) (float64, bool) {
	switch v := j[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns the boolean value stored under key, if any
func (j JSON) Bool(key string) (bool, bool) {
	b, ok := j[key].(bool)
	return b, ok
}

// Object returns the nested object stored under key, if any
func (j JSON) Object(key string) (JSON, bool) {
	switch v := j[key].(type) {
	case JSON:
		return v, true
	case map[string]interface{}:
		return JSON(v), true
	}
	return nil, false
}
