package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONContext map backed JSON document with path accessors
type JSONContext struct {
	data map[string]any
}

// NewJSONContext numbers are decoded as json.Number, so int64 values such as nanosecond timestamps survive exactly
func NewJSONContext(b []byte) *JSONContext {
	ctx := &JSONContext{
		data: make(map[string]any),
	}
	if len(b) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(b))
		decoder.UseNumber()
		if err := decoder.Decode(&ctx.data); err != nil || ctx.data == nil {
			ctx.data = make(map[string]any)
		}
	}
	return ctx
}

func NewJSONContextFromMap(m map[string]any) *JSONContext {
	if m == nil {
		m = make(map[string]any)
	}
	return &JSONContext{data: m}
}

// Get nested lookup, Get("app", "name") reads app.name
func (c *JSONContext) Get(keys ...string) (any, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	current := any(c.data)
	for _, key := range keys {
		if currentMap, ok := current.(map[string]any); ok {
			if val, exists := currentMap[key]; exists {
				current = val
			} else {
				return nil, false
			}
		} else {
			return nil, false
		}
	}
	return current, true
}

func (c *JSONContext) GetString(keys ...string) (string, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

func (c *JSONContext) GetInt64(keys ...string) (int64, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return 0, false
	}

	switch v := val.(type) {
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func (c *JSONContext) GetBool(keys ...string) (bool, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// Set nested write, intermediate maps are created and non-map values on the path are replaced
func (c *JSONContext) Set(keys []string, value any) error {
	if len(keys) == 0 {
		return fmt.Errorf("keys cannot be empty")
	}

	current := c.data
	for i := 0; i < len(keys)-1; i++ {
		key := keys[i]
		if _, ok := current[key]; !ok {
			current[key] = make(map[string]any)
		}

		nextMap, ok := current[key].(map[string]any)
		if !ok {
			nextMap = make(map[string]any)
			current[key] = nextMap
		}
		current = nextMap
	}

	current[keys[len(keys)-1]] = value
	return nil
}

func (c *JSONContext) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}

	if len(keys) == 1 {
		delete(c.data, keys[0])
		return
	}

	current := c.data
	for i := 0; i < len(keys)-1; i++ {
		if nextMap, ok := current[keys[i]].(map[string]any); ok {
			current = nextMap
		} else {
			return
		}
	}
	delete(current, keys[len(keys)-1])
}

func (c *JSONContext) ToBytes() ([]byte, error) {
	return json.Marshal(c.data)
}
func (c *JSONContext) ToBytesWithoutError() []byte {
	bytes, err := json.Marshal(c.data)
	if err != nil {
		return nil
	}
	return bytes
}

// ToMap returns the backing map, not a copy
func (c *JSONContext) ToMap() map[string]any {
	return c.data
}

// Clone deep copy through JSON
func (c *JSONContext) Clone() *JSONContext {
	b, _ := c.ToBytes()
	return NewJSONContext(b)
}

func (c *JSONContext) Unmarshal(v any) error {
	b, err := c.ToBytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
