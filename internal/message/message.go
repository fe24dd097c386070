// Package message defines the JSON-lines message jobq reads from its input,
// and compiles the configurable CEL expressions that classify and order it.
//
// A message is one JSON object per line:
//
//	{"id":"b-1","context":"build-42","ts":7,"type":"work","priority":2}
//	{"context":"build-42","ts":9,"type":"cancel"}
//
// The known keys fill the struct fields. Every key, known or not, is kept in
// Fields and is what CEL expressions see as msg (or a and b when comparing).
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Message is a decoded input line. It satisfies queue.Timestamped.
type Message struct {
	ID       string
	Context  string
	TS       int64
	Type     string
	Priority float64

	// Fields holds every decoded key with numbers normalised to int64 when
	// integral and float64 otherwise. It is nil for messages built in code.
	Fields map[string]any
}

// Timestamp returns the logical submission order of the message.
func (m Message) Timestamp() int64 { return m.TS }

// Value returns the value stored under key. For messages built in code the
// known keys are reported present only when non-zero.
func (m Message) Value(key string) (any, bool) {
	if m.Fields != nil {
		v, ok := m.Fields[key]
		return v, ok
	}
	switch key {
	case "id":
		return m.ID, m.ID != ""
	case "context":
		return m.Context, m.Context != ""
	case "ts":
		return m.TS, true
	case "type":
		return m.Type, m.Type != ""
	case "priority":
		return m.Priority, m.Priority != 0
	}
	return nil, false
}

// Activation returns the map CEL expressions evaluate against.
func (m Message) Activation() map[string]any {
	if m.Fields != nil {
		return m.Fields
	}
	fields := map[string]any{"ts": m.TS}
	for _, key := range []string{"id", "context", "type", "priority"} {
		if v, ok := m.Value(key); ok {
			fields[key] = v
		}
	}
	return fields
}

// UnmarshalJSON decodes a JSON object, keeping unknown keys in Fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("message is not a JSON object")
	}

	out := Message{Fields: make(map[string]any, len(raw)+1)}
	for key, v := range raw {
		out.Fields[key] = normalise(v)
	}

	var err error
	if out.ID, err = stringField(out.Fields, "id"); err != nil {
		return err
	}
	if out.Context, err = stringField(out.Fields, "context"); err != nil {
		return err
	}
	if out.Type, err = stringField(out.Fields, "type"); err != nil {
		return err
	}
	switch ts := out.Fields["ts"].(type) {
	case nil:
	case int64:
		out.TS = ts
	default:
		return fmt.Errorf("field ts: want integer, got %v", ts)
	}
	switch p := out.Fields["priority"].(type) {
	case nil:
	case int64:
		out.Priority = float64(p)
	case float64:
		out.Priority = p
	default:
		return fmt.Errorf("field priority: want number, got %v", p)
	}
	out.Fields["ts"] = out.TS

	*m = out
	return nil
}

// MarshalJSON encodes the known fields together with any extra Fields.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+5)
	for key, v := range m.Fields {
		out[key] = v
	}
	for _, key := range []string{"id", "context", "type", "priority"} {
		delete(out, key)
	}
	if m.ID != "" {
		out["id"] = m.ID
	}
	if m.Context != "" {
		out["context"] = m.Context
	}
	if m.Type != "" {
		out["type"] = m.Type
	}
	if m.Priority != 0 {
		out["priority"] = m.Priority
	}
	out["ts"] = m.TS
	return json.Marshal(out)
}

func stringField(fields map[string]any, key string) (string, error) {
	switch v := fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("field %s: want string, got %v", key, v)
	}
}

// normalise converts json.Number values, recursively, into int64 or float64.
func normalise(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return v.String()
	case map[string]any:
		for key, inner := range v {
			v[key] = normalise(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = normalise(inner)
		}
		return v
	}
	return v
}
