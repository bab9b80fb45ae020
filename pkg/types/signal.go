package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MockSignal is one entry of the mock signal store.
type MockSignal struct {
	Signal string `json:"signal"`
	Value  string `json:"value"`
}

// DefaultMockValue is assigned to signals added on behalf of an application.
const DefaultMockValue = "0"

// UnmarshalJSON accepts non-string scalar values and keeps their JSON text.
func (m *MockSignal) UnmarshalJSON(b []byte) error {
	var raw struct {
		Signal string          `json:"signal"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Signal = raw.Signal
	m.Value = ""

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '"':
		if err := json.Unmarshal(v, &m.Value); err != nil {
			return fmt.Errorf("signal %s: %w", raw.Signal, err)
		}
	default:
		m.Value = string(v)
	}
	return nil
}
