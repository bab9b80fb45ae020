package databroker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDatapointConvertsLooseInput(t *testing.T) {
	tests := []struct {
		name string
		dt   DataType
		in   any
		want any
	}{
		{"float from json number", DataTypeFloat, 42.0, 42.0},
		{"double from string", DataTypeDouble, "3.5", 3.5},
		{"int32 from string", DataTypeInt32, "7", int64(7)},
		{"uint8 from float", DataTypeUint8, 200.0, uint64(200)},
		{"bool from string", DataTypeBoolean, "true", true},
		{"string from number", DataTypeString, 12.0, "12"},
		{"int array from json text", DataTypeInt32Array, "[1, 2, 3]", []any{int32(1), int32(2), int32(3)}},
		{"string array", DataTypeStringArray, []any{"a", "b"}, []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp, err := toDatapoint(tt.dt, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fromDatapoint(dp))
		})
	}
}

func TestToDatapointRejectsBadInput(t *testing.T) {
	_, err := toDatapoint(DataTypeInt32, "fast")
	assert.Error(t, err)
	_, err = toDatapoint(DataTypeUint8, -1.0)
	assert.Error(t, err)
	_, err = toDatapoint(DataTypeInt64, 1.5)
	assert.Error(t, err)
	_, err = toDatapoint(DataTypeBoolean, "maybe")
	assert.Error(t, err)
	_, err = toDatapoint(DataTypeUnspecified, 1)
	assert.Error(t, err)
}

func TestFromDatapointEmpty(t *testing.T) {
	assert.Nil(t, fromDatapoint(newMessage(mdDatapoint)))
}
