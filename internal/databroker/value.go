package databroker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// fromDatapoint converts a Datapoint into a plain Go value. Arrays become
// []any, a datapoint without a value is nil.
func fromDatapoint(dp protoreflect.Message) any {
	fd := dp.WhichOneof(mdDatapoint.Oneofs().ByName("value"))
	if fd == nil {
		return nil
	}
	v := dp.Get(fd)
	switch fd.Kind() {
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.Sint32Kind, protoreflect.Sint64Kind:
		return v.Int()
	case protoreflect.Uint32Kind, protoreflect.Uint64Kind:
		return v.Uint()
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.MessageKind:
		arr := v.Message()
		list := arr.Get(arr.Descriptor().Fields().ByNumber(1)).List()
		out := make([]any, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			out = append(out, list.Get(i).Interface())
		}
		return out
	}
	return nil
}

// toDatapoint builds a Datapoint carrying value encoded as dt.
func toDatapoint(dt DataType, value any) (*dynamicpb.Message, error) {
	dp := newMessage(mdDatapoint)
	fields := mdDatapoint.Fields()

	set := func(name string, v protoreflect.Value) {
		dp.Set(fields.ByName(protoreflect.Name(name)), v)
	}

	switch dt {
	case DataTypeString:
		set("string", protoreflect.ValueOfString(toString(value)))
	case DataTypeBoolean:
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		set("bool", protoreflect.ValueOfBool(b))
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		n, err := toInt(value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		set("int32", protoreflect.ValueOfInt32(int32(n)))
	case DataTypeInt64:
		n, err := toInt(value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		set("int64", protoreflect.ValueOfInt64(n))
	case DataTypeUint8, DataTypeUint16, DataTypeUint32:
		n, err := toInt(value, 0, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		set("uint32", protoreflect.ValueOfUint32(uint32(n)))
	case DataTypeUint64:
		n, err := toInt(value, 0, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		set("uint64", protoreflect.ValueOfUint64(uint64(n)))
	case DataTypeFloat:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		set("float", protoreflect.ValueOfFloat32(float32(f)))
	case DataTypeDouble:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		set("double", protoreflect.ValueOfFloat64(f))
	case DataTypeStringArray, DataTypeBooleanArray,
		DataTypeInt8Array, DataTypeInt16Array, DataTypeInt32Array, DataTypeInt64Array,
		DataTypeUint8Array, DataTypeUint16Array, DataTypeUint32Array, DataTypeUint64Array,
		DataTypeFloatArray, DataTypeDoubleArray:
		return toArrayDatapoint(dp, dt, value)
	default:
		return nil, fmt.Errorf("unsupported data type %d", dt)
	}
	return dp, nil
}

func toArrayDatapoint(dp *dynamicpb.Message, dt DataType, value any) (*dynamicpb.Message, error) {
	items, err := toList(value)
	if err != nil {
		return nil, err
	}

	var field string
	switch dt {
	case DataTypeStringArray:
		field = "string_array"
	case DataTypeBooleanArray:
		field = "bool_array"
	case DataTypeInt8Array, DataTypeInt16Array, DataTypeInt32Array:
		field = "int32_array"
	case DataTypeInt64Array:
		field = "int64_array"
	case DataTypeUint8Array, DataTypeUint16Array, DataTypeUint32Array:
		field = "uint32_array"
	case DataTypeUint64Array:
		field = "uint64_array"
	case DataTypeFloatArray:
		field = "float_array"
	default:
		field = "double_array"
	}

	fd := mdDatapoint.Fields().ByName(protoreflect.Name(field))
	arr := newMessage(fd.Message())
	list := arr.Mutable(fd.Message().Fields().ByNumber(1)).List()

	for _, item := range items {
		var v protoreflect.Value
		switch field {
		case "string_array":
			v = protoreflect.ValueOfString(toString(item))
		case "bool_array":
			b, err := toBool(item)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfBool(b)
		case "int32_array":
			n, err := toInt(item, math.MinInt32, math.MaxInt32)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfInt32(int32(n))
		case "int64_array":
			n, err := toInt(item, math.MinInt64, math.MaxInt64)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfInt64(n)
		case "uint32_array":
			n, err := toInt(item, 0, math.MaxUint32)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfUint32(uint32(n))
		case "uint64_array":
			n, err := toInt(item, 0, math.MaxInt64)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfUint64(uint64(n))
		case "float_array":
			f, err := toFloat(item)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfFloat32(float32(f))
		default:
			f, err := toFloat(item)
			if err != nil {
				return nil, err
			}
			v = protoreflect.ValueOfFloat64(f)
		}
		list.Append(v)
	}
	dp.Set(fd, protoreflect.ValueOfMessage(arr))
	return dp, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", t)
		}
		return b, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toInt(v any, min, max float64) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	if f < min || f > max {
		return 0, fmt.Errorf("%v out of range", v)
	}
	return int64(f), nil
}

// toList accepts a slice or a JSON array encoded as a string.
func toList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case string:
		var out []any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, fmt.Errorf("not an array: %q", t)
		}
		return out, nil
	}
	return nil, fmt.Errorf("not an array: %v", v)
}
