package databroker

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The kuksa.val.v1 messages are described at runtime so the client needs no
// generated code. Only the fields the supervisor reads or writes are declared;
// anything else on the wire is kept as unknown fields.

const (
	protoPackage = "kuksa.val.v1"

	methodGet           = "/kuksa.val.v1.VAL/Get"
	methodSet           = "/kuksa.val.v1.VAL/Set"
	methodGetServerInfo = "/kuksa.val.v1.VAL/GetServerInfo"
)

// EntryType classifies a signal.
type EntryType int32

const (
	EntryTypeUnspecified EntryType = 0
	EntryTypeAttribute   EntryType = 1
	EntryTypeSensor      EntryType = 2
	EntryTypeActuator    EntryType = 3
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeAttribute:
		return "attribute"
	case EntryTypeSensor:
		return "sensor"
	case EntryTypeActuator:
		return "actuator"
	}
	return "unspecified"
}

// DataType is the value type of a signal.
type DataType int32

const (
	DataTypeUnspecified DataType = 0
	DataTypeString      DataType = 1
	DataTypeBoolean     DataType = 2
	DataTypeInt8        DataType = 3
	DataTypeInt16       DataType = 4
	DataTypeInt32       DataType = 5
	DataTypeInt64       DataType = 6
	DataTypeUint8       DataType = 7
	DataTypeUint16      DataType = 8
	DataTypeUint32      DataType = 9
	DataTypeUint64      DataType = 10
	DataTypeFloat       DataType = 11
	DataTypeDouble      DataType = 12
	DataTypeTimestamp   DataType = 13

	DataTypeStringArray  DataType = 20
	DataTypeBooleanArray DataType = 21
	DataTypeInt8Array    DataType = 22
	DataTypeInt16Array   DataType = 23
	DataTypeInt32Array   DataType = 24
	DataTypeInt64Array   DataType = 25
	DataTypeUint8Array   DataType = 26
	DataTypeUint16Array  DataType = 27
	DataTypeUint32Array  DataType = 28
	DataTypeUint64Array  DataType = 29
	DataTypeFloatArray   DataType = 30
	DataTypeDoubleArray  DataType = 31
)

const (
	viewCurrentValue = 1
	viewMetadata     = 3

	fieldValue          = 2
	fieldActuatorTarget = 3
	fieldMetadata       = 10
)

// descriptors of the messages used on the wire
var (
	mdDatapoint             protoreflect.MessageDescriptor
	mdDataEntry             protoreflect.MessageDescriptor
	mdEntryRequest          protoreflect.MessageDescriptor
	mdGetRequest            protoreflect.MessageDescriptor
	mdGetResponse           protoreflect.MessageDescriptor
	mdEntryUpdate           protoreflect.MessageDescriptor
	mdSetRequest            protoreflect.MessageDescriptor
	mdSetResponse           protoreflect.MessageDescriptor
	mdGetServerInfoRequest  protoreflect.MessageDescriptor
	mdGetServerInfoResponse protoreflect.MessageDescriptor
	mdError                 protoreflect.MessageDescriptor
	mdDataEntryError        protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(valFile(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("databroker: build kuksa.val.v1 descriptors: %v", err))
	}
	msgs := fd.Messages()
	mdDatapoint = msgs.ByName("Datapoint")
	mdDataEntry = msgs.ByName("DataEntry")
	mdEntryRequest = msgs.ByName("EntryRequest")
	mdGetRequest = msgs.ByName("GetRequest")
	mdGetResponse = msgs.ByName("GetResponse")
	mdEntryUpdate = msgs.ByName("EntryUpdate")
	mdSetRequest = msgs.ByName("SetRequest")
	mdSetResponse = msgs.ByName("SetResponse")
	mdGetServerInfoRequest = msgs.ByName("GetServerInfoRequest")
	mdGetServerInfoResponse = msgs.ByName("GetServerInfoResponse")
	mdError = msgs.ByName("Error")
	mdDataEntryError = msgs.ByName("DataEntryError")
}

func newMessage(md protoreflect.MessageDescriptor) *dynamicpb.Message {
	return dynamicpb.NewMessage(md)
}

type fieldOpt func(*descriptorpb.FieldDescriptorProto)

func repeated(f *descriptorpb.FieldDescriptorProto) {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
}

func inOneof(idx int32) fieldOpt {
	return func(f *descriptorpb.FieldDescriptorProto) { f.OneofIndex = proto.Int32(idx) }
}

func scalar(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, opts ...fieldOpt) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func typed(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string, opts ...fieldOpt) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, num, typ, opts...)
	f.TypeName = proto.String("." + protoPackage + "." + typeName)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func enum(name string, values map[string]int32) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	// proto3 requires the zero value first
	for n, v := range values {
		if v == 0 {
			e.Value = append([]*descriptorpb.EnumValueDescriptorProto{{Name: proto.String(n), Number: proto.Int32(0)}}, e.Value...)
			continue
		}
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{Name: proto.String(n), Number: proto.Int32(v)})
	}
	return e
}

func arrayMessage(name string, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.DescriptorProto {
	return message(name, scalar("values", 1, typ, repeated))
}

func valFile() *descriptorpb.FileDescriptorProto {
	const (
		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		tSint32  = descriptorpb.FieldDescriptorProto_TYPE_SINT32
		tSint64  = descriptorpb.FieldDescriptorProto_TYPE_SINT64
		tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
		tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	)

	value := inOneof(0)
	datapoint := message("Datapoint",
		scalar("string", 11, tString, value),
		scalar("bool", 12, tBool, value),
		scalar("int32", 13, tSint32, value),
		scalar("int64", 14, tSint64, value),
		scalar("uint32", 15, tUint32, value),
		scalar("uint64", 16, tUint64, value),
		scalar("float", 17, tFloat, value),
		scalar("double", 18, tDouble, value),
		typed("string_array", 21, tMessage, "StringArray", value),
		typed("bool_array", 22, tMessage, "BoolArray", value),
		typed("int32_array", 23, tMessage, "Int32Array", value),
		typed("int64_array", 24, tMessage, "Int64Array", value),
		typed("uint32_array", 25, tMessage, "Uint32Array", value),
		typed("uint64_array", 26, tMessage, "Uint64Array", value),
		typed("float_array", 27, tMessage, "FloatArray", value),
		typed("double_array", 28, tMessage, "DoubleArray", value),
	)
	datapoint.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("value")}}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("kuksa/val/v1/val.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum("DataType", map[string]int32{
				"DATA_TYPE_UNSPECIFIED": 0, "DATA_TYPE_STRING": 1, "DATA_TYPE_BOOLEAN": 2,
				"DATA_TYPE_INT8": 3, "DATA_TYPE_INT16": 4, "DATA_TYPE_INT32": 5, "DATA_TYPE_INT64": 6,
				"DATA_TYPE_UINT8": 7, "DATA_TYPE_UINT16": 8, "DATA_TYPE_UINT32": 9, "DATA_TYPE_UINT64": 10,
				"DATA_TYPE_FLOAT": 11, "DATA_TYPE_DOUBLE": 12, "DATA_TYPE_TIMESTAMP": 13,
				"DATA_TYPE_STRING_ARRAY": 20, "DATA_TYPE_BOOLEAN_ARRAY": 21,
				"DATA_TYPE_INT8_ARRAY": 22, "DATA_TYPE_INT16_ARRAY": 23, "DATA_TYPE_INT32_ARRAY": 24, "DATA_TYPE_INT64_ARRAY": 25,
				"DATA_TYPE_UINT8_ARRAY": 26, "DATA_TYPE_UINT16_ARRAY": 27, "DATA_TYPE_UINT32_ARRAY": 28, "DATA_TYPE_UINT64_ARRAY": 29,
				"DATA_TYPE_FLOAT_ARRAY": 30, "DATA_TYPE_DOUBLE_ARRAY": 31, "DATA_TYPE_TIMESTAMP_ARRAY": 32,
			}),
			enum("EntryType", map[string]int32{
				"ENTRY_TYPE_UNSPECIFIED": 0, "ENTRY_TYPE_ATTRIBUTE": 1, "ENTRY_TYPE_SENSOR": 2, "ENTRY_TYPE_ACTUATOR": 3,
			}),
			enum("View", map[string]int32{
				"VIEW_UNSPECIFIED": 0, "VIEW_CURRENT_VALUE": 1, "VIEW_TARGET_VALUE": 2, "VIEW_METADATA": 3,
				"VIEW_FIELDS": 10, "VIEW_ALL": 20,
			}),
			enum("Field", map[string]int32{
				"FIELD_UNSPECIFIED": 0, "FIELD_PATH": 1, "FIELD_VALUE": 2, "FIELD_ACTUATOR_TARGET": 3,
				"FIELD_METADATA": 10,
			}),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			datapoint,
			arrayMessage("StringArray", tString),
			arrayMessage("BoolArray", tBool),
			arrayMessage("Int32Array", tSint32),
			arrayMessage("Int64Array", tSint64),
			arrayMessage("Uint32Array", tUint32),
			arrayMessage("Uint64Array", tUint64),
			arrayMessage("FloatArray", tFloat),
			arrayMessage("DoubleArray", tDouble),
			message("Metadata",
				typed("data_type", 11, tEnum, "DataType"),
				typed("entry_type", 12, tEnum, "EntryType"),
				scalar("description", 13, tString),
				scalar("comment", 14, tString),
				scalar("deprecation", 15, tString),
				scalar("unit", 16, tString),
			),
			message("DataEntry",
				scalar("path", 1, tString),
				typed("value", 2, tMessage, "Datapoint"),
				typed("actuator_target", 3, tMessage, "Datapoint"),
				typed("metadata", 10, tMessage, "Metadata"),
			),
			message("Error",
				scalar("code", 1, tUint32),
				scalar("reason", 2, tString),
				scalar("message", 3, tString),
			),
			message("DataEntryError",
				scalar("path", 1, tString),
				typed("error", 2, tMessage, "Error"),
			),
			message("EntryRequest",
				scalar("path", 1, tString),
				typed("view", 2, tEnum, "View"),
				typed("fields", 3, tEnum, "Field", repeated),
			),
			message("GetRequest",
				typed("entries", 1, tMessage, "EntryRequest", repeated),
			),
			message("GetResponse",
				typed("entries", 1, tMessage, "DataEntry", repeated),
				typed("errors", 2, tMessage, "DataEntryError", repeated),
				typed("error", 3, tMessage, "Error"),
			),
			message("EntryUpdate",
				typed("entry", 1, tMessage, "DataEntry"),
				typed("fields", 2, tEnum, "Field", repeated),
			),
			message("SetRequest",
				typed("updates", 1, tMessage, "EntryUpdate", repeated),
			),
			message("SetResponse",
				typed("error", 1, tMessage, "Error"),
				typed("errors", 2, tMessage, "DataEntryError", repeated),
			),
			message("GetServerInfoRequest"),
			message("GetServerInfoResponse",
				scalar("name", 1, tString),
				scalar("version", 2, tString),
			),
		},
	}
}
