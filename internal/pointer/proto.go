package pointer

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region to-proto
// ToProto converts v into a protobuf Value. Undefined converts to null.
func ToProto(v Value) *structpb.Value {
	switch v.kind {
	case KindString:
		return structpb.NewStringValue(v.str)
	case KindNumber:
		return structpb.NewNumberValue(v.num)
	case KindBool:
		return structpb.NewBoolValue(v.b)
	case KindArray:
		items := make([]*structpb.Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = ToProto(item)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items})
	case KindMap:
		return structpb.NewStructValue(toStruct(v))
	default:
		return structpb.NewNullValue()
	}
}

func toStruct(v Value) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(v.obj))
	for k, item := range v.obj {
		fields[k] = ToProto(item)
	}
	return &structpb.Struct{Fields: fields}
}

// #endregion to-proto

// #region from-proto
// FromProto converts a protobuf Value. A nil message is undefined.
func FromProto(pv *structpb.Value) Value {
	if pv == nil {
		return Value{}
	}
	switch k := pv.GetKind().(type) {
	case *structpb.Value_StringValue:
		return String(k.StringValue)
	case *structpb.Value_NumberValue:
		return Number(k.NumberValue)
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue)
	case *structpb.Value_ListValue:
		items := k.ListValue.GetValues()
		arr := make([]Value, len(items))
		for i, item := range items {
			arr[i] = FromProto(item)
		}
		return Value{kind: KindArray, arr: arr}
	case *structpb.Value_StructValue:
		return fromStruct(k.StructValue)
	default:
		return Null()
	}
}

func fromStruct(s *structpb.Struct) Value {
	obj := make(map[string]Value, len(s.GetFields()))
	for k, item := range s.GetFields() {
		obj[k] = FromProto(item)
	}
	return Map(obj)
}

// #endregion from-proto

// #region document-codec
// MarshalDocument encodes a map document as protojson.
func MarshalDocument(doc Value) ([]byte, error) {
	if doc.kind != KindMap {
		return nil, fmt.Errorf("marshal document: root is %s, want map", doc.kind)
	}
	b, err := protojson.Marshal(toStruct(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return b, nil
}

// UnmarshalDocument decodes a protojson document produced by MarshalDocument.
func UnmarshalDocument(data []byte) (Value, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return Value{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return fromStruct(&s), nil
}

// #endregion document-codec
