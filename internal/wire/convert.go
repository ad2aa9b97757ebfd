// Package wire converts between the local document model and the
// generated Firestore protobuf messages.
package wire

import (
	"fmt"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ============================================================================
// model.Document <-> firestorepb.Document
// ============================================================================

// DocumentToProto converts a model document. Timestamps are only carried
// when set.
func DocumentToProto(doc *model.Document) *firestorepb.Document {
	if doc == nil {
		return nil
	}
	out := &firestorepb.Document{
		Name:   doc.Name,
		Fields: FieldsToProto(doc.Fields),
	}
	if !doc.CreateTime.IsZero() {
		out.CreateTime = timestamppb.New(doc.CreateTime)
	}
	if !doc.UpdateTime.IsZero() {
		out.UpdateTime = timestamppb.New(doc.UpdateTime)
	}
	return out
}

// DocumentFromProto converts a protobuf document into a caller-owned copy.
func DocumentFromProto(doc *firestorepb.Document) *model.Document {
	if doc == nil {
		return nil
	}
	out := &model.Document{
		Name:   doc.GetName(),
		Fields: FieldsFromProto(doc.GetFields()),
	}
	if doc.CreateTime != nil {
		out.CreateTime = doc.CreateTime.AsTime()
	}
	if doc.UpdateTime != nil {
		out.UpdateTime = doc.UpdateTime.AsTime()
	}
	return out
}

func FieldsToProto(fields map[string]model.Value) map[string]*firestorepb.Value {
	out := make(map[string]*firestorepb.Value, len(fields))
	for k, v := range fields {
		out[k] = ValueToProto(v)
	}
	return out
}

func FieldsFromProto(fields map[string]*firestorepb.Value) map[string]model.Value {
	out := make(map[string]model.Value, len(fields))
	for k, v := range fields {
		out[k] = ValueFromProto(v)
	}
	return out
}

// ============================================================================
// model.Value <-> firestorepb.Value
// ============================================================================

// ValueToProto converts one value. Accessor errors cannot occur because
// each branch reads the active kind.
func ValueToProto(v model.Value) *firestorepb.Value {
	switch v.Kind() {
	case model.KindBoolean:
		b, _ := v.AsBoolean()
		return &firestorepb.Value{ValueType: &firestorepb.Value_BooleanValue{BooleanValue: b}}
	case model.KindInteger:
		i, _ := v.AsInteger()
		return &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: i}}
	case model.KindDouble:
		f, _ := v.AsDouble()
		return &firestorepb.Value{ValueType: &firestorepb.Value_DoubleValue{DoubleValue: f}}
	case model.KindTimestamp:
		t, _ := v.AsTimestamp()
		return &firestorepb.Value{ValueType: &firestorepb.Value_TimestampValue{TimestampValue: timestamppb.New(t)}}
	case model.KindString:
		s, _ := v.AsString()
		return &firestorepb.Value{ValueType: &firestorepb.Value_StringValue{StringValue: s}}
	case model.KindBytes:
		b, _ := v.AsBytes()
		return &firestorepb.Value{ValueType: &firestorepb.Value_BytesValue{BytesValue: b}}
	case model.KindReference:
		s, _ := v.AsReference()
		return &firestorepb.Value{ValueType: &firestorepb.Value_ReferenceValue{ReferenceValue: s}}
	case model.KindGeoPoint:
		p, _ := v.AsGeoPoint()
		return &firestorepb.Value{ValueType: &firestorepb.Value_GeoPointValue{
			GeoPointValue: &latlng.LatLng{Latitude: p.Latitude, Longitude: p.Longitude},
		}}
	case model.KindArray:
		elems, _ := v.AsArray()
		arr := &firestorepb.ArrayValue{Values: make([]*firestorepb.Value, len(elems))}
		for i, e := range elems {
			arr.Values[i] = ValueToProto(e)
		}
		return &firestorepb.Value{ValueType: &firestorepb.Value_ArrayValue{ArrayValue: arr}}
	case model.KindMap:
		m, _ := v.AsMap()
		return &firestorepb.Value{ValueType: &firestorepb.Value_MapValue{
			MapValue: &firestorepb.MapValue{Fields: FieldsToProto(m)},
		}}
	default:
		return &firestorepb.Value{ValueType: &firestorepb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}}
	}
}

// ValueFromProto converts one value. Variants the model does not know
// (and a nil value) become null.
func ValueFromProto(v *firestorepb.Value) model.Value {
	switch t := v.GetValueType().(type) {
	case *firestorepb.Value_BooleanValue:
		return model.Boolean(t.BooleanValue)
	case *firestorepb.Value_IntegerValue:
		return model.Integer(t.IntegerValue)
	case *firestorepb.Value_DoubleValue:
		return model.Double(t.DoubleValue)
	case *firestorepb.Value_TimestampValue:
		return model.Timestamp(t.TimestampValue.AsTime())
	case *firestorepb.Value_StringValue:
		return model.String(t.StringValue)
	case *firestorepb.Value_BytesValue:
		return model.Bytes(t.BytesValue)
	case *firestorepb.Value_ReferenceValue:
		return model.Reference(t.ReferenceValue)
	case *firestorepb.Value_GeoPointValue:
		return model.GeoPointValue(model.GeoPoint{
			Latitude:  t.GeoPointValue.GetLatitude(),
			Longitude: t.GeoPointValue.GetLongitude(),
		})
	case *firestorepb.Value_ArrayValue:
		vals := t.ArrayValue.GetValues()
		elems := make([]model.Value, len(vals))
		for i, e := range vals {
			elems[i] = ValueFromProto(e)
		}
		return model.Array(elems...)
	case *firestorepb.Value_MapValue:
		return model.Map(FieldsFromProto(t.MapValue.GetFields()))
	default:
		return model.Null()
	}
}

// Describe renders a one-line summary of a proto document for logs.
func Describe(doc *firestorepb.Document) string {
	if doc == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%d fields)", doc.GetName(), len(doc.GetFields()))
}
