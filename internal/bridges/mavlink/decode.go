package mavlink

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

var zeroValue reflect.Value

// messageName returns the canonical UPPER_SNAKE name for a decoded message.
//
// Dialect message types are named MessageGpsRawInt, MessageMissionItemInt,
// etc.; the wire name is the Go name with the Message prefix stripped and
// camel-case boundaries converted to underscores. Messages outside the
// dialect arrive as *message.MessageRaw and are named UNKNOWN_<id>.
func messageName(msg message.Message) string {
	if raw, ok := msg.(*message.MessageRaw); ok {
		return fmt.Sprintf("UNKNOWN_%d", raw.ID)
	}

	name := reflect.TypeOf(msg).Elem().Name()
	name = strings.TrimPrefix(name, "Message")
	return camelToUpperSnake(name)
}

// camelToUpperSnake converts GpsRawInt to GPS_RAW_INT. Digits bind to the
// preceding word (Gps2Raw becomes GPS2_RAW).
func camelToUpperSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}

	return b.String()
}

// fieldSnake converts a Go field name like CustomMode to custom_mode.
func fieldSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}

	return b.String()
}

// messageFields flattens a decoded message into a JSON-friendly field map.
//
// Field names are snake_cased; enum types collapse to their numeric values
// so consumers see stable integers rather than dialect-specific strings.
// MessageRaw has no decodable fields and yields a hex payload fallback.
func messageFields(msg message.Message) map[string]any {
	if raw, ok := msg.(*message.MessageRaw); ok {
		return map[string]any{
			"msg_id":      raw.ID,
			"payload_hex": fmt.Sprintf("%x", raw.Payload),
		}
	}

	rv := reflect.ValueOf(msg).Elem()
	rt := rv.Type()
	fields := make(map[string]any, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[fieldSnake(f.Name)] = fieldValue(rv.Field(i))
	}

	return fields
}

// fieldValue converts a struct field to a JSON-encodable value.
func fieldValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return v.Uint()
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return v.Int()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Array, reflect.Slice:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = fieldValue(v.Index(i))
		}
		return out
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// messageTarget extracts target addressing from messages that carry it
// (TargetSystem/TargetComponent fields). Returns false for broadcast-style
// messages with no addressing.
func messageTarget(msg message.Message) (sysid byte, compid byte, ok bool) {
	if _, isRaw := msg.(*message.MessageRaw); isRaw {
		return 0, 0, false
	}

	rv := reflect.ValueOf(msg).Elem()
	ts := rv.FieldByName("TargetSystem")
	tc := rv.FieldByName("TargetComponent")

	if ts != zeroValue && tc != zeroValue {
		return byte(ts.Uint()), byte(tc.Uint()), true
	}

	return 0, 0, false
}
