package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// CoerceError wraps any coercion failure (input or output) so callers can
// classify it as envelope.KindValidation without string matching.
type CoerceError struct {
	msg string
}

func (e *CoerceError) Error() string { return e.msg }

func coerceErrorf(format string, args ...any) error {
	return &CoerceError{msg: fmt.Sprintf(format, args...)}
}

// Coerce converts payload into a value assignable to target's type
// (target is a zero-value instance of the declared model, typically
// spec.Spec.InputModel or .OutputModel). Three cases,:
//
//   - payload already has target's type: passed through unchanged.
//   - payload is a plain map (e.g. decoded JSON): round-tripped through
//     encoding/json into a new target-typed value, which validates shape.
//   - payload is some other typed value: round-tripped through JSON
//     marshal/unmarshal into the target type (cross-model revalidation).
//
// Any failure surfaces as *CoerceError, which the executor classifies as
// envelope.KindValidation.
func Coerce(payload any, target any) (any, error) {
	targetType := reflect.TypeOf(target)
	if targetType == nil {
		return nil, coerceErrorf("coercion target has no type")
	}
	if payload == nil {
		return nil, coerceErrorf("payload is nil, expected %s", targetType)
	}

	payloadType := reflect.TypeOf(payload)
	if payloadType == targetType {
		return payload, nil
	}

	// Round-trip through JSON regardless of whether payload started as a
	// map or another typed model; this validates the shape against the
	// target type's fields in both cases.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, coerceErrorf("marshal payload for coercion: %v", err)
	}

	out := reflect.New(targetType).Interface()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nil, coerceErrorf("coerce to %s: %v", targetType, err)
	}
	return reflect.ValueOf(out).Elem().Interface(), nil
}
