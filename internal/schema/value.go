package schema

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
)

// Value is a tagged union for incident indicator evidence. Indicators carry
// heterogeneous values (counts, flags, windows, endpoint lists) and a closed
// set of variants keeps them queryable without reflection.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []string
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a float64.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// IntValue wraps an integer as a number.
func IntValue(i int) Value { return Value{kind: KindNumber, num: float64(i)} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue wraps a list of strings.
func ListValue(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns the list variant.
func (v Value) AsList() ([]string, bool) { return v.list, v.kind == KindList }

// String renders the value for logs and descriptions.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	}
	return ""
}

// MarshalJSON emits the raw underlying value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		return json.Marshal(v.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts any of the supported raw shapes.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = NumberValue(f)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = ListValue(list...)
		return nil
	}
	return fmt.Errorf("schema: unsupported indicator value: %s", string(data))
}
