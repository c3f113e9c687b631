package object

import (
	"fmt"
	"strconv"
)

// ValueKind enumerates the primitive kinds a Value can hold.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindUnsigned
	KindSigned
	KindReal
	KindEnumerated
	KindCharacterString
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindReal:
		return "real"
	case KindEnumerated:
		return "enumerated"
	case KindCharacterString:
		return "character-string"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a closed tagged variant over the primitive kinds that schedules
// produce and targets consume. The zero value is Null.
//
// Values are small and immutable; pass them by value.
type Value struct {
	kind ValueKind
	b    bool
	u    uint64
	i    int64
	f    float64
	s    string
}

func Null() Value { return Value{} }

func Boolean(v bool) Value { return Value{kind: KindBoolean, b: v} }

func Unsigned(v uint64) Value { return Value{kind: KindUnsigned, u: v} }

func Signed(v int64) Value { return Value{kind: KindSigned, i: v} }

func Real(v float64) Value { return Value{kind: KindReal, f: v} }

func Enumerated(v uint32) Value { return Value{kind: KindEnumerated, u: uint64(v)} }
func CharacterString(v string) Value {
	return Value{kind: KindCharacterString, s: v}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Accessors return the kind's payload and false when the kind does not match.

func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

func (v Value) Uint() (uint64, bool) { return v.u, v.kind == KindUnsigned }

func (v Value) Int() (int64, bool) { return v.i, v.kind == KindSigned }

func (v Value) Float() (float64, bool) { return v.f, v.kind == KindReal }

func (v Value) Enum() (uint32, bool) { return uint32(v.u), v.kind == KindEnumerated }

func (v Value) Text() (string, bool) { return v.s, v.kind == KindCharacterString }

// Equal reports structural equality: same kind, same payload.
func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindUnsigned:
		return strconv.FormatUint(v.u, 10)
	case KindSigned:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindEnumerated:
		return "enum:" + strconv.FormatUint(v.u, 10)
	case KindCharacterString:
		return strconv.Quote(v.s)
	default:
		return fmt.Sprintf("value(kind=%d)", v.kind)
	}
}
