// Package wire implements the CLASP binary frame format: the tagged value
// sum type, the message taxonomy, and the codec that packs and unpacks them.
package wire

// Kind tags the variant carried by a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

// Value is the tagged sum type carried by PUBLISH, SET, SNAPSHOT and similar
// messages. Exactly one of the typed fields is meaningful for a given Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	String string
	Bytes  []byte
	List   []Value
	Map    map[string]Value
}

func Null() Value                  { return Value{Kind: KindNull} }
func BoolV(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func IntV(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func FloatV(f float64) Value       { return Value{Kind: KindFloat, Float: f} }
func StringV(s string) Value       { return Value{Kind: KindString, String: s} }
func BytesV(b []byte) Value        { return Value{Kind: KindBytes, Bytes: b} }
func ListV(v ...Value) Value       { return Value{Kind: KindList, List: v} }
func MapV(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}

// IsNumeric reports whether the value carries a comparable numeric payload,
// used by the Max/Min conflict strategies.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// AsFloat64 returns the numeric payload as a float64 regardless of whether it
// was stored as Int or Float. Only valid when IsNumeric is true.
func (v Value) AsFloat64() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Equal reports deep structural equality, used by codec round-trip tests.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.String == o.String
	case KindBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, vv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
