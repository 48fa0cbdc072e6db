package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jsonValue is Value's on-disk/on-column JSON shape, used by the journal's
// snapshot persistence and the SQLite journal's value_json column — the
// binary frame codec above never touches this format.
type jsonValue struct {
	Kind   string                `json:"kind"`
	Bool   *bool                 `json:"bool,omitempty"`
	Int    *int64                `json:"int,omitempty"`
	Float  *float64              `json:"float,omitempty"`
	String *string               `json:"string,omitempty"`
	Bytes  *string               `json:"bytes,omitempty"` // base64
	List   []jsonValue           `json:"list,omitempty"`
	Map    map[string]jsonValue  `json:"map,omitempty"`
}

func kindName(k Kind) string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

func (v Value) toJSONValue() jsonValue {
	jv := jsonValue{Kind: kindName(v.Kind)}
	switch v.Kind {
	case KindBool:
		jv.Bool = &v.Bool
	case KindInt:
		jv.Int = &v.Int
	case KindFloat:
		jv.Float = &v.Float
	case KindString:
		jv.String = &v.String
	case KindBytes:
		enc := base64.StdEncoding.EncodeToString(v.Bytes)
		jv.Bytes = &enc
	case KindList:
		jv.List = make([]jsonValue, len(v.List))
		for i, el := range v.List {
			jv.List[i] = el.toJSONValue()
		}
	case KindMap:
		jv.Map = make(map[string]jsonValue, len(v.Map))
		for k, el := range v.Map {
			jv.Map[k] = el.toJSONValue()
		}
	}
	return jv
}

func valueFromJSONValue(jv jsonValue) (Value, error) {
	switch jv.Kind {
	case "null", "":
		return Null(), nil
	case "bool":
		if jv.Bool == nil {
			return Value{}, fmt.Errorf("json value: kind bool missing bool field")
		}
		return BoolV(*jv.Bool), nil
	case "int":
		if jv.Int == nil {
			return Value{}, fmt.Errorf("json value: kind int missing int field")
		}
		return IntV(*jv.Int), nil
	case "float":
		if jv.Float == nil {
			return Value{}, fmt.Errorf("json value: kind float missing float field")
		}
		return FloatV(*jv.Float), nil
	case "string":
		if jv.String == nil {
			return Value{}, fmt.Errorf("json value: kind string missing string field")
		}
		return StringV(*jv.String), nil
	case "bytes":
		if jv.Bytes == nil {
			return Value{}, fmt.Errorf("json value: kind bytes missing bytes field")
		}
		b, err := base64.StdEncoding.DecodeString(*jv.Bytes)
		if err != nil {
			return Value{}, fmt.Errorf("json value: decode bytes: %w", err)
		}
		return BytesV(b), nil
	case "list":
		out := make([]Value, len(jv.List))
		for i, el := range jv.List {
			v, err := valueFromJSONValue(el)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return ListV(out...), nil
	case "map":
		out := make(map[string]Value, len(jv.Map))
		for k, el := range jv.Map {
			v, err := valueFromJSONValue(el)
			if err != nil {
				return Value{}, err
			}
			out[k] = v
		}
		return MapV(out), nil
	default:
		return Value{}, fmt.Errorf("json value: unknown kind %q", jv.Kind)
	}
}

// MarshalJSON implements json.Marshaler with a tagged-kind representation
// suitable for both the SQLite journal's value_json column and the
// periodic snapshot file.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSONValue())
}

// UnmarshalJSON implements json.Unmarshaler for the same representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	parsed, err := valueFromJSONValue(jv)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
