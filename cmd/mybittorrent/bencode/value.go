package bencode

import "fmt"

// Value is a decoded bencode value. It is one of Int, String, List or Dict.
type Value interface {
	isValue()
}

type (
	Int    int64
	String []byte
	List   []Value
	Dict   map[string]Value
)

func (Int) isValue()    {}
func (String) isValue() {}
func (List) isValue()   {}
func (Dict) isValue()   {}

// Str is a convenience for building byte-string values from text.
func Str(s string) String {
	return String(s)
}

func (d Dict) Bytes(key string) ([]byte, bool) {
	v, ok := d[key].(String)
	return []byte(v), ok
}

func (d Dict) Dict(key string) (Dict, bool) {
	v, ok := d[key].(Dict)
	return v, ok
}

// ToNative converts v into plain Go values: int64, string, []any and
// map[string]any. Byte strings become Go strings holding the raw bytes.
func ToNative(v Value) any {
	switch v := v.(type) {
	case Int:
		return int64(v)
	case String:
		return string(v)
	case List:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ToNative(item)
		}
		return out
	case Dict:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ToNative(item)
		}
		return out
	default:
		return nil
	}
}

// TypeName reports the bencode kind of v for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case String:
		return "byte string"
	case List:
		return "list"
	case Dict:
		return "dictionary"
	case nil:
		return "nothing"
	default:
		return fmt.Sprintf("%T", v)
	}
}
