package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
)

// EncodeError is returned by EncodeTo for values that are not one of the
// four bencode kinds, such as a nil list item.
type EncodeError struct {
	Type reflect.Type
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("bencode: unsupported type %v", e.Type)
}

// Encode returns the canonical encoding of v. Dictionary keys are written in
// ascending byte order no matter how the dictionary was built.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes do not fail.
	_ = EncodeTo(&buf, v)
	return buf.Bytes()
}

// EncodeTo writes the canonical encoding of v to w.
func EncodeTo(w io.Writer, v Value) error {
	bw := &writer{w: w}
	bw.value(v)
	return bw.err
}

type writer struct {
	w   io.Writer
	err error
}

func (bw *writer) write(p []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(p)
}

func (bw *writer) writeString(s string) {
	bw.write([]byte(s))
}

func (bw *writer) bytes(b []byte) {
	bw.writeString(strconv.Itoa(len(b)))
	bw.writeString(":")
	bw.write(b)
}

func (bw *writer) value(v Value) {
	switch v := v.(type) {
	case Int:
		bw.writeString("i" + strconv.FormatInt(int64(v), 10) + "e")
	case String:
		bw.bytes(v)
	case List:
		bw.writeString("l")
		for _, item := range v {
			bw.value(item)
		}
		bw.writeString("e")
	case Dict:
		bw.writeString("d")
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			bw.bytes([]byte(k))
			bw.value(v[k])
		}
		bw.writeString("e")
	default:
		if bw.err == nil {
			bw.err = &EncodeError{Type: reflect.TypeOf(v)}
		}
	}
}
