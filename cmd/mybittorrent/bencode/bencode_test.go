package bencode_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	jackpal "github.com/jackpal/bencode-go"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
)

func decodeAndAssert(t *testing.T, input string, expected bencode.Value) {
	t.Helper()
	decoded, err := bencode.Decode([]byte(input))
	if err != nil {
		t.Fatalf("Failed to decode input %q: %v", input, err)
	}
	if !reflect.DeepEqual(decoded, expected) {
		t.Errorf("Expected %#v but got %#v", expected, decoded)
	}
}

func decodeAndFail(t *testing.T, input string, offset int) {
	t.Helper()
	_, err := bencode.Decode([]byte(input))
	var decodeErr *bencode.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for %q, got %v", input, err)
	}
	if decodeErr.Offset != offset {
		t.Errorf("%q: expected offset %d, got %d (%v)", input, offset, decodeErr.Offset, err)
	}
}

func TestDecodeInteger(t *testing.T) {
	decodeAndAssert(t, "i123e", bencode.Int(123))
	decodeAndAssert(t, "i-123e", bencode.Int(-123))
	decodeAndAssert(t, "i0e", bencode.Int(0))
	decodeAndAssert(t, "i9223372036854775807e", bencode.Int(9223372036854775807))
}

func TestDecodeNonCanonicalInteger(t *testing.T) {
	decodeAndFail(t, "i-0e", 1)
	decodeAndFail(t, "i03e", 1)
	decodeAndFail(t, "i+3e", 1)
	decodeAndFail(t, "ie", 1)
	decodeAndFail(t, "i12", 0)
	decodeAndFail(t, "i99999999999999999999e", 1)
}

func TestDecodeString(t *testing.T) {
	decodeAndAssert(t, "5:hello", bencode.Str("hello"))
	decodeAndAssert(t, "0:", bencode.Str(""))
	decodeAndAssert(t, "3:\xff\x00\xfe", bencode.String{0xff, 0x00, 0xfe})
}

func TestDecodeStringErrors(t *testing.T) {
	decodeAndFail(t, "5:hi", 2)
	decodeAndFail(t, "05:hello", 0)
	decodeAndFail(t, "5x:hello", 1)
	decodeAndFail(t, "12", 0)
}

func TestDecodeList(t *testing.T) {
	decodeAndAssert(t, "li1ei2ei3ee", bencode.List{bencode.Int(1), bencode.Int(2), bencode.Int(3)})
	decodeAndAssert(t, "le", bencode.List{})
	decodeAndAssert(t, "lli1eel9:test testelee", bencode.List{
		bencode.List{bencode.Int(1)},
		bencode.List{bencode.Str("test test")},
		bencode.List{},
	})
	decodeAndFail(t, "lli1eel9:test testeleee", 22)
	decodeAndFail(t, "li1ei2e", 0)
	decodeAndFail(t, "li13i2e", 2)
}

func TestDecodeDictionary(t *testing.T) {
	decodeAndAssert(t, "d3:key5:valuee", bencode.Dict{"key": bencode.Str("value")})
	decodeAndAssert(t, "d4:dictd9:space keyi4eee", bencode.Dict{
		"dict": bencode.Dict{"space key": bencode.Int(4)},
	})
	decodeAndAssert(t, "de", bencode.Dict{})

	decodeAndFail(t, "di1ei2ee", 1)
	decodeAndFail(t, "d3:key5:value", 0)
	decodeAndFail(t, "d1:ai1e1:ai2ee", 7)
}

func TestDecodeTrailingData(t *testing.T) {
	decodeAndFail(t, "i1ei2e", 3)
	decodeAndFail(t, "", 0)
}

func TestDecodeAtCursor(t *testing.T) {
	data := []byte("4:spami42el1:ae")

	v, next, err := bencode.DecodeAt(data, 0)
	if err != nil || !reflect.DeepEqual(v, bencode.Str("spam")) || next != 6 {
		t.Fatalf("first value: %v %d %v", v, next, err)
	}
	v, next, err = bencode.DecodeAt(data, next)
	if err != nil || v != bencode.Int(42) || next != 10 {
		t.Fatalf("second value: %v %d %v", v, next, err)
	}
	v, next, err = bencode.DecodeAt(data, next)
	if err != nil || !reflect.DeepEqual(v, bencode.List{bencode.Str("a")}) || next != len(data) {
		t.Fatalf("third value: %v %d %v", v, next, err)
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	deep := bytes.Repeat([]byte("l"), 10000)
	_, err := bencode.Decode(deep)
	var decodeErr *bencode.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestEncode(t *testing.T) {
	cases := []struct {
		value    bencode.Value
		expected string
	}{
		{bencode.Int(123), "i123e"},
		{bencode.Int(-123), "i-123e"},
		{bencode.Str("hello"), "5:hello"},
		{bencode.Str(""), "0:"},
		{bencode.List{}, "le"},
		{bencode.List{bencode.Int(1), bencode.Str("a")}, "li1e1:ae"},
		{bencode.Dict{"b": bencode.Int(2), "a": bencode.Int(1)}, "d1:ai1e1:bi2ee"},
		{bencode.Dict{"dict": bencode.Dict{"space key": bencode.Int(4)}}, "d4:dictd9:space keyi4eee"},
	}
	for _, tc := range cases {
		if got := string(bencode.Encode(tc.value)); got != tc.expected {
			t.Errorf("Expected %q but got %q", tc.expected, got)
		}
	}
}

func TestEncodeKeyOrderIndependentOfInsertion(t *testing.T) {
	keys := []string{"zeta", "alpha", "\xffbinary", "Alpha", "al", "m"}

	forward := bencode.Dict{}
	for i, k := range keys {
		forward[k] = bencode.Int(i)
	}
	backward := bencode.Dict{}
	for i := len(keys) - 1; i >= 0; i-- {
		backward[keys[i]] = bencode.Int(i)
	}

	a, b := bencode.Encode(forward), bencode.Encode(backward)
	if !bytes.Equal(a, b) {
		t.Fatalf("encodings differ:\n%q\n%q", a, b)
	}
	if want := "d5:Alphai3e2:ali4e5:alphai1e1:mi5e4:zetai0e7:\xffbinaryi2ee"; string(a) != want {
		t.Errorf("Expected %q but got %q", want, a)
	}
}

func TestRoundTrip(t *testing.T) {
	values := []bencode.Value{
		bencode.Int(-9223372036854775808),
		bencode.String{0, 1, 2, 'e', ':', 0xff},
		bencode.List{bencode.Dict{}, bencode.List{bencode.List{}}, bencode.Int(0)},
		bencode.Dict{
			"announce": bencode.Str("http://example.com/announce"),
			"info": bencode.Dict{
				"length":       bencode.Int(1048676),
				"piece length": bencode.Int(1048576),
				"pieces":       bencode.String(bytes.Repeat([]byte{0xab}, 40)),
				"files":        bencode.List{bencode.Dict{"path": bencode.List{bencode.Str("a")}}},
			},
		},
	}
	for _, v := range values {
		decoded, err := bencode.Decode(bencode.Encode(v))
		if err != nil {
			t.Fatalf("decode(encode(%#v)): %v", v, err)
		}
		if !reflect.DeepEqual(decoded, v) {
			t.Errorf("round trip mismatch: %#v != %#v", decoded, v)
		}
	}
}

func TestEncodeMatchesReferenceEncoder(t *testing.T) {
	v := bencode.Dict{
		"interval": bencode.Int(60),
		"peers":    bencode.Str("\x7f\x00\x00\x01\x1a\xe1"),
		"list":     bencode.List{bencode.Str("x"), bencode.Int(7), bencode.List{}},
		"nested":   bencode.Dict{"b": bencode.Str("2"), "a": bencode.Int(1)},
	}

	var reference bytes.Buffer
	if err := jackpal.Marshal(&reference, bencode.ToNative(v)); err != nil {
		t.Fatalf("reference Marshal: %v", err)
	}
	if got := bencode.Encode(v); !bytes.Equal(got, reference.Bytes()) {
		t.Errorf("Expected %q but got %q", reference.Bytes(), got)
	}
}

func TestEncodeToRejectsNil(t *testing.T) {
	var buf bytes.Buffer
	err := bencode.EncodeTo(&buf, bencode.List{bencode.Int(1), nil})
	var encodeErr *bencode.EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
}

func TestDictAccessors(t *testing.T) {
	d := bencode.Dict{
		"name": bencode.Str("x"),
		"info": bencode.Dict{"n": bencode.Int(1)},
	}
	if b, ok := d.Bytes("name"); !ok || string(b) != "x" {
		t.Errorf("Bytes(name) = %q, %v", b, ok)
	}
	if _, ok := d.Bytes("info"); ok {
		t.Error("Bytes(info) accepted a dictionary")
	}
	if info, ok := d.Dict("info"); !ok || len(info) != 1 {
		t.Errorf("Dict(info) = %v, %v", info, ok)
	}
	if _, ok := d.Dict("missing"); ok {
		t.Error("Dict(missing) reported a value")
	}
}

func TestToNative(t *testing.T) {
	v := bencode.Dict{
		"n": bencode.Int(3),
		"l": bencode.List{bencode.Str("x")},
	}
	expected := map[string]any{"n": int64(3), "l": []any{"x"}}
	if got := bencode.ToNative(v); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %#v but got %#v", expected, got)
	}
}
