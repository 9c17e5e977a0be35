package bencode

import (
	"fmt"
	"strconv"
)

const maxDepth = 512

// DecodeError reports malformed bencode input and the byte offset at which
// decoding failed.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

func errorAt(offset int, format string, args ...any) error {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Decode decodes a single value that must span all of data.
func Decode(data []byte) (Value, error) {
	v, next, err := DecodeAt(data, 0)
	if err != nil {
		return nil, err
	}
	if next != len(data) {
		return nil, errorAt(next, "trailing data after value")
	}
	return v, nil
}

// DecodeAt decodes the value starting at pos and returns it together with the
// position of the first byte after it.
func DecodeAt(data []byte, pos int) (Value, int, error) {
	return decodeValue(data, pos, 0)
}

func decodeValue(data []byte, pos, depth int) (Value, int, error) {
	if pos < 0 || pos >= len(data) {
		return nil, pos, errorAt(pos, "unexpected end of input")
	}
	if depth > maxDepth {
		return nil, pos, errorAt(pos, "nesting deeper than %d", maxDepth)
	}

	switch c := data[pos]; {
	case c == 'i':
		return decodeInteger(data, pos)
	case c >= '0' && c <= '9':
		return decodeString(data, pos)
	case c == 'l':
		return decodeList(data, pos, depth)
	case c == 'd':
		return decodeDictionary(data, pos, depth)
	default:
		return nil, pos, errorAt(pos, "unexpected byte %q", c)
	}
}

func decodeInteger(data []byte, pos int) (Value, int, error) {
	start := pos + 1
	end := start
	for end < len(data) && data[end] != 'e' {
		end++
	}
	if end >= len(data) {
		return nil, pos, errorAt(pos, "unterminated integer")
	}

	digits := string(data[start:end])
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, pos, errorAt(start, "invalid integer %q", digits)
	}
	// i-0e, i03e and i+3e all parse but are not the canonical spelling.
	if strconv.FormatInt(n, 10) != digits {
		return nil, pos, errorAt(start, "non-canonical integer %q", digits)
	}

	return Int(n), end + 1, nil
}

func decodeString(data []byte, pos int) (Value, int, error) {
	colon := pos
	for colon < len(data) && data[colon] != ':' {
		if data[colon] < '0' || data[colon] > '9' {
			return nil, pos, errorAt(colon, "non-digit %q in string length", data[colon])
		}
		colon++
	}
	if colon >= len(data) {
		return nil, pos, errorAt(pos, "missing colon after string length")
	}

	lengthStr := string(data[pos:colon])
	length, err := strconv.Atoi(lengthStr)
	if err != nil || strconv.Itoa(length) != lengthStr {
		return nil, pos, errorAt(pos, "invalid string length %q", lengthStr)
	}

	start := colon + 1
	if length > len(data)-start {
		return nil, pos, errorAt(start, "string of length %d exceeds input", length)
	}

	return String(data[start : start+length]), start + length, nil
}

func decodeList(data []byte, pos, depth int) (Value, int, error) {
	list := List{}
	cursor := pos + 1

	for {
		if cursor >= len(data) {
			return nil, pos, errorAt(pos, "unterminated list")
		}
		if data[cursor] == 'e' {
			return list, cursor + 1, nil
		}

		item, next, err := decodeValue(data, cursor, depth+1)
		if err != nil {
			return nil, pos, err
		}
		list = append(list, item)
		cursor = next
	}
}

func decodeDictionary(data []byte, pos, depth int) (Value, int, error) {
	dict := Dict{}
	cursor := pos + 1

	for {
		if cursor >= len(data) {
			return nil, pos, errorAt(pos, "unterminated dictionary")
		}
		if data[cursor] == 'e' {
			return dict, cursor + 1, nil
		}

		if c := data[cursor]; c < '0' || c > '9' {
			return nil, pos, errorAt(cursor, "dictionary key is not a byte string")
		}
		key, next, err := decodeString(data, cursor)
		if err != nil {
			return nil, pos, err
		}
		k := string(key.(String))
		if _, dup := dict[k]; dup {
			return nil, pos, errorAt(cursor, "duplicate dictionary key %q", k)
		}

		value, next, err := decodeValue(data, next, depth+1)
		if err != nil {
			return nil, pos, err
		}
		dict[k] = value
		cursor = next
	}
}
