// Package metainfo parses torrent metadata files into a read-only view and
// computes their info hash.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
)

const HashSize = 20

// Error reports a missing or mistyped metadata field.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := "metainfo: "
	if e.Field != "" {
		msg += fmt.Sprintf("field %q: ", e.Field)
	}
	msg += e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Metainfo is the typed view of a torrent file. It is never modified after
// Parse returns, so one value can be shared between sessions.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	CreatedBy    string
	Comment      string

	Name        string
	PieceLength int64
	TotalLength int64
	PieceHashes [][HashSize]byte
	Layout      Layout
	Private     bool

	InfoHash [HashSize]byte
}

type rawTorrent struct {
	Announce     string     `mapstructure:"announce"`
	AnnounceList [][]string `mapstructure:"announce-list"`
	CreatedBy    string     `mapstructure:"created by"`
	Comment      string     `mapstructure:"comment"`
}

type rawInfo struct {
	Name        string    `mapstructure:"name"`
	PieceLength int64     `mapstructure:"piece length"`
	Pieces      string    `mapstructure:"pieces"`
	Length      *int64    `mapstructure:"length"`
	Files       []rawFile `mapstructure:"files"`
	Private     int64     `mapstructure:"private"`
}

type rawFile struct {
	Length int64    `mapstructure:"length"`
	Path   []string `mapstructure:"path"`
}

// Parse decodes the raw bytes of a torrent file.
func Parse(data []byte) (*Metainfo, error) {
	top, err := bencode.Decode(data)
	if err != nil {
		return nil, &Error{Msg: "malformed torrent file", Err: err}
	}
	dict, ok := top.(bencode.Dict)
	if !ok {
		return nil, &Error{Msg: fmt.Sprintf("top level is a %s, not a dictionary", bencode.TypeName(top))}
	}

	if err := requireKind[bencode.String](dict, "announce"); err != nil {
		return nil, err
	}
	if err := requireKind[bencode.Dict](dict, "info"); err != nil {
		return nil, err
	}
	info, _ := dict.Dict("info")
	if err := requireKind[bencode.Int](info, "piece length"); err != nil {
		return nil, err
	}
	if err := requireKind[bencode.String](info, "pieces"); err != nil {
		return nil, err
	}

	var torrent rawTorrent
	if err := decodeNative(dict, &torrent, "info"); err != nil {
		return nil, err
	}
	var ri rawInfo
	if err := decodeNative(info, &ri); err != nil {
		return nil, err
	}

	m := &Metainfo{
		Announce:     torrent.Announce,
		AnnounceList: torrent.AnnounceList,
		CreatedBy:    torrent.CreatedBy,
		Comment:      torrent.Comment,
		Name:         ri.Name,
		PieceLength:  ri.PieceLength,
		Private:      ri.Private == 1,
	}
	if m.PieceLength <= 0 {
		return nil, &Error{Field: "piece length", Msg: fmt.Sprintf("must be positive, got %d", m.PieceLength)}
	}

	if m.Layout, err = buildLayout(&ri); err != nil {
		return nil, err
	}
	m.TotalLength = m.Layout.TotalLength()

	if m.PieceHashes, err = splitPieces(ri.Pieces); err != nil {
		return nil, err
	}
	if want := (m.TotalLength + m.PieceLength - 1) / m.PieceLength; int64(len(m.PieceHashes)) != want {
		return nil, &Error{
			Field: "pieces",
			Msg:   fmt.Sprintf("%d hashes for %d bytes in pieces of %d, want %d", len(m.PieceHashes), m.TotalLength, m.PieceLength, want),
		}
	}

	span, err := infoSpan(data)
	if err != nil {
		return nil, err
	}
	m.InfoHash = sha1.Sum(span)

	return m, nil
}

func requireKind[T bencode.Value](dict bencode.Dict, key string) error {
	v, ok := dict[key]
	if !ok {
		return &Error{Field: key, Msg: "missing"}
	}
	if _, ok := v.(T); !ok {
		var want T
		return &Error{Field: key, Msg: fmt.Sprintf("is a %s, want %s", bencode.TypeName(v), bencode.TypeName(want))}
	}
	return nil
}

// decodeNative maps a bencode dictionary onto a raw struct. Values of the
// wrong kind fail instead of being coerced, and keys must match exactly.
func decodeNative(dict bencode.Dict, out any, skip ...string) error {
	native := bencode.ToNative(dict).(map[string]any)
	for _, k := range skip {
		delete(native, k)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
		MatchName:        exactName,
	})
	if err != nil {
		return &Error{Msg: "building decoder", Err: err}
	}
	if err := decoder.Decode(native); err != nil {
		return &Error{Msg: "unexpected field type", Err: err}
	}
	return nil
}

// exactName replaces mapstructure's case-insensitive key matching. Bencode
// keys are byte strings, so "Length" is not "length".
func exactName(mapKey, fieldName string) bool {
	return mapKey == fieldName
}

func buildLayout(ri *rawInfo) (Layout, error) {
	switch {
	case ri.Length != nil && ri.Files != nil:
		return nil, &Error{Field: "length", Msg: "both length and files present"}
	case ri.Length != nil:
		if *ri.Length < 0 {
			return nil, &Error{Field: "length", Msg: fmt.Sprintf("negative length %d", *ri.Length)}
		}
		return SingleFile{Length: *ri.Length}, nil
	case ri.Files != nil:
		files := make([]File, 0, len(ri.Files))
		var offset int64
		for i, f := range ri.Files {
			if f.Length < 0 {
				return nil, &Error{Field: "files", Msg: fmt.Sprintf("file %d has negative length %d", i, f.Length)}
			}
			if len(f.Path) == 0 {
				return nil, &Error{Field: "files", Msg: fmt.Sprintf("file %d has an empty path", i)}
			}
			files = append(files, File{Path: f.Path, Length: f.Length, Offset: offset})
			offset += f.Length
		}
		return MultiFile{Files: files}, nil
	default:
		return nil, &Error{Field: "length", Msg: "missing, and no files list either"}
	}
}

func splitPieces(pieces string) ([][HashSize]byte, error) {
	if len(pieces)%HashSize != 0 {
		return nil, &Error{Field: "pieces", Msg: fmt.Sprintf("length %d is not a multiple of %d", len(pieces), HashSize)}
	}
	hashes := make([][HashSize]byte, len(pieces)/HashSize)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*HashSize:(i+1)*HashSize])
	}
	return hashes, nil
}

// infoSpan returns the exact bytes of the top-level "info" value.
func infoSpan(data []byte) ([]byte, error) {
	cursor := 1
	for cursor < len(data) && data[cursor] != 'e' {
		key, next, err := bencode.DecodeAt(data, cursor)
		if err != nil {
			return nil, &Error{Msg: "scanning for info", Err: err}
		}
		_, end, err := bencode.DecodeAt(data, next)
		if err != nil {
			return nil, &Error{Msg: "scanning for info", Err: err}
		}
		if k, ok := key.(bencode.String); ok && string(k) == "info" {
			return data[next:end], nil
		}
		cursor = end
	}
	return nil, &Error{Field: "info", Msg: "missing"}
}

func (m *Metainfo) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceSize is the byte length of piece index. Only the final piece may be
// shorter than PieceLength. Out of range indexes have size 0.
func (m *Metainfo) PieceSize(index int) int {
	if index < 0 || index >= m.NumPieces() {
		return 0
	}
	if index == m.NumPieces()-1 {
		if rem := m.TotalLength % m.PieceLength; rem != 0 {
			return int(rem)
		}
	}
	return int(m.PieceLength)
}

// PieceOffset is the position of piece index within the concatenated content.
func (m *Metainfo) PieceOffset(index int) int64 {
	return int64(index) * m.PieceLength
}

func (m *Metainfo) PieceHash(index int) [HashSize]byte {
	return m.PieceHashes[index]
}

func (m *Metainfo) InfoHashHex() string {
	return hex.EncodeToString(m.InfoHash[:])
}

// Trackers lists the HTTP tracker URLs, announce first, without duplicates.
func (m *Metainfo) Trackers() []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if seen[u] || !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}
