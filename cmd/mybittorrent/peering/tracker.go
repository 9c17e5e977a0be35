package peering

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

const maxTrackerResponse = 1 << 20

type AnnounceRequest struct {
	URL        string
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
}

// RequestFor builds the initial announce for a torrent nothing has been
// downloaded from yet.
func RequestFor(meta *metainfo.Metainfo, cfg Config) AnnounceRequest {
	return AnnounceRequest{
		URL:      meta.Announce,
		InfoHash: meta.InfoHash,
		PeerID:   cfg.PeerID,
		Port:     cfg.Port,
		Left:     meta.TotalLength,
	}
}

// BuildURL returns the announce URL with its query. The info hash is added
// last, one %xx triplet per raw byte.
func (r AnnounceRequest) BuildURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid announce url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}

	params := url.Values{
		"peer_id":    []string{string(r.PeerID[:])},
		"port":       []string{strconv.Itoa(int(r.Port))},
		"uploaded":   []string{strconv.FormatInt(r.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(r.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(r.Left, 10)},
		"compact":    []string{"1"},
	}

	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + params.Encode() + "&info_hash=" + percentEncode(r.InfoHash[:]), nil
}

func percentEncode(raw []byte) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(3 * len(raw))
	for _, c := range raw {
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

type AnnounceResponse struct {
	// Interval is advisory; nothing here re-announces on its own.
	Interval    time.Duration
	MinInterval time.Duration
	Complete    int64
	Incomplete  int64
	Warning     string
	Peers       []PeerAddress
}

type rawAnnounceResponse struct {
	FailureReason string `mapstructure:"failure reason"`
	Warning       string `mapstructure:"warning message"`
	Interval      int64  `mapstructure:"interval"`
	MinInterval   int64  `mapstructure:"min interval"`
	Complete      int64  `mapstructure:"complete"`
	Incomplete    int64  `mapstructure:"incomplete"`
	Peers         string `mapstructure:"peers"`
}

type Tracker struct {
	client *http.Client
	logger *zap.Logger
}

func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{client: cfg.HTTPClient, logger: cfg.Logger}
}

// Announce performs a single GET against the tracker and decodes its
// compact peer list.
func (t *Tracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	trackerURL, err := req.BuildURL()
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Announcing to tracker", zap.String("url", req.URL), zap.Int64("left", req.Left))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker request: %w", err)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "contact tracker", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackerResponse))
	if err != nil {
		return nil, &TransportError{Op: "read tracker response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "contact tracker", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	parsed, err := parseAnnounceResponse(body)
	if err != nil {
		return nil, err
	}
	if parsed.Warning != "" {
		t.logger.Warn("Tracker warning", zap.String("url", req.URL), zap.String("warning", parsed.Warning))
	}
	t.logger.Info("Tracker responded",
		zap.String("url", req.URL),
		zap.Int("peers", len(parsed.Peers)),
		zap.Duration("interval", parsed.Interval),
	)
	return parsed, nil
}

func parseAnnounceResponse(body []byte) (*AnnounceResponse, error) {
	decoded, err := bencode.Decode(body)
	if err != nil {
		return nil, &ProtocolError{Msg: "failed to decode tracker response", Err: err}
	}
	dict, ok := decoded.(bencode.Dict)
	if !ok {
		return nil, protocolErrorf("tracker response is a %s, not a dictionary", bencode.TypeName(decoded))
	}

	var raw rawAnnounceResponse
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &raw,
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker response decoder: %w", err)
	}
	if err := decoder.Decode(bencode.ToNative(dict)); err != nil {
		return nil, &ProtocolError{Msg: "unexpected tracker response field", Err: err}
	}
	if raw.FailureReason != "" {
		return nil, protocolErrorf("tracker refused announce: %s", raw.FailureReason)
	}
	if _, ok := dict.Bytes("peers"); !ok {
		return nil, protocolErrorf("tracker response has no compact peers")
	}

	peers, err := ParsePeers([]byte(raw.Peers))
	if err != nil {
		return nil, err
	}
	return &AnnounceResponse{
		Interval:    time.Duration(raw.Interval) * time.Second,
		MinInterval: time.Duration(raw.MinInterval) * time.Second,
		Complete:    raw.Complete,
		Incomplete:  raw.Incomplete,
		Warning:     raw.Warning,
		Peers:       peers,
	}, nil
}

// ParsePeers decodes a compact peer list: 4 bytes of IPv4 address and 2 of
// port per peer, both big-endian.
func ParsePeers(data []byte) ([]PeerAddress, error) {
	const peerSize = 6
	if len(data)%peerSize != 0 {
		return nil, protocolErrorf("compact peer list of %d bytes is not a multiple of %d", len(data), peerSize)
	}

	peers := make([]PeerAddress, 0, len(data)/peerSize)
	for offset := 0; offset < len(data); offset += peerSize {
		peers = append(peers, PeerAddress{
			IP:   net.IPv4(data[offset], data[offset+1], data[offset+2], data[offset+3]),
			Port: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
		})
	}
	return peers, nil
}

// Announce asks the torrent's announce URL for peers using the default
// configuration with the given identity.
func Announce(ctx context.Context, meta *metainfo.Metainfo, peerID [20]byte, port uint16) ([]PeerAddress, error) {
	cfg := DefaultConfig()
	cfg.PeerID = peerID
	cfg.Port = port

	resp, err := NewTracker(cfg).Announce(ctx, RequestFor(meta, cfg))
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}
