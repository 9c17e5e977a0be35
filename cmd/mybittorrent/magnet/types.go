package magnet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/peering"
)

var ErrNoTracker = errors.New("magnet link has no http tracker")

// Link represents a parsed magnet link with its components
type Link struct {
	InfoHash   [20]byte
	Name       string
	Trackers   []string
	ExactTopic string
}

// Parse parses a magnet URI and returns a Link object containing the extracted information.
// It validates the urn:btih exact topic, which must carry a 40 character hex
// info hash, and collects the display name and tracker URLs.
func Parse(uri string) (*Link, error) {
	query, ok := strings.CutPrefix(uri, "magnet:?")
	if !ok {
		return nil, fmt.Errorf("invalid magnet URI format")
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse magnet URI query: %w", err)
	}

	xt := values.Get("xt")
	encoded, ok := strings.CutPrefix(xt, "urn:btih:")
	if !ok {
		return nil, fmt.Errorf("invalid or missing urn:btih prefix in xt parameter")
	}
	if len(encoded) != 40 {
		return nil, fmt.Errorf("invalid info hash length %d", len(encoded))
	}

	link := &Link{
		ExactTopic: xt,
		Name:       values.Get("dn"),
		Trackers:   values["tr"],
	}
	if _, err := hex.Decode(link.InfoHash[:], []byte(encoded)); err != nil {
		return nil, fmt.Errorf("invalid hex-encoded info hash: %w", err)
	}
	return link, nil
}

func (l *Link) InfoHashHex() string {
	return hex.EncodeToString(l.InfoHash[:])
}

// AnnounceRequest builds a tracker request for the first http tracker of the
// link. The content size is unknown until the metadata is fetched, so left
// is reported as 1.
func (l *Link) AnnounceRequest(cfg peering.Config) (peering.AnnounceRequest, error) {
	for _, tr := range l.Trackers {
		if strings.HasPrefix(tr, "http://") || strings.HasPrefix(tr, "https://") {
			return peering.AnnounceRequest{
				URL:      tr,
				InfoHash: l.InfoHash,
				PeerID:   cfg.PeerID,
				Port:     cfg.Port,
				Left:     1,
			}, nil
		}
	}
	return peering.AnnounceRequest{}, ErrNoTracker
}
