// Package peering talks to trackers and peers: announce requests, the
// handshake, length-prefixed peer messages and verified piece downloads.
package peering

import (
	"crypto/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const PeerID = "-MY0001-123456789012"

const peerIDPrefix = "-MY0001-"

type Config struct {
	PeerID [20]byte
	// Port is announced to trackers. Nothing listens on it.
	Port uint16

	DialTimeout    time.Duration
	IOTimeout      time.Duration
	TrackerTimeout time.Duration

	// RequestRate caps block requests per second on a session. Zero means
	// unlimited.
	RequestRate rate.Limit

	HTTPClient *http.Client
	Logger     *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		PeerID:         [20]byte([]byte(PeerID)),
		Port:           6881,
		DialTimeout:    3 * time.Second,
		IOTimeout:      30 * time.Second,
		TrackerTimeout: 15 * time.Second,
		RequestRate:    rate.Inf,
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.TrackerTimeout}
	}
	if c.RequestRate == 0 {
		c.RequestRate = rate.Inf
	}
	return c
}

// NewPeerID returns a random Azureus-style peer id with this client's prefix.
func NewPeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	random := make([]byte, len(id)-len(peerIDPrefix))
	if _, err := rand.Read(random); err != nil {
		return id, err
	}
	for i, b := range random {
		id[len(peerIDPrefix)+i] = '0' + b%10
	}
	return id, nil
}
