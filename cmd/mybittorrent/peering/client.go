package peering

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

var ErrNoPeers = errors.New("no peers available")

// Client downloads a torrent's pieces from tracker-announced peers, one peer
// at a time. A piece that fails on one peer is retried on the next.
type Client struct {
	meta   *metainfo.Metainfo
	cfg    Config
	logger *zap.Logger
	peers  []PeerAddress
}

// NewClient announces to the torrent's trackers in order and keeps the peers
// from the first one that answers with any.
func NewClient(ctx context.Context, meta *metainfo.Metainfo, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	tracker := NewTracker(cfg)

	var errs error
	for _, trackerURL := range meta.Trackers() {
		req := RequestFor(meta, cfg)
		req.URL = trackerURL

		resp, err := tracker.Announce(ctx, req)
		if err != nil {
			cfg.Logger.Warn("Announce failed", zap.String("url", trackerURL), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if len(resp.Peers) > 0 {
			return NewClientWithPeers(meta, resp.Peers, cfg), nil
		}
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPeers, errs)
	}
	return nil, ErrNoPeers
}

func NewClientWithPeers(meta *metainfo.Metainfo, peers []PeerAddress, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		meta:   meta,
		cfg:    cfg,
		logger: cfg.Logger,
		peers:  peers,
	}
}

func (c *Client) Peers() []PeerAddress {
	return c.peers
}

// DownloadPiece tries each peer in turn until one delivers a verified piece.
func (c *Client) DownloadPiece(ctx context.Context, pieceIndex int) ([]byte, error) {
	if pieceIndex < 0 || pieceIndex >= c.meta.NumPieces() {
		return nil, fmt.Errorf("piece %d of %d: %w", pieceIndex, c.meta.NumPieces(), ErrPieceIndex)
	}

	var errs error
	for _, peer := range c.peers {
		data, err := c.downloadPieceFromPeer(ctx, peer, pieceIndex)
		if err == nil {
			return data, nil
		}
		c.logger.Warn("Peer failed", zap.Stringer("peer", peer), zap.Int("piece", pieceIndex), zap.Error(err))
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		return nil, ErrNoPeers
	}
	return nil, fmt.Errorf("failed to download piece %d from any peer: %w", pieceIndex, errs)
}

func (c *Client) downloadPieceFromPeer(ctx context.Context, peer PeerAddress, pieceIndex int) ([]byte, error) {
	session, err := Dial(ctx, peer.String(), c.meta, c.cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.DownloadPiece(ctx, pieceIndex)
}

// Download fetches every piece in order and writes each verified piece at
// its offset in w. One session serves as many pieces as it can; when it
// fails the remaining pieces move on to the next peer.
func (c *Client) Download(ctx context.Context, w io.WriterAt) error {
	var (
		errs    error
		session *Session
		next    int
	)
	closeSession := func() {
		if session != nil {
			session.Close()
			session = nil
		}
	}
	defer closeSession()

	for _, peer := range c.peers {
		if next == c.meta.NumPieces() {
			break
		}

		var err error
		session, err = Dial(ctx, peer.String(), c.meta, c.cfg)
		if err == nil {
			err = session.Negotiate(ctx)
		}
		for err == nil && next < c.meta.NumPieces() {
			if !session.HasPiece(next) {
				err = fmt.Errorf("peer does not have piece %d", next)
				break
			}
			var data []byte
			if data, err = session.DownloadPiece(ctx, next); err == nil {
				if _, werr := w.WriteAt(data, c.meta.PieceOffset(next)); werr != nil {
					return fmt.Errorf("failed to write piece %d: %w", next, werr)
				}
				c.logger.Info("Piece written", zap.Int("piece", next), zap.Int("of", c.meta.NumPieces()))
				next++
			}
		}
		closeSession()

		if err != nil {
			c.logger.Warn("Peer failed", zap.Stringer("peer", peer), zap.Int("piece", next), zap.Error(err))
			errs = multierr.Append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	if next < c.meta.NumPieces() {
		if errs == nil {
			errs = ErrNoPeers
		}
		return fmt.Errorf("downloaded %d of %d pieces: %w", next, c.meta.NumPieces(), errs)
	}
	return nil
}
