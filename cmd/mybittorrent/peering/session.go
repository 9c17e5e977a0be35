package peering

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

type State int

const (
	Connected State = iota
	HandshakeDone
	AwaitingBitfield
	Interested
	AwaitingUnchoke
	Requesting
	Verifying
	Done
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case HandshakeDone:
		return "handshake done"
	case AwaitingBitfield:
		return "awaiting bitfield"
	case Interested:
		return "interested"
	case AwaitingUnchoke:
		return "awaiting unchoke"
	case Requesting:
		return "requesting"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one conversation with one peer. It keeps a single request in
// flight and is not safe for concurrent use.
type Session struct {
	conn    net.Conn
	msgs    *MessageConn
	meta    *metainfo.Metainfo
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter

	state    State
	remoteID [20]byte
	bitfield Bitfield
	// err is sticky: once the stream is out of sync the session is dead.
	err error
}

// Dial connects to addr and performs the handshake.
func Dial(ctx context.Context, addr string, meta *metainfo.Metainfo, cfg Config) (*Session, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "connect to " + addr, Err: err}
	}

	s, err := NewSession(ctx, conn, meta, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession performs the handshake over an already established connection.
// The session owns conn from here on.
func NewSession(ctx context.Context, conn net.Conn, meta *metainfo.Metainfo, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		conn:    conn,
		msgs:    NewMessageConn(conn),
		meta:    meta,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("peer", conn.RemoteAddr().String())),
		limiter: rate.NewLimiter(cfg.RequestRate, 1),
		state:   Connected,
	}

	stop := s.abortOnCancel(ctx)
	defer stop()

	s.armDeadline()
	remoteID, err := PerformHandshake(conn, meta.InfoHash, cfg.PeerID)
	if err != nil {
		return nil, s.contextError(ctx, err)
	}
	s.remoteID = remoteID
	s.setState(HandshakeDone)
	return s, nil
}

func (s *Session) RemotePeerID() [20]byte { return s.remoteID }

func (s *Session) State() State { return s.state }

func (s *Session) Close() error { return s.conn.Close() }

// HasPiece reports whether the peer's bitfield advertised index. It is
// false until Negotiate has run.
func (s *Session) HasPiece(index int) bool {
	return s.bitfield.HasPiece(index)
}

// Negotiate reads the peer's bitfield, declares interest and waits to be
// unchoked. DownloadPiece runs it on first use.
func (s *Session) Negotiate(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.state >= Requesting {
		return nil
	}

	stop := s.abortOnCancel(ctx)
	defer stop()
	return s.fail(ctx, s.negotiate())
}

func (s *Session) negotiate() error {
	s.setState(AwaitingBitfield)
	msg, err := s.expect(MsgBitfield)
	if err != nil {
		return err
	}
	s.bitfield = Bitfield(msg.Payload)

	s.setState(Interested)
	if err := s.send(Message{ID: MsgInterested}); err != nil {
		return err
	}

	s.setState(AwaitingUnchoke)
	if _, err := s.expect(MsgUnchoke); err != nil {
		return err
	}
	s.setState(Requesting)
	return nil
}

// DownloadPiece fetches piece index block by block and returns it once its
// hash matches. Later calls on the same session skip the negotiation.
func (s *Session) DownloadPiece(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= s.meta.NumPieces() {
		return nil, fmt.Errorf("piece %d of %d: %w", index, s.meta.NumPieces(), ErrPieceIndex)
	}
	if err := s.Negotiate(ctx); err != nil {
		return nil, err
	}

	stop := s.abortOnCancel(ctx)
	defer stop()

	data, err := s.downloadPiece(ctx, index)
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		// The stream is still in sync; only this piece's data was bad.
		s.setState(Requesting)
		return nil, err
	}
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return data, nil
}

func (s *Session) downloadPiece(ctx context.Context, index int) ([]byte, error) {
	s.setState(Requesting)
	size := s.meta.PieceSize(index)
	buf := newPieceBuffer(index, size)
	blocks := dividePiece(size)
	s.logger.Debug("Downloading piece",
		zap.Int("piece", index),
		zap.Int("size", size),
		zap.Int("blocks", len(blocks)),
	)

	for _, blk := range blocks {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "wait to request", Err: err}
		}
		if err := s.send(NewRequest(index, blk.Begin, blk.Length)); err != nil {
			return nil, err
		}

		msg, err := s.expect(MsgPiece)
		if err != nil {
			return nil, err
		}
		gotIndex, gotBegin, block, err := ParsePiece(msg)
		if err != nil {
			return nil, err
		}
		if gotIndex != index || gotBegin != blk.Begin {
			return nil, protocolErrorf("requested piece %d at %d, got piece %d at %d", index, blk.Begin, gotIndex, gotBegin)
		}
		if err := buf.put(gotBegin, block); err != nil {
			return nil, err
		}
		s.logger.Debug("Received block", zap.Int("piece", index), zap.Int("begin", gotBegin), zap.Int("length", len(block)))
	}

	s.setState(Verifying)
	data, err := buf.verify(s.meta.PieceHash(index))
	if err != nil {
		s.logger.Warn("Piece failed verification", zap.Int("piece", index), zap.Error(err))
		return nil, err
	}

	s.setState(Done)
	s.logger.Info("Piece verified", zap.Int("piece", index), zap.Int("size", size))
	return data, nil
}

func (s *Session) expect(id MessageID) (*Message, error) {
	s.armDeadline()
	msg, err := s.msgs.ReadMessage()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Received message", zap.Stringer("message", msg.ID), zap.Int("payload", len(msg.Payload)))
	if msg.ID != id {
		return nil, protocolErrorf("expected %s while %s, got %s", id, s.state, msg.ID)
	}
	return msg, nil
}

func (s *Session) send(msg Message) error {
	s.armDeadline()
	s.logger.Debug("Sending message", zap.Stringer("message", msg.ID), zap.Int("payload", len(msg.Payload)))
	return s.msgs.WriteMessage(msg)
}

func (s *Session) setState(state State) {
	if s.state != state {
		s.logger.Debug("Session state", zap.Stringer("from", s.state), zap.Stringer("to", state))
	}
	s.state = state
}

func (s *Session) armDeadline() {
	if s.cfg.IOTimeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
	}
}

// abortOnCancel closes the connection if ctx ends while I/O is pending.
func (s *Session) abortOnCancel(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
}

func (s *Session) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &TransportError{Op: "session cancelled", Err: errors.Join(ctx.Err(), err)}
	}
	return err
}

func (s *Session) fail(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	s.err = s.contextError(ctx, err)
	return s.err
}
