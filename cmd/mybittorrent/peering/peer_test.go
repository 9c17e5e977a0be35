package peering

import (
	"crypto/sha1"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

// testTorrent describes content split into pieces of pieceLength bytes.
func testTorrent(content []byte, pieceLength int) *metainfo.Metainfo {
	meta := &metainfo.Metainfo{
		Name:        "sample.txt",
		PieceLength: int64(pieceLength),
		TotalLength: int64(len(content)),
		Layout:      metainfo.SingleFile{Length: int64(len(content))},
		InfoHash:    testInfoHash,
	}
	for begin := 0; begin < len(content); begin += pieceLength {
		end := min(begin+pieceLength, len(content))
		meta.PieceHashes = append(meta.PieceHashes, sha1.Sum(content[begin:end]))
	}
	return meta
}

type requested struct {
	index, begin, length int
}

// fakePeer serves one torrent's content over the peer wire protocol. It
// always advertises every piece.
type fakePeer struct {
	meta    *metainfo.Metainfo
	content []byte

	// keepAlive sends a keep-alive frame before the bitfield.
	keepAlive bool
	// beforeUnchoke is sent in place of the unchoke when set.
	beforeUnchoke *Message
	// silent stops answering after the handshake.
	silent bool

	corrupt    atomic.Bool
	wrongBegin atomic.Bool

	requests chan requested
}

func newFakePeer(meta *metainfo.Metainfo, content []byte) *fakePeer {
	return &fakePeer{
		meta:     meta,
		content:  content,
		requests: make(chan requested, 1024),
	}
}

func (p *fakePeer) serve(conn net.Conn) error {
	defer conn.Close()

	if _, err := ReadHandshake(conn); err != nil {
		return err
	}
	reply := Handshake{InfoHash: p.meta.InfoHash, PeerID: testRemotePeer}
	if _, err := conn.Write(reply.Serialize()); err != nil {
		return err
	}
	if p.silent {
		_, err := io.Copy(io.Discard, conn)
		return err
	}

	mc := NewMessageConn(conn)
	if p.keepAlive {
		if _, err := conn.Write([]byte{0, 0, 0, 0}); err != nil {
			return err
		}
	}

	bitfield := make(Bitfield, (p.meta.NumPieces()+7)/8)
	for i := range p.meta.NumPieces() {
		bitfield.SetPiece(i)
	}
	if err := mc.WriteMessage(Message{ID: MsgBitfield, Payload: bitfield}); err != nil {
		return err
	}

	msg, err := mc.ReadMessage()
	if err != nil {
		return err
	}
	if msg.ID != MsgInterested {
		return protocolErrorf("fake peer expected interested, got %s", msg.ID)
	}
	if p.beforeUnchoke != nil {
		if err := mc.WriteMessage(*p.beforeUnchoke); err != nil {
			return err
		}
	}
	if err := mc.WriteMessage(Message{ID: MsgUnchoke}); err != nil {
		return err
	}

	for {
		msg, err := mc.ReadMessage()
		if err != nil {
			return nil
		}
		index, begin, length, err := ParseRequest(msg)
		if err != nil {
			return err
		}
		p.requests <- requested{index, begin, length}

		start := int(p.meta.PieceOffset(index)) + begin
		block := append([]byte(nil), p.content[start:start+length]...)
		if p.corrupt.Load() {
			block[0] ^= 0xff
		}
		if p.wrongBegin.Load() {
			begin += BlockSize
		}
		if err := mc.WriteMessage(NewPiece(index, begin, block)); err != nil {
			return err
		}
	}
}

// drainRequests returns every request the peer has recorded so far.
func (p *fakePeer) drainRequests() []requested {
	var got []requested
	for {
		select {
		case r := <-p.requests:
			got = append(got, r)
		default:
			return got
		}
	}
}

// listen serves p to every TCP connection on a loopback port.
func (p *fakePeer) listen(t *testing.T) PeerAddress {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.serve(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return PeerAddress{IP: addr.IP, Port: uint16(addr.Port)}
}

func testSessionConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.IOTimeout = 5 * time.Second
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func sampleContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	return content
}
