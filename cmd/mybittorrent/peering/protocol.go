package peering

import (
	"bytes"
	"fmt"
	"io"
)

const (
	ProtocolName    = "BitTorrent protocol"
	HandshakeLength = 1 + len(ProtocolName) + 8 + 20 + 20
)

type Handshake struct {
	// Reserved extension bits. Always zero on the handshakes this client sends.
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, byte(len(ProtocolName)))
	buf = append(buf, ProtocolName...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// ReadHandshake reads exactly one handshake record from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &TransportError{Op: "read handshake", Err: err}
	}

	if int(buf[0]) != len(ProtocolName) {
		return nil, protocolErrorf("handshake protocol length %d, want %d", buf[0], len(ProtocolName))
	}
	if !bytes.Equal(buf[1:20], []byte(ProtocolName)) {
		return nil, protocolErrorf("unknown handshake protocol %q", buf[1:20])
	}

	h := &Handshake{}
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}

// PerformHandshake sends our handshake, reads the peer's and returns the
// remote peer id.
func PerformHandshake(rw io.ReadWriter, infoHash, peerID [20]byte) ([20]byte, error) {
	ours := Handshake{InfoHash: infoHash, PeerID: peerID}
	if _, err := rw.Write(ours.Serialize()); err != nil {
		return [20]byte{}, &TransportError{Op: "write handshake", Err: err}
	}

	theirs, err := ReadHandshake(rw)
	if err != nil {
		return [20]byte{}, err
	}
	if theirs.InfoHash != infoHash {
		return [20]byte{}, &ProtocolError{
			Msg: fmt.Sprintf("peer answered with info hash %x, want %x", theirs.InfoHash, infoHash),
		}
	}

	return theirs.PeerID, nil
}
