package peering

import (
	"crypto/sha1"

	bitmap "github.com/boljen/go-bitmap"
)

// pieceBuffer accumulates the blocks of one piece until it can be verified.
type pieceBuffer struct {
	index      int
	data       []byte
	filled     bitmap.Bitmap
	downloaded int
}

func newPieceBuffer(index, size int) *pieceBuffer {
	return &pieceBuffer{
		index:  index,
		data:   make([]byte, size),
		filled: bitmap.New(len(dividePiece(size))),
	}
}

// put stores a block that starts at begin. Blocks must sit on block
// boundaries, have exactly the expected length and arrive once.
func (p *pieceBuffer) put(begin int, block []byte) error {
	if begin < 0 || begin >= len(p.data) || begin%BlockSize != 0 {
		return protocolErrorf("piece %d: block offset %d is not a block boundary", p.index, begin)
	}
	if want := blockLength(len(p.data), begin); len(block) != want {
		return protocolErrorf("piece %d: block at %d has %d bytes, want %d", p.index, begin, len(block), want)
	}

	slot := begin / BlockSize
	if p.filled.Get(slot) {
		return protocolErrorf("piece %d: block at %d received twice", p.index, begin)
	}

	copy(p.data[begin:], block)
	p.filled.Set(slot, true)
	p.downloaded += len(block)
	return nil
}

func (p *pieceBuffer) complete() bool {
	return p.downloaded == len(p.data)
}

// verify hashes the assembled piece. On mismatch the buffer is discarded so
// unverified bytes can never be handed out.
func (p *pieceBuffer) verify(expected [20]byte) ([]byte, error) {
	if !p.complete() {
		return nil, protocolErrorf("piece %d: verifying with %d of %d bytes", p.index, p.downloaded, len(p.data))
	}

	actual := sha1.Sum(p.data)
	if actual != expected {
		p.discard()
		return nil, &IntegrityError{Index: p.index, Expected: expected, Actual: actual}
	}
	return p.data, nil
}

func (p *pieceBuffer) discard() {
	p.data = nil
	p.filled = nil
	p.downloaded = 0
}
