package peering

import (
	"encoding/binary"
)

const BlockSize = 16 * 1024

func dividePiece(pieceSize int) []Block {
	var blocks []Block
	for begin := 0; begin < pieceSize; begin += BlockSize {
		blocks = append(blocks, Block{Begin: begin, Length: blockLength(pieceSize, begin)})
	}
	return blocks
}

func blockLength(pieceSize, begin int) int {
	return min(BlockSize, pieceSize-begin)
}

func NewRequest(index, begin, length int) Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return Message{ID: MsgRequest, Payload: payload}
}

func NewHave(index int) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return Message{ID: MsgHave, Payload: payload}
}

// NewPiece builds the reply to a request. Used by peers that serve blocks.
func NewPiece(index, begin int, block []byte) Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return Message{ID: MsgPiece, Payload: payload}
}

func ParseRequest(msg *Message) (index, begin, length int, err error) {
	if msg.ID != MsgRequest && msg.ID != MsgCancel {
		return 0, 0, 0, protocolErrorf("expected request, got %s", msg.ID)
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, protocolErrorf("request payload of %d bytes, want 12", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(msg.Payload[8:12]))
	return index, begin, length, nil
}

// ParsePiece splits a piece message into its echoed index and offset and the
// block bytes, which alias the payload.
func ParsePiece(msg *Message) (index, begin int, block []byte, err error) {
	if msg.ID != MsgPiece {
		return 0, 0, nil, protocolErrorf("expected piece, got %s", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, protocolErrorf("piece payload of %d bytes is too short", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	return index, begin, msg.Payload[8:], nil
}

func ParseHave(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, protocolErrorf("expected have, got %s", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, protocolErrorf("have payload of %d bytes, want 4", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
