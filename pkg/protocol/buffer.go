package protocol

import "encoding/binary"

// BufferSize is the size of the fixed receive buffer every decoder reads from.
// Datagrams longer than this are truncated, shorter ones are zero padded, so
// decoders can index any documented offset without bounds checks.
const BufferSize = 512

// Buffer is a zero-initialised fixed-size copy of one received datagram
type Buffer struct {
	data [BufferSize]byte
	n    int
}

// NewBuffer copies data into a fixed buffer
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{}
	b.n = copy(b.data[:], data)
	return b
}

// Len returns the number of bytes actually received (at most BufferSize)
func (b *Buffer) Len() int {
	return b.n
}

// Bytes returns the received bytes
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Field returns the bytes in [start, end) of the fixed buffer
func (b *Buffer) Field(start, end int) []byte {
	return b.data[start:end]
}

// Byte returns the byte at offset i of the fixed buffer
func (b *Buffer) Byte(i int) byte {
	return b.data[i]
}

// PeerID decodes a 4-byte peer id at offset
func (b *Buffer) PeerID(offset int) uint32 {
	return PeerIDFromBytes(b.data[offset : offset+PeerIDLength])
}

// PeerIDFromBytes decodes a big-endian 32-bit peer id from the first four bytes of b.
// Every place that reads a peer or repeater id off the wire goes through here.
func PeerIDFromBytes(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:PeerIDLength])
}

// PutPeerID writes id big-endian into the first four bytes of b
func PutPeerID(b []byte, id uint32) {
	binary.BigEndian.PutUint32(b[:PeerIDLength], id)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
