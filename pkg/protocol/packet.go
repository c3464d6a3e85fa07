package protocol

// Packet is one classified datagram. The set of implementations is closed:
// every tag the gateway understands has exactly one variant, and everything
// else decodes to *UnknownPacket.
type Packet interface {
	// Type returns the wire tag of the packet
	Type() string
	isPacket()
}

// UnknownPacket is any datagram whose tag is not recognised
type UnknownPacket struct {
	Tag  string // up to the first 7 bytes, for logging
	Size int
}

// Type implements Packet
func (p *UnknownPacket) Type() string { return p.Tag }

func (*UnknownPacket) isPacket()           {}
func (*DMRDPacket) isPacket()              {}
func (*LoginPacket) isPacket()             {}
func (*AckPacket) isPacket()               {}
func (*ChallengeResponsePacket) isPacket() {}
func (*InfoPacket) isPacket()              {}
func (*OptionsPacket) isPacket()           {}
func (*PingPacket) isPacket()              {}
func (*PongPacket) isPacket()              {}
func (*NakPacket) isPacket()               {}
func (*PeerClosePacket) isPacket()         {}
func (*MasterClosePacket) isPacket()       {}

// Type implements Packet
func (*DMRDPacket) Type() string { return PacketTypeDMRD }

// Type implements Packet
func (*LoginPacket) Type() string { return PacketTypeRPTL }

// Type implements Packet
func (*AckPacket) Type() string { return PacketTypeRPTACK }

// Type implements Packet
func (*ChallengeResponsePacket) Type() string { return PacketTypeRPTK }

// Type implements Packet
func (*InfoPacket) Type() string { return PacketTypeRPTC }

// Type implements Packet
func (*OptionsPacket) Type() string { return PacketTypeRPTO }

// Type implements Packet
func (*PingPacket) Type() string { return PacketTypeRPTPING }

// Type implements Packet
func (*PongPacket) Type() string { return PacketTypeMSTPONG }

// Type implements Packet
func (*NakPacket) Type() string { return PacketTypeMSTNAK }

// Type implements Packet
func (*PeerClosePacket) Type() string { return PacketTypeRPTCL }

// Type implements Packet
func (*MasterClosePacket) Type() string { return PacketTypeMSTCL }

// Classify copies data into a fixed buffer and decodes it into its packet
// variant. Tags are matched longest first since several share a prefix.
// RPTC and RPTCL also share a prefix; the peer close packet is the short one.
func Classify(data []byte) Packet {
	b := NewBuffer(data)

	switch {
	case hasTag(b, PacketTypeRPTPING):
		return DecodePing(b)
	case hasTag(b, PacketTypeMSTPONG):
		return DecodePong(b)
	case hasTag(b, PacketTypeRPTACK):
		return DecodeAck(b)
	case hasTag(b, PacketTypeMSTNAK):
		return DecodeNak(b)
	case hasTag(b, PacketTypeMSTCL):
		return DecodeMasterClose(b)
	case hasTag(b, PacketTypeRPTCL) && b.Len() < RPTCPacketSize:
		return DecodePeerClose(b)
	case hasTag(b, PacketTypeDMRD):
		return DecodeDMRD(b)
	case hasTag(b, PacketTypeRPTL):
		return DecodeLogin(b)
	case hasTag(b, PacketTypeRPTK):
		return DecodeChallengeResponse(b)
	case hasTag(b, PacketTypeRPTC):
		return DecodeInfo(b)
	case hasTag(b, PacketTypeRPTO):
		return DecodeOptions(b)
	}

	n := b.Len()
	if n > 7 {
		n = 7
	}
	return &UnknownPacket{Tag: string(b.Field(0, n)), Size: b.Len()}
}

func hasTag(b *Buffer, tag string) bool {
	return b.Len() >= len(tag) && string(b.Field(0, len(tag))) == tag
}
