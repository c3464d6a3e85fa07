package protocol

import (
	"crypto/sha256"
	"strings"
)

// LoginPacket (RPTL) starts a peer login
type LoginPacket struct {
	PeerID uint32
}

// DecodeLogin decodes an RPTL packet
func DecodeLogin(b *Buffer) *LoginPacket {
	return &LoginPacket{PeerID: b.PeerID(4)}
}

// Encode encodes the RPTL packet
func (p *LoginPacket) Encode() []byte {
	data := make([]byte, RPTLPacketSize)
	copy(data[0:4], PacketTypeRPTL)
	PutPeerID(data[4:], p.PeerID)
	return data
}

// AckPacket (RPTACK) acknowledges a handshake step. The acknowledgement of a
// login request also carries the 4-byte challenge the peer must hash.
type AckPacket struct {
	PeerID uint32
	Salt   []byte // nil unless the ack carries a challenge
}

// DecodeAck decodes an RPTACK packet. Salt is read from its fixed offset
// whenever the datagram is long enough to hold one.
func DecodeAck(b *Buffer) *AckPacket {
	p := &AckPacket{PeerID: b.PeerID(SaltOffset)}
	if b.Len() >= RPTACKSaltSize {
		p.Salt = append([]byte(nil), b.Field(SaltOffset+PeerIDLength, RPTACKSaltSize)...)
	}
	return p
}

// Challenge returns the salt carried by the ack. A master answers the login
// request with the salt in bytes 6..10, so this falls back to those bytes when
// no trailing salt is present.
func (p *AckPacket) Challenge() []byte {
	if len(p.Salt) == SaltLength {
		return p.Salt
	}
	salt := make([]byte, SaltLength)
	PutPeerID(salt, p.PeerID)
	return salt
}

// Encode encodes the RPTACK packet
func (p *AckPacket) Encode() []byte {
	size := RPTACKPacketSize
	if len(p.Salt) > 0 {
		size = RPTACKSaltSize
	}
	data := make([]byte, size)
	copy(data[0:6], PacketTypeRPTACK)
	PutPeerID(data[SaltOffset:], p.PeerID)
	if len(p.Salt) > 0 {
		copy(data[SaltOffset+PeerIDLength:], p.Salt)
	}
	return data
}

// ChallengeResponsePacket (RPTK) carries sha256(salt || passphrase)
type ChallengeResponsePacket struct {
	PeerID uint32
	Hash   [ChallengeHashSize]byte
}

// DecodeChallengeResponse decodes an RPTK packet
func DecodeChallengeResponse(b *Buffer) *ChallengeResponsePacket {
	p := &ChallengeResponsePacket{PeerID: b.PeerID(4)}
	copy(p.Hash[:], b.Field(8, RPTKPacketSize))
	return p
}

// Encode encodes the RPTK packet
func (p *ChallengeResponsePacket) Encode() []byte {
	data := make([]byte, RPTKPacketSize)
	copy(data[0:4], PacketTypeRPTK)
	PutPeerID(data[4:], p.PeerID)
	copy(data[8:], p.Hash[:])
	return data
}

// ChallengeHash computes the keyed login hash for a salt and shared secret
func ChallengeHash(salt []byte, secret string) [ChallengeHashSize]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	var sum [ChallengeHashSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// InfoPacket (RPTC) describes a repeater. All text fields are fixed width and
// space padded on the wire.
type InfoPacket struct {
	PeerID      uint32
	Callsign    string
	RXFreq      string
	TXFreq      string
	TXPower     string
	ColorCode   string
	Latitude    string
	Longitude   string
	Height      string
	Location    string
	Description string
	Slots       string // duplex / slots code, one ASCII digit
	URL         string
	SoftwareID  string
	PackageID   string
}

type infoField struct {
	start, end int
	get        func(*InfoPacket) *string
}

// infoLayout lists every RPTC text field with its byte range
var infoLayout = []infoField{
	{8, 16, func(p *InfoPacket) *string { return &p.Callsign }},
	{16, 25, func(p *InfoPacket) *string { return &p.RXFreq }},
	{25, 34, func(p *InfoPacket) *string { return &p.TXFreq }},
	{34, 36, func(p *InfoPacket) *string { return &p.TXPower }},
	{36, 38, func(p *InfoPacket) *string { return &p.ColorCode }},
	{38, 46, func(p *InfoPacket) *string { return &p.Latitude }},
	{46, 55, func(p *InfoPacket) *string { return &p.Longitude }},
	{55, 58, func(p *InfoPacket) *string { return &p.Height }},
	{58, 78, func(p *InfoPacket) *string { return &p.Location }},
	{78, 97, func(p *InfoPacket) *string { return &p.Description }},
	{97, 98, func(p *InfoPacket) *string { return &p.Slots }},
	{98, 222, func(p *InfoPacket) *string { return &p.URL }},
	{222, 262, func(p *InfoPacket) *string { return &p.SoftwareID }},
	{262, 302, func(p *InfoPacket) *string { return &p.PackageID }},
}

// DecodeInfo decodes an RPTC packet
func DecodeInfo(b *Buffer) *InfoPacket {
	p := &InfoPacket{PeerID: b.PeerID(4)}
	for _, f := range infoLayout {
		*f.get(p) = strings.TrimRight(string(b.Field(f.start, f.end)), " \x00")
	}
	return p
}

// Encode encodes the RPTC packet with space padded fields
func (p *InfoPacket) Encode() []byte {
	data := make([]byte, RPTCPacketSize)
	copy(data[0:4], PacketTypeRPTC)
	PutPeerID(data[4:], p.PeerID)
	for _, f := range infoLayout {
		padField(data[f.start:f.end], *f.get(p))
	}
	return data
}

// Duplex returns the numeric slots code, or 0 when it is not a digit
func (p *InfoPacket) Duplex() byte {
	if len(p.Slots) == 0 || p.Slots[0] < '0' || p.Slots[0] > '9' {
		return 0
	}
	return p.Slots[0] - '0'
}

func padField(dst []byte, src string) {
	for i := range dst {
		if i < len(src) {
			dst[i] = src[i]
		} else {
			dst[i] = ' '
		}
	}
}

// OptionsPacket (RPTO) carries a key=value; list
type OptionsPacket struct {
	PeerID  uint32
	Options string
}

// DecodeOptions decodes an RPTO packet
func DecodeOptions(b *Buffer) *OptionsPacket {
	p := &OptionsPacket{PeerID: b.PeerID(4)}
	if b.Len() > RPTOHeaderSize {
		p.Options = strings.TrimRight(string(b.Field(RPTOHeaderSize, b.Len())), " \x00")
	}
	return p
}

// Encode encodes the RPTO packet
func (p *OptionsPacket) Encode() []byte {
	opts := p.Options
	if len(opts) > MaxOptionsLength {
		opts = opts[:MaxOptionsLength]
	}
	data := make([]byte, RPTOHeaderSize+len(opts))
	copy(data[0:4], PacketTypeRPTO)
	PutPeerID(data[4:], p.PeerID)
	copy(data[RPTOHeaderSize:], opts)
	return data
}

// PingPacket (RPTPING) is a peer keepalive
type PingPacket struct {
	PeerID uint32
}

// DecodePing decodes an RPTPING packet
func DecodePing(b *Buffer) *PingPacket {
	return &PingPacket{PeerID: b.PeerID(7)}
}

// Encode encodes the RPTPING packet
func (p *PingPacket) Encode() []byte {
	data := make([]byte, RPTPINGPacketSize)
	copy(data[0:7], PacketTypeRPTPING)
	PutPeerID(data[7:], p.PeerID)
	return data
}

// PongPacket (MSTPONG) answers a keepalive
type PongPacket struct {
	PeerID uint32
}

// DecodePong decodes an MSTPONG packet
func DecodePong(b *Buffer) *PongPacket {
	return &PongPacket{PeerID: b.PeerID(7)}
}

// Encode encodes the MSTPONG packet
func (p *PongPacket) Encode() []byte {
	data := make([]byte, MSTPONGPacketSize)
	copy(data[0:7], PacketTypeMSTPONG)
	PutPeerID(data[7:], p.PeerID)
	return data
}

// NakPacket (MSTNAK) refuses a handshake step or an unknown peer
type NakPacket struct {
	PeerID uint32
}

// DecodeNak decodes an MSTNAK packet
func DecodeNak(b *Buffer) *NakPacket {
	return &NakPacket{PeerID: b.PeerID(6)}
}

// Encode encodes the MSTNAK packet
func (p *NakPacket) Encode() []byte {
	data := make([]byte, MSTNAKPacketSize)
	copy(data[0:6], PacketTypeMSTNAK)
	PutPeerID(data[6:], p.PeerID)
	return data
}

// PeerClosePacket (RPTCL) is sent by a peer that is going away
type PeerClosePacket struct {
	PeerID uint32
}

// DecodePeerClose decodes an RPTCL packet
func DecodePeerClose(b *Buffer) *PeerClosePacket {
	return &PeerClosePacket{PeerID: b.PeerID(5)}
}

// Encode encodes the RPTCL packet
func (p *PeerClosePacket) Encode() []byte {
	data := make([]byte, RPTCLPacketSize)
	copy(data[0:5], PacketTypeRPTCL)
	PutPeerID(data[5:], p.PeerID)
	return data
}

// MasterClosePacket (MSTCL) is sent by a master dropping the link
type MasterClosePacket struct {
	PeerID uint32
}

// DecodeMasterClose decodes an MSTCL packet
func DecodeMasterClose(b *Buffer) *MasterClosePacket {
	return &MasterClosePacket{PeerID: b.PeerID(5)}
}

// Encode encodes the MSTCL packet
func (p *MasterClosePacket) Encode() []byte {
	data := make([]byte, MSTCLPacketSize)
	copy(data[0:5], PacketTypeMSTCL)
	PutPeerID(data[5:], p.PeerID)
	return data
}
