package protocol

// Control is the decoded form of the DMRD control byte
type Control struct {
	Timeslot   int  // 1 or 2
	CallType   int  // CallTypeGroup or CallTypeUnit
	FrameType  byte // bits 4-5
	DataType   byte // bits 0-3
	Signalling bool // group frame whose bits match ControlSignallingMask
}

// ParseControl decodes a DMRD control byte.
// Bit 7 always selects the timeslot. A unit call (0x40) is never classed as
// signalling; otherwise 0x23 set together marks a signalling frame.
func ParseControl(b byte) Control {
	c := Control{
		Timeslot:  Timeslot1,
		CallType:  CallTypeGroup,
		FrameType: (b & ControlFrameTypeMask) >> controlFrameTypeShift,
		DataType:  b & ControlDataTypeMask,
	}
	if b&ControlTimeslotMask != 0 {
		c.Timeslot = Timeslot2
	}
	if b&ControlCallTypeMask != 0 {
		c.CallType = CallTypeUnit
	} else if b&ControlSignallingMask == ControlSignallingMask {
		c.Signalling = true
	}
	return c
}

// Byte packs the control fields back into wire form
func (c Control) Byte() byte {
	var b byte
	if c.Timeslot == Timeslot2 {
		b |= ControlTimeslotMask
	}
	if c.CallType == CallTypeUnit {
		b |= ControlCallTypeMask
	}
	b |= (c.FrameType << controlFrameTypeShift) & ControlFrameTypeMask
	b |= c.DataType & ControlDataTypeMask
	return b
}

// DMRDPacket is a voice/data frame
type DMRDPacket struct {
	Sequence      byte
	SourceID      uint32 // 24-bit subscriber id
	DestinationID uint32 // 24-bit talkgroup or subscriber id
	RepeaterID    uint32
	Control
	StreamID uint32
	Payload  [DMRDPayloadSize]byte
	BER      byte
	RSSI     byte
}

// DecodeDMRD reads a DMRD frame from a fixed buffer. It never fails.
func DecodeDMRD(b *Buffer) *DMRDPacket {
	p := &DMRDPacket{
		Sequence:      b.Byte(DMRDOffsetSeq),
		SourceID:      uint24(b.Field(DMRDOffsetSrcID, DMRDOffsetDstID)),
		DestinationID: uint24(b.Field(DMRDOffsetDstID, DMRDOffsetRptID)),
		RepeaterID:    b.PeerID(DMRDOffsetRptID),
		Control:       ParseControl(b.Byte(DMRDOffsetControl)),
		StreamID:      b.PeerID(DMRDOffsetStreamID),
		BER:           b.Byte(DMRDOffsetBER),
		RSSI:          b.Byte(DMRDOffsetRSSI),
	}
	copy(p.Payload[:], b.Field(DMRDOffsetPayload, DMRDOffsetBER))
	return p
}

// Encode writes the frame into a new 55-byte buffer
func (p *DMRDPacket) Encode() []byte {
	data := make([]byte, DMRDPacketSize)
	copy(data[0:4], PacketTypeDMRD)
	data[DMRDOffsetSeq] = p.Sequence
	putUint24(data[DMRDOffsetSrcID:], p.SourceID)
	putUint24(data[DMRDOffsetDstID:], p.DestinationID)
	PutPeerID(data[DMRDOffsetRptID:], p.RepeaterID)
	data[DMRDOffsetControl] = p.Control.Byte()
	PutPeerID(data[DMRDOffsetStreamID:], p.StreamID)
	copy(data[DMRDOffsetPayload:DMRDOffsetBER], p.Payload[:])
	data[DMRDOffsetBER] = p.BER
	data[DMRDOffsetRSSI] = p.RSSI
	return data
}

// IsVoiceHeader reports whether the frame opens a voice call
func (p *DMRDPacket) IsVoiceHeader() bool {
	return p.FrameType == FrameTypeDataSync && p.DataType == DataTypeVoiceHeader
}

// IsTerminator reports whether the frame closes a voice call
func (p *DMRDPacket) IsTerminator() bool {
	return p.FrameType == FrameTypeDataSync && p.DataType == DataTypeVoiceTerminator
}

// RewriteRepeaterID overwrites the repeater id field of a raw DMRD frame in place
func RewriteRepeaterID(frame []byte, id uint32) {
	if len(frame) < DMRDOffsetControl {
		return
	}
	PutPeerID(frame[DMRDOffsetRptID:], id)
}
