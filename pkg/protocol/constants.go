package protocol

// Packet type identifiers (4-7 byte ASCII strings)
const (
	PacketTypeDMRD    = "DMRD"
	PacketTypeRPTL    = "RPTL"
	PacketTypeRPTK    = "RPTK"
	PacketTypeRPTC    = "RPTC"
	PacketTypeRPTO    = "RPTO" // OPTIONS packet
	PacketTypeRPTCL   = "RPTCL"
	PacketTypeRPTACK  = "RPTACK"
	PacketTypeRPTPING = "RPTPING"
	PacketTypeMSTPONG = "MSTPONG"
	PacketTypeMSTNAK  = "MSTNAK"
	PacketTypeMSTCL   = "MSTCL"
)

// Packet size constants (in bytes)
const (
	DMRDPacketSize     = 55  // DMRD header + 33 byte payload + BER + RSSI
	RPTLPacketSize     = 8   // Login request (RPTL + 4 byte repeater ID)
	RPTKPacketSize     = 40  // Challenge response (RPTK + 4 byte repeater ID + 32 byte hash)
	RPTCPacketSize     = 302 // Repeater info packet
	RPTOHeaderSize     = 8   // RPTO + 4 byte repeater ID, followed by the options text
	RPTCLPacketSize    = 9   // Close from peer (RPTCL + 4 byte repeater ID)
	RPTACKPacketSize   = 10  // Acknowledgement (RPTACK + 4 byte repeater ID)
	RPTACKSaltSize     = 14  // Login acknowledgement carrying the 4 byte challenge
	RPTPINGPacketSize  = 11  // Ping from peer (RPTPING + 4 byte repeater ID)
	MSTPONGPacketSize  = 11  // Pong from master (MSTPONG + 4 byte repeater ID)
	MSTNAKPacketSize   = 10  // Negative acknowledgement (MSTNAK + 4 byte repeater ID)
	MSTCLPacketSize    = 9   // Close from master (MSTCL + 4 byte repeater ID)
	MaxOptionsLength   = BufferSize - RPTOHeaderSize
	ChallengeHashSize  = 32
	DMRDPayloadSize    = 33
	DMRDPayloadTrailer = 2 // BER + RSSI
)

// Control byte (byte 15) bit masks.
//
// The signalling mask overlaps the frame type and data type fields: a data
// sync frame (frame type 2) carrying data type 3 has the same bit pattern as
// the signalling test. Both interpretations are kept so frames from existing
// peers classify the same way they always have.
const (
	ControlTimeslotMask   = 0x80 // Bit 7: Timeslot (0=TS1, 1=TS2)
	ControlCallTypeMask   = 0x40 // Bit 6: Call type (0=group, 1=unit)
	ControlFrameTypeMask  = 0x30 // Bits 4-5: Frame type
	ControlDataTypeMask   = 0x0F // Bits 0-3: Data type / voice sequence
	ControlSignallingMask = 0x23
	controlFrameTypeShift = 4
)

// Frame types (bits 4-5 of the control byte)
const (
	FrameTypeVoice     = 0x00
	FrameTypeVoiceSync = 0x01
	FrameTypeDataSync  = 0x02
)

// Data types carried in a data sync frame
const (
	DataTypeVoiceHeader     = 0x01
	DataTypeVoiceTerminator = 0x02
)

// DMRD packet field offsets
const (
	DMRDOffsetSignature = 0  // 4 bytes: "DMRD"
	DMRDOffsetSeq       = 4  // 1 byte: Sequence number
	DMRDOffsetSrcID     = 5  // 3 bytes: Source subscriber ID
	DMRDOffsetDstID     = 8  // 3 bytes: Destination ID (talkgroup or subscriber)
	DMRDOffsetRptID     = 11 // 4 bytes: Repeater/Peer ID
	DMRDOffsetControl   = 15 // 1 byte: Slot/Call type bits
	DMRDOffsetStreamID  = 16 // 4 bytes: Stream ID
	DMRDOffsetPayload   = 20 // 33 bytes: Voice/Data payload
	DMRDOffsetBER       = 53
	DMRDOffsetRSSI      = 54
)

// Login handshake constants
const (
	SaltLength     = 4 // Challenge bytes carried in the login acknowledgement
	SaltOffset     = 6 // Offset of the challenge inside RPTACK
	PeerIDLength   = 4
	MaxID24Bit     = 0xFFFFFF
	DuplexBothSlot = 4 // RPTC slots code requiring both timeslots locked together
)

// Timeslot values
const (
	Timeslot1 = 1
	Timeslot2 = 2
)

// Call type values
const (
	CallTypeGroup = 0 // Group/talkgroup call
	CallTypeUnit  = 1 // Unit-to-unit call
)
