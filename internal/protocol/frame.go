package protocol

// Frame kind constants.
const (
	FrameData uint8 = 0x01 // datagram payload
	FrameAck  uint8 = 0x02 // link-layer acknowledgment for a DATA frame
)

// HeaderSize is the fixed frame header size:
// Kind(1) + Seq(4) + Src(6) + Dst(6).
const HeaderSize = 17

// Frame is the unit drivers put on an emulated air interface. The link core
// never sees frames — payload bytes pass through it unmodified — but drivers
// that carry datagrams over IP need a source, a destination and a sequence
// number to match acknowledgments against.
type Frame struct {
	Kind    uint8
	Seq     uint32 // matches an ACK to its DATA frame; driver-local
	Src     HardwareAddr
	Dst     HardwareAddr
	Payload []byte // only used for FrameData
}
