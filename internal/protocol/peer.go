package protocol

// Radio limits, shared by every driver.
const (
	// MaxPeers is the most peers a station can register at once.
	MaxPeers = 20

	// MaxPayload is the largest datagram payload in bytes. Newer radio
	// revisions carry more, but 250 is the lowest common denominator and
	// anything larger would be truncated by older stations.
	MaxPayload = 250
)

// Peer describes one registered send destination. Channel 0 means "use the
// radio's current channel". Channel and Encrypt are carried for forward
// compatibility; the core never sets them.
type Peer struct {
	Addr    HardwareAddr
	Channel uint8
	Encrypt bool
}

// SendStatus is the link-layer outcome of one send attempt.
type SendStatus uint8

const (
	// SendSuccess means the frame was acknowledged at the link layer. It
	// says nothing about whether the receiving application processed it.
	SendSuccess SendStatus = iota

	// SendFail means no acknowledgment arrived within the radio's retry
	// budget — the peer is unreachable, out of range or powered off.
	SendFail
)

func (s SendStatus) String() string {
	if s == SendSuccess {
		return "SUCCESS"
	}
	return "FAIL"
}
