// Package protocol defines the addressing, peer and wire-frame types shared
// by the link core and the radio drivers.
package protocol

import (
	"fmt"
	"net"
)

// HardwareAddr is the 6-byte identifier of a radio interface. It is both the
// key into the peer directory and the on-wire source/destination value.
// Equality is byte-wise; no internal structure is interpreted.
type HardwareAddr [6]byte

// Broadcast is the destination meaning "every currently registered peer".
// Fan-out happens below the link core, inside the radio.
var Broadcast = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsZero reports whether the address is all zeroes. The zero address is
// never a valid peer or destination.
func (a HardwareAddr) IsZero() bool { return a == HardwareAddr{} }

// IsBroadcast reports whether the address is the broadcast destination.
func (a HardwareAddr) IsBroadcast() bool { return a == Broadcast }

// String returns the address in the usual aa:bb:cc:dd:ee:ff form.
func (a HardwareAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseHardwareAddr parses a 6-byte address in any form accepted by
// net.ParseMAC (colon, dash or dot separated). Longer EUI-64 or InfiniBand
// addresses are rejected.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return HardwareAddr{}, fmt.Errorf("invalid hardware address %q: %w", s, err)
	}
	if len(mac) != 6 {
		return HardwareAddr{}, fmt.Errorf("invalid hardware address %q: want 6 bytes, got %d", s, len(mac))
	}
	var a HardwareAddr
	copy(a[:], mac)
	return a, nil
}
