package link

import "errors"

// Sentinel errors returned by the link core itself. Anything else is a radio
// failure surfaced verbatim from the driver.
var (
	ErrInvalidAddress = errors.New("link: invalid hardware address")
	ErrInvalidPayload = errors.New("link: payload is empty or exceeds the size limit")
	ErrTooManyPeers   = errors.New("link: peer table is full")
	ErrNotInitialized = errors.New("link: not initialized")
)
