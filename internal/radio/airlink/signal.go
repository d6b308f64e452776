package airlink

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/util"
)

// Signaling: a short-lived, PIN-gated WebSocket over which the two stations
// exchange SDP, trickle ICE candidates and announce their hardware
// addresses. The socket is closed as soon as the DataChannel opens.

const (
	msgTypeHello     = "hello"
	msgTypeOffer     = "offer"
	msgTypeAnswer    = "answer"
	msgTypeCandidate = "candidate"
)

// signalMessage is the JSON structure exchanged during signaling.
type signalMessage struct {
	Type      string `json:"type"`
	Addr      string `json:"addr,omitempty"`      // hello: station hardware address
	SDP       string `json:"sdp,omitempty"`       // offer / answer
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the hosting station's WebSocket endpoint during signaling.
type server struct {
	pin      string
	listener net.Listener
	connCh   chan *websocket.Conn
}

func newServer(pin string) *server {
	return &server{
		pin:    pin,
		connCh: make(chan *websocket.Conn, 1),
	}
}

// start begins listening on a random port. Returns the assigned port number.
func (s *server) start() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to start signaling server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first station.
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already paired"))
		conn.Close()
	}
}

// waitForStation blocks until a station connects or the context is cancelled.
func (s *server) waitForStation(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *server) close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// dialSignaling connects to a hosting station's signaling endpoint. The URL
// carries the PIN as a query parameter, e.g. wss://example/ws?pin=1234.
func dialSignaling(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return conn, nil
}

// generatePIN returns a random numeric PIN of the specified length.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}

// exchange performs the full signaling conversation on one side: announce
// our hardware address, exchange SDP (the offerer speaks first) and trickle
// ICE candidates, then block until the DataChannel opens. It returns the
// remote station's hardware address.
func exchange(ctx context.Context, wsConn *websocket.Conn, pc *webrtc.PeerConnection,
	local protocol.HardwareAddr, offerer bool, ready <-chan struct{}) (protocol.HardwareAddr, error) {

	var wsMu sync.Mutex
	wsSend := func(msg signalMessage) {
		wsMu.Lock()
		defer wsMu.Unlock()
		if err := wsConn.WriteJSON(msg); err != nil {
			// A write failure after ready fired just means the socket was
			// already torn down.
			select {
			case <-ready:
			default:
				util.LogWarning("signaling write failed: %v", err)
			}
		}
	}

	// Trickle ICE candidates.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		wsSend(signalMessage{Type: msgTypeCandidate, Candidate: string(data)})
	})

	// Announce our hardware address before any SDP flows.
	wsSend(signalMessage{Type: msgTypeHello, Addr: local.String()})

	if offerer {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return protocol.HardwareAddr{}, fmt.Errorf("CreateOffer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return protocol.HardwareAddr{}, fmt.Errorf("SetLocalDescription: %w", err)
		}
		wsSend(signalMessage{Type: msgTypeOffer, SDP: offer.SDP})
	}

	// Read loop: hello, SDP and ICE candidates from the remote station.
	helloCh := make(chan protocol.HardwareAddr, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			var msg signalMessage
			if err := wsConn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case msgTypeHello:
				addr, err := protocol.ParseHardwareAddr(msg.Addr)
				if err != nil {
					errCh <- fmt.Errorf("remote station announced %w", err)
					return
				}
				select {
				case helloCh <- addr:
				default:
				}

			case msgTypeOffer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
				}); err != nil {
					util.LogWarning("SetRemoteDescription failed: %v", err)
					continue
				}
				answer, err := pc.CreateAnswer(nil)
				if err != nil {
					util.LogWarning("CreateAnswer failed: %v", err)
					continue
				}
				if err := pc.SetLocalDescription(answer); err != nil {
					util.LogWarning("SetLocalDescription failed: %v", err)
					continue
				}
				wsSend(signalMessage{Type: msgTypeAnswer, SDP: answer.SDP})

			case msgTypeAnswer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
				}); err != nil {
					util.LogWarning("SetRemoteDescription failed: %v", err)
				}

			case msgTypeCandidate:
				var init webrtc.ICECandidateInit
				if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
					continue
				}
				if err := pc.AddICECandidate(init); err != nil {
					util.LogWarning("AddICECandidate failed: %v", err)
				}
			}
		}
	}()

	// The conversation is done once we know who the remote is and the
	// DataChannel is open.
	var remote protocol.HardwareAddr
	haveHello := false
	for {
		select {
		case remote = <-helloCh:
			haveHello = true
			helloCh = nil
		case <-ready:
			if haveHello {
				return remote, nil
			}
			ready = nil
		case err := <-errCh:
			// A read failure after both conditions were met would have
			// returned already; this one is fatal.
			return protocol.HardwareAddr{}, fmt.Errorf("signaling failed: %w", err)
		case <-ctx.Done():
			return protocol.HardwareAddr{}, ctx.Err()
		}
		if haveHello && ready == nil {
			return remote, nil
		}
	}
}
