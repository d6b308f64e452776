// Package config loads the station profile: the station's name, its known
// peers and its heartbeat cadence. The profile replaces per-device
// persistent settings storage — edit the YAML instead of reflashing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nowmesh/nowlink/internal/protocol"
)

// DefaultHeartbeat is used when the profile does not set one.
const DefaultHeartbeat = 10 * time.Second

// Station is the top-level profile structure.
type Station struct {
	Name      string   `yaml:"name"`
	Peers     []string `yaml:"peers"`     // hardware addresses, aa:bb:cc:dd:ee:ff
	Heartbeat Duration `yaml:"heartbeat"` // e.g. "10s"; 0 disables the heartbeat
}

// Duration wraps time.Duration so profiles can say "10s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(v)
	return nil
}

// Default returns the profile used when no file is given.
func Default() *Station {
	return &Station{
		Name:      "station",
		Heartbeat: Duration(DefaultHeartbeat),
	}
}

// Load reads and validates a profile. Missing fields fall back to the
// defaults; a peer list longer than the radio's table or a malformed
// address is rejected here rather than at runtime.
func Load(path string) (*Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return s, nil
}

func (s *Station) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(s.Peers) > protocol.MaxPeers {
		return fmt.Errorf("%d peers listed, the radio holds at most %d", len(s.Peers), protocol.MaxPeers)
	}
	if _, err := s.PeerAddrs(); err != nil {
		return err
	}
	return nil
}

// PeerAddrs parses the configured peer list.
func (s *Station) PeerAddrs() ([]protocol.HardwareAddr, error) {
	addrs := make([]protocol.HardwareAddr, 0, len(s.Peers))
	for _, raw := range s.Peers {
		addr, err := protocol.ParseHardwareAddr(raw)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
