// Package pluginapi holds the types shared between the protocol and
// obfs plugin contracts, avoiding a dependency cycle between them.
package pluginapi

// ServerInfo is handed to every protocol/obfs plugin instance at
// tunnel-cipher construction time (spec §4.2).
type ServerInfo struct {
	Host string
	Port uint16

	IV  []byte
	Key []byte

	Param string

	// GData is plugin-global state shared across all tunnel instances
	// of the same plugin (spec §3 protocol_global/obfs_global), e.g.
	// the auth_aes128 family's LocalClientID/ConnectionID counters.
	GData interface{}

	TCPMss     int
	BufferSize int

	// Overhead is protocol.GetOverhead() + obfs.GetOverhead(), filled
	// in by the pipeline after both plugin instances are constructed.
	Overhead int
	// HeadLen is derived from the first packet's Shadowsocks address
	// header length (spec §4.2), filled in by the pipeline once the
	// first chunk is available.
	HeadLen int
}

// DefaultTCPMss and DefaultBufferSize are the spec-mandated constants.
const (
	DefaultTCPMss     = 1452
	DefaultBufferSize = 16384 // SSR_BUFF_SIZE
)

// NewServerInfo returns a ServerInfo with the spec's fixed defaults
// populated.
func NewServerInfo(host string, port uint16, iv, key []byte, param string) *ServerInfo {
	return &ServerInfo{
		Host:       host,
		Port:       port,
		IV:         append([]byte(nil), iv...),
		Key:        append([]byte(nil), key...),
		Param:      param,
		TCPMss:     DefaultTCPMss,
		BufferSize: DefaultBufferSize,
	}
}
