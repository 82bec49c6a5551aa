package obfs

import "ssrtun/internal/pluginapi"

func init() {
	Register("plain", func() Plugin { return &plainPlugin{} }, nil)
}

// plainPlugin is the identity obfs: no traffic shaping, no overhead.
type plainPlugin struct{}

func (p *plainPlugin) SetServerInfo(*pluginapi.ServerInfo) {}
func (p *plainPlugin) GetOverhead() int                    { return 0 }

func (p *plainPlugin) ClientEncode(data []byte) ([]byte, error) {
	return data, nil
}

func (p *plainPlugin) ClientDecode(data []byte) ([]byte, bool, error) {
	return data, false, nil
}
