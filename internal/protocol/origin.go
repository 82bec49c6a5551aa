package protocol

import "ssrtun/internal/pluginapi"

func init() {
	Register("origin", func() Plugin { return &originPlugin{} }, nil)
}

// originPlugin is the identity protocol: no framing, no overhead.
type originPlugin struct{}

func (p *originPlugin) SetServerInfo(*pluginapi.ServerInfo) {}
func (p *originPlugin) GetOverhead() int                    { return 0 }

func (p *originPlugin) ClientPreEncrypt(data []byte) ([]byte, error) {
	return data, nil
}

func (p *originPlugin) ClientPostDecrypt(data []byte) ([]byte, error) {
	return data, nil
}
