package obfs

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"ssrtun/internal/pluginapi"
)

func init() {
	Register("http_simple", func() Plugin { return &httpSimplePlugin{} }, nil)
}

const maxHTTPHeaderSize = 8192

// httpSimplePlugin wraps the first outbound chunk in a fake HTTP GET
// request and strips a fake HTTP response header off the first
// inbound chunk, camouflaging the handshake as ordinary web traffic.
// Chunks after the first pass through unchanged in both directions.
type httpSimplePlugin struct {
	info *pluginapi.ServerInfo

	hasSentHeader bool
	hasRecvHeader bool
	headerBuf     []byte
}

func (p *httpSimplePlugin) SetServerInfo(info *pluginapi.ServerInfo) { p.info = info }

func (p *httpSimplePlugin) GetOverhead() int { return 0 }

func (p *httpSimplePlugin) ClientEncode(data []byte) ([]byte, error) {
	if p.hasSentHeader {
		return data, nil
	}
	p.hasSentHeader = true

	host := p.info.Host
	if p.info.Param != "" {
		host = p.info.Param
	}

	var path [8]byte
	rand.Read(path[:])

	req := fmt.Sprintf(
		"GET /%s HTTP/1.1\r\nHost: %s\r\nUser-Agent: Mozilla/5.0\r\nAccept: */*\r\nConnection: Keep-Alive\r\n\r\n",
		hex.EncodeToString(path[:]), host,
	)
	return append([]byte(req), data...), nil
}

func (p *httpSimplePlugin) ClientDecode(data []byte) ([]byte, bool, error) {
	if p.hasRecvHeader {
		return data, false, nil
	}

	p.headerBuf = append(p.headerBuf, data...)
	if len(p.headerBuf) > maxHTTPHeaderSize {
		p.headerBuf = nil
		return nil, false, fmt.Errorf("obfs: http_simple header too large")
	}

	body, complete := splitHTTPHeader(p.headerBuf)
	if !complete {
		return nil, false, nil
	}

	p.hasRecvHeader = true
	p.headerBuf = nil
	return body, false, nil
}

// splitHTTPHeader reads header lines up to the blank line terminating
// an HTTP header block and returns the remaining bytes as the body.
// Returns complete=false when buf doesn't yet contain a full header.
func splitHTTPHeader(buf []byte) (body []byte, complete bool) {
	r := bufio.NewReader(bytes.NewReader(buf))
	consumed := 0
	for {
		line, err := r.ReadString('\n')
		consumed += len(line)
		if err != nil {
			return nil, false
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return buf[consumed:], true
		}
	}
}
