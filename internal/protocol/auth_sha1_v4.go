package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"ssrtun/internal/buffer"
	"ssrtun/internal/pluginapi"
)

func init() {
	Register("auth_sha1_v4",
		func() Plugin { return newAuthSha1V4() },
		nil)
}

const (
	authSha1V4UnitLen    = 2000
	authSha1V4RecvBufCap = 16384
	authSha1V4MaxFrame   = 8192
)

// authSha1V4Plugin implements the legacy auth_sha1_v4 variant
// supplementing the fully-specified auth_aes128 family: same outer
// shape (length | padding | payload | integrity) but a lighter-weight
// per-connection preamble and a single HMAC-SHA1 tag truncated to 4
// bytes instead of the two-tag auth_aes128 framing.
type authSha1V4Plugin struct {
	info *pluginapi.ServerInfo

	hasSentHeader bool
	recvBuffer    *buffer.Buffer
	lastDataLen   int

	salt       []byte
	derivedKey []byte
	randSource func([]byte)
	rng        *xorshift128plus
}

func newAuthSha1V4() *authSha1V4Plugin {
	return &authSha1V4Plugin{
		rng:        newXorshift128plus(),
		randSource: func(b []byte) { rand.Read(b) },
		recvBuffer: buffer.New(authSha1V4RecvBufCap),
	}
}

func (p *authSha1V4Plugin) SetServerInfo(info *pluginapi.ServerInfo) { p.info = info }

func (p *authSha1V4Plugin) GetOverhead() int { return 7 }

func (p *authSha1V4Plugin) tag(key, msg []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func (p *authSha1V4Plugin) key() []byte {
	if p.derivedKey != nil {
		return p.derivedKey
	}
	return p.info.Key
}

func getRandLenV4(n int, rng *xorshift128plus) int {
	r := uint32(rng.Next())
	switch {
	case n > 1200:
		return int(r & 0x3F)
	case n > 400:
		return int(r & 0xFF)
	default:
		return int(r & 0x1FF)
	}
}

// pack writes a regular auth_sha1_v4 frame: size(2) | padLen(1) |
// padding | payload | hmac-sha1-4(4).
func (p *authSha1V4Plugin) pack(payload []byte) []byte {
	padLen := getRandLenV4(len(payload), p.rng)
	if padLen > 255 {
		padLen = 255
	}
	n := len(payload)
	outSize := 2 + 1 + padLen + n + 4

	out := make([]byte, outSize)
	binary.LittleEndian.PutUint16(out[0:2], uint16(outSize))
	out[2] = byte(padLen)
	p.randSource(out[3 : 3+padLen])
	copy(out[3+padLen:], payload)

	mac := p.tag(p.key(), out[:outSize-4])
	copy(out[outSize-4:], mac[:4])
	return out
}

// derivePreambleKey folds a random per-connection salt into the
// server key (HMAC-SHA1 keyed with serverKey over salt, truncated to
// 16 bytes), the
// "CRC32-keyed salt+key prefix" idiom generalized to HMAC-SHA1 for
// this variant.
func derivePreambleKey(serverKey, salt []byte) []byte {
	h := hmac.New(sha1.New, serverKey)
	h.Write(salt)
	sum := h.Sum(nil)
	return sum[:16]
}

// ClientPreEncrypt sends a random 4-byte salt ahead of the first
// frame (uncovered by any tag, mirroring the legacy preamble's bare
// salt prefix) and derives the per-connection key from it; every
// frame after the first uses the regular pack() layout.
func (p *authSha1V4Plugin) ClientPreEncrypt(data []byte) ([]byte, error) {
	var out []byte

	if !p.hasSentHeader {
		p.salt = make([]byte, 4)
		p.randSource(p.salt)
		p.derivedKey = derivePreambleKey(p.info.Key, p.salt)
		out = append(out, p.salt...)
		p.hasSentHeader = true
	}

	for len(data) > authSha1V4UnitLen {
		out = append(out, p.pack(data[:authSha1V4UnitLen])...)
		data = data[authSha1V4UnitLen:]
	}
	if len(data) > 0 {
		out = append(out, p.pack(data)...)
	}

	p.lastDataLen = len(data)
	return out, nil
}

// ClientPostDecrypt implements the same streaming-reassembly shape as
// auth_aes128 (spec §4.4) over a single HMAC-SHA1-4 tag per frame.
func (p *authSha1V4Plugin) ClientPostDecrypt(data []byte) ([]byte, error) {
	if p.recvBuffer.Len()+len(data) > authSha1V4RecvBufCap {
		p.recvBuffer.Reset()
		return nil, fmt.Errorf("%w: recv buffer overflow", ErrFatalFraming)
	}
	p.recvBuffer.Append(data)

	var out []byte
	for {
		buf := p.recvBuffer.Bytes()
		if len(buf) < 3 {
			break
		}
		length := int(binary.LittleEndian.Uint16(buf[0:2]))
		if length < 7 || length >= authSha1V4MaxFrame {
			p.recvBuffer.Reset()
			return nil, fmt.Errorf("%w: invalid length %d", ErrFatalFraming, length)
		}
		if length > len(buf) {
			break
		}

		mac := p.tag(p.key(), buf[:length-4])
		if !hmac.Equal(mac[:4], buf[length-4:length]) {
			p.recvBuffer.Reset()
			return nil, fmt.Errorf("%w: frame hmac mismatch", ErrFatalFraming)
		}

		padLen := int(buf[2])
		payloadStart := 3 + padLen
		out = append(out, buf[payloadStart:length-4]...)
		p.recvBuffer.TrimLeft(length)
	}

	return out, nil
}
