// Package pipeline sequences the protocol, cipher, and obfs stages of
// a single tunnel's traffic, in the order spec §4.2 fixes: protocol →
// cipher → obfs on egress, the inverse on ingress.
package pipeline

import (
	"crypto/rand"
	"errors"
	"fmt"

	"ssrtun/internal/cipherenv"
	"ssrtun/internal/obfs"
	"ssrtun/internal/pluginapi"
	"ssrtun/internal/protocol"
)

// Stage sentinels let a caller classify a pipeline failure (via
// errors.Is) without string-matching the wrapped error text. They
// mirror spec.md §7's error taxonomy: invalid_password is a cipher
// stage failure, client_decode is an obfs decode failure,
// client_post_decrypt is a protocol post-decrypt failure.
var (
	ErrCipherStage    = errors.New("pipeline: cipher stage")
	ErrObfsDecode     = errors.New("pipeline: obfs decode")
	ErrProtocolDecode = errors.New("pipeline: protocol post-decrypt")
)

// Pipeline holds everything a tunnel needs to transform a plaintext
// chunk into wire bytes and back, per tunnel (spec §4.2: "cipher env
// reference, protocol plugin + instance, obfs plugin + instance,
// encrypt context, decrypt context").
type Pipeline struct {
	cipherEnv *cipherenv.Env
	proto     protocol.Plugin
	obfsPlug  obfs.Plugin
	protoInfo *pluginapi.ServerInfo
	obfsInfo  *pluginapi.ServerInfo

	encCipher cipherenv.StreamCipher
	decCipher cipherenv.StreamCipher
	decIVBuf  []byte

	// iv is the stream cipher IV this tunnel was constructed with. It
	// is the same value baked into protoInfo.IV, since auth_aes128's
	// preamble HMACs over iv||server_key and must agree with the IV
	// actually prepended to the wire ciphertext.
	iv []byte
}

// New constructs a Pipeline and binds each plugin instance to its own
// ServerInfo (spec §4.2: protocol and obfs are independently
// parameterized), filling in Overhead on both from their combined
// GetOverhead(). The stream cipher IV is taken from protoInfo.IV when
// it is already sized correctly, falling back to a freshly generated
// one otherwise.
func New(cipherEnv *cipherenv.Env, proto protocol.Plugin, protoInfo *pluginapi.ServerInfo, obfsPlug obfs.Plugin, obfsInfo *pluginapi.ServerInfo) *Pipeline {
	overhead := proto.GetOverhead() + obfsPlug.GetOverhead()
	protoInfo.Overhead = overhead
	obfsInfo.Overhead = overhead
	proto.SetServerInfo(protoInfo)
	obfsPlug.SetServerInfo(obfsInfo)

	iv := protoInfo.IV
	if len(iv) != cipherEnv.IVLen {
		iv = nil
	}

	return &Pipeline{
		cipherEnv: cipherEnv,
		proto:     proto,
		obfsPlug:  obfsPlug,
		protoInfo: protoInfo,
		obfsInfo:  obfsInfo,
		iv:        iv,
	}
}

// Encrypt runs the egress pipeline: protocol.client_pre_encrypt → SS
// stream cipher → obfs.client_encode.
func (p *Pipeline) Encrypt(data []byte) ([]byte, error) {
	b, err := p.proto.ClientPreEncrypt(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline: protocol pre-encrypt: %w", err)
	}

	if p.encCipher == nil {
		iv := p.iv
		if iv == nil {
			iv = make([]byte, p.cipherEnv.IVLen)
			if len(iv) > 0 {
				if _, err := rand.Read(iv); err != nil {
					return nil, fmt.Errorf("pipeline: iv generation: %w", err)
				}
			}
			p.iv = iv
		}
		enc, err := p.cipherEnv.NewEncrypter(iv)
		if err != nil {
			return nil, fmt.Errorf("pipeline: new encrypter: %w: %w", ErrCipherStage, err)
		}
		p.encCipher = enc
		ciphertext := make([]byte, len(b))
		p.encCipher.XORKeyStream(ciphertext, b)
		b = append(iv, ciphertext...)
	} else {
		ciphertext := make([]byte, len(b))
		p.encCipher.XORKeyStream(ciphertext, b)
		b = ciphertext
	}

	b, err = p.obfsPlug.ClientEncode(b)
	if err != nil {
		return nil, fmt.Errorf("pipeline: obfs encode: %w", err)
	}
	return b, nil
}

// Decrypt runs the ingress pipeline: obfs.client_decode → SS stream
// cipher → protocol.client_post_decrypt. feedback is non-nil when the
// obfs layer requested a feedback write (spec §4.2's need_sendback).
func (p *Pipeline) Decrypt(data []byte) (plaintext []byte, feedback []byte, err error) {
	decoded, needSendback, err := p.obfsPlug.ClientDecode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: obfs decode: %w: %w", ErrObfsDecode, err)
	}
	if needSendback {
		feedback, err = p.obfsPlug.ClientEncode(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: obfs feedback encode: %w", err)
		}
	}
	if len(decoded) == 0 {
		return nil, feedback, nil
	}

	if p.decCipher == nil {
		p.decIVBuf = append(p.decIVBuf, decoded...)
		if len(p.decIVBuf) < p.cipherEnv.IVLen {
			return nil, feedback, nil
		}
		iv := p.decIVBuf[:p.cipherEnv.IVLen]
		rest := p.decIVBuf[p.cipherEnv.IVLen:]
		dec, err := p.cipherEnv.NewDecrypter(iv)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: new decrypter: %w: %w", ErrCipherStage, err)
		}
		p.decCipher = dec
		p.decIVBuf = nil
		decoded = rest
	}

	plain := make([]byte, len(decoded))
	p.decCipher.XORKeyStream(plain, decoded)

	out, err := p.proto.ClientPostDecrypt(plain)
	if err != nil {
		return nil, feedback, fmt.Errorf("pipeline: protocol post-decrypt: %w: %w", ErrProtocolDecode, err)
	}
	return out, feedback, nil
}

// HeadLen records the Shadowsocks address header length derived from
// the first plaintext chunk sent upstream (the init package) into both
// ServerInfos (spec §4.2).
func (p *Pipeline) HeadLen(firstChunk []byte) {
	headLen := pluginapi.ParseHeadLen(firstChunk)
	p.protoInfo.HeadLen = headLen
	p.obfsInfo.HeadLen = headLen
}
