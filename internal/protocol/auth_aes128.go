package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"sync"
	"time"

	"ssrtun/internal/buffer"
	"ssrtun/internal/pluginapi"
)

func nowUnixSeconds() int64 { return time.Now().Unix() }

func init() {
	Register("auth_aes128_md5",
		func() Plugin { return newAuthAes128(md5.New, 16, "auth_aes128_md5") },
		func() interface{} { return newAuthAes128Global() })
	Register("auth_aes128_sha1",
		func() Plugin { return newAuthAes128(sha1.New, 20, "auth_aes128_sha1") },
		func() interface{} { return newAuthAes128Global() })
}

const (
	authAes128UnitLen     = 2000
	authAes128RecvBufCap  = 16384
	authAes128MaxFrame    = 8192
	authAes128MaxHeadSize = 1200
)

// ErrFatalFraming is returned by ClientPostDecrypt when the received
// bytes cannot be a valid auth_aes128 frame; the tunnel must shut down.
var ErrFatalFraming = errors.New("protocol: fatal framing error")

// authAes128Global is the plugin-global state shared by every tunnel
// using this variant (spec §3 protocol_global): local_client_id and
// connection_id, mutated under mu once per tunnel, when that tunnel's
// initial auth-data chunk is packed.
type authAes128Global struct {
	mu            sync.Mutex
	localClientID [8]byte
	connectionID  uint32
}

func newAuthAes128Global() *authAes128Global {
	g := &authAes128Global{}
	rand.Read(g.localClientID[:])
	g.connectionID = randomConnectionID()
	return g
}

// next returns the client id and connection id for a newly-created
// tunnel, re-seeding both once connection_id exceeds the threshold
// (spec §3 invariant, testable property 5).
func (g *authAes128Global) next() (clientID [8]byte, connID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectionID++
	if g.connectionID > 0xFF000000 {
		rand.Read(g.localClientID[:])
		g.connectionID = randomConnectionID()
	}
	return g.localClientID, g.connectionID
}

func randomConnectionID() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:]) & 0xFFFFFF
}

// authAes128Plugin implements spec §4.4 for both the MD5 and SHA-1
// HMAC variants; the hash family and salt string are the only
// difference between "auth_aes128_md5" and "auth_aes128_sha1".
type authAes128Plugin struct {
	newHash func() hash.Hash
	hashLen int
	salt    string

	info   *pluginapi.ServerInfo
	global *authAes128Global
	rng    *xorshift128plus

	hasSentHeader bool
	recvBuffer    *buffer.Buffer
	recvID        uint32
	packID        uint32
	userKey       []byte
	uid           [4]byte
	lastDataLen   int
	unitLen       int
	chunksEmitted int // test instrumentation for property 4 (chunk count)

	// overridden by tests for reproducible golden-vector checks.
	nowUnix    func() uint32
	randSource func([]byte)
}

func newAuthAes128(newHash func() hash.Hash, hashLen int, salt string) *authAes128Plugin {
	return &authAes128Plugin{
		newHash:    newHash,
		hashLen:    hashLen,
		salt:       salt,
		rng:        newXorshift128plus(),
		packID:     1,
		recvID:     1,
		unitLen:    authAes128UnitLen,
		recvBuffer: buffer.New(authAes128RecvBufCap),
		randSource: func(b []byte) { rand.Read(b) },
	}
}

func (p *authAes128Plugin) SetServerInfo(info *pluginapi.ServerInfo) {
	p.info = info
	if g, ok := info.GData.(*authAes128Global); ok {
		p.global = g
	} else if p.global == nil {
		p.global = newAuthAes128Global()
	}
}

func (p *authAes128Plugin) GetOverhead() int { return 9 }

func (p *authAes128Plugin) hmacTag(key, msg []byte) []byte {
	mac := hmac.New(p.newHash, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// getRandLen implements spec §4.4's padding-length bucketing and
// testable property 6. It is a pure function of (n, full,
// lastDataLen, bufferSize) plus the RNG, so it can be tested directly.
func getRandLen(n, full, lastDataLen, bufferSize int, rng *xorshift128plus) int {
	if n > 1300 || lastDataLen > 1300 || full >= bufferSize {
		return 0
	}
	r := uint32(rng.Next())
	switch {
	case n > 1100:
		return int(r & 0x7F)
	case n > 900:
		return int(r & 0xFF)
	case n > 400:
		return int(r & 0x1FF)
	default:
		return int(r & 0x3FF)
	}
}

// pack implements spec §4.4's "Pack (non-initial data chunk)".
func (p *authAes128Plugin) pack(payload []byte, full int) []byte {
	randLen := getRandLen(len(payload), full, p.lastDataLen, p.info.BufferSize, p.rng) + 1
	n := len(payload)
	outSize := 4 + randLen + n + 4

	out := make([]byte, outSize)
	binary.LittleEndian.PutUint16(out[0:2], uint16(outSize))

	key := p.hmacKeyWithPackID(p.packID)
	tag1 := p.hmacTag(key, out[0:2])
	copy(out[2:4], tag1[:2])

	if randLen < 128 {
		out[4] = byte(randLen)
		p.randSource(out[5 : 4+randLen])
	} else {
		out[4] = 0xFF
		binary.LittleEndian.PutUint16(out[5:7], uint16(randLen))
		p.randSource(out[7 : 4+randLen])
	}
	copy(out[4+randLen:], payload)

	tag2 := p.hmacTag(key, out[:outSize-4])
	copy(out[outSize-4:], tag2[:4])

	p.packID++
	p.chunksEmitted++
	return out
}

func (p *authAes128Plugin) hmacKeyWithPackID(id uint32) []byte {
	key := make([]byte, len(p.userKeyOrServerKey())+4)
	n := copy(key, p.userKeyOrServerKey())
	binary.LittleEndian.PutUint32(key[n:], id)
	return key
}

func (p *authAes128Plugin) userKeyOrServerKey() []byte {
	if p.userKey != nil {
		return p.userKey
	}
	return p.info.Key
}

// packAuthData implements spec §4.4's "Pack (initial chunk, auth data)".
func (p *authAes128Plugin) packAuthData(payload []byte) []byte {
	randLen := 0
	n := len(payload)
	r := uint32(p.rng.Next())
	if n > 400 {
		randLen = int(r & 0x1FF)
	} else {
		randLen = int(r & 0x3FF)
	}
	dataOffset := randLen + 31
	outSize := dataOffset + n + 4

	out := make([]byte, outSize)
	p.randSource(out[0:1])

	p.resolveUserKey()

	now := p.currentTime()
	clientID, connID := p.global.next()
	plaintext := make([]byte, 16)
	binary.LittleEndian.PutUint32(plaintext[0:4], now)
	copy(plaintext[4:8], clientID[0:4])
	binary.LittleEndian.PutUint32(plaintext[8:12], connID)
	binary.LittleEndian.PutUint16(plaintext[12:14], uint16(outSize))
	binary.LittleEndian.PutUint16(plaintext[14:16], uint16(randLen))

	aesKey := deriveAes128Key(p.userKeyOrServerKey(), p.salt)
	encBlock := aesCBCEncryptZeroIV(aesKey, plaintext)

	ivServerKey := append(append([]byte(nil), p.info.IV...), p.info.Key...)
	prefix := p.hmacTag(ivServerKey, out[0:1])
	copy(out[1:7], prefix[:6])

	copy(out[7:11], p.uid[:])
	copy(out[11:27], encBlock)
	uidAndE := out[7:27]
	blockTag := p.hmacTag(ivServerKey, uidAndE)
	copy(out[27:31], blockTag[:4])

	p.randSource(out[31:dataOffset])
	copy(out[dataOffset:], payload)

	tag := p.hmacTag(p.userKeyOrServerKey(), out[:outSize-4])
	copy(out[outSize-4:], tag[:4])

	p.chunksEmitted++
	return out
}

func (p *authAes128Plugin) currentTime() uint32 {
	if p.nowUnix != nil {
		return p.nowUnix()
	}
	return uint32(nowUnixSeconds())
}

// resolveUserKey parses ServerInfo.Param ("<uid>:<key>") per spec §4.4,
// or falls back to a random uid + the server key.
func (p *authAes128Plugin) resolveUserKey() {
	if p.userKey != nil {
		return
	}
	param := ""
	if p.info != nil {
		param = p.info.Param
	}
	if idx := strings.IndexByte(param, ':'); idx > 0 {
		uidPart, keyPart := param[:idx], param[idx+1:]
		if uidNum, err := strconv.ParseUint(uidPart, 10, 32); err == nil {
			binary.LittleEndian.PutUint32(p.uid[:], uint32(uidNum))
			sum := p.hmacKeyedHash([]byte(keyPart))
			p.userKey = sum[:p.hashLen]
			return
		}
	}
	p.randSource(p.uid[:])
	p.userKey = append([]byte(nil), p.info.Key...)
}

func (p *authAes128Plugin) hmacKeyedHash(data []byte) []byte {
	h := p.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// deriveAes128Key implements Shadowsocks's EVP_BytesToKey(md5) over
// base64(userKey) || salt, truncated to 16 bytes (spec §4.4).
func deriveAes128Key(userKey []byte, salt string) []byte {
	passphrase := append([]byte(base64.StdEncoding.EncodeToString(userKey)), salt...)
	var out []byte
	var prev []byte
	for len(out) < 16 {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		sum := h.Sum(nil)
		out = append(out, sum...)
		prev = sum
	}
	return out[:16]
}

func aesCBCEncryptZeroIV(key, plaintext []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err) // key is always exactly 16 bytes here
	}
	iv := make([]byte, aes.BlockSize)
	mode := cipher.NewCBCEncrypter(block, iv)
	out := make([]byte, len(plaintext))
	mode.CryptBlocks(out, plaintext)
	return out
}

// ClientPreEncrypt implements spec §4.4's chunking policy: the first
// head_size bytes go out as an "auth data" chunk (once per tunnel),
// the remainder in unit_len=2000 chunks plus a final partial chunk.
func (p *authAes128Plugin) ClientPreEncrypt(data []byte) ([]byte, error) {
	n := len(data)
	var out []byte
	full := 0

	if !p.hasSentHeader {
		headSize := n
		if headSize > authAes128MaxHeadSize {
			headSize = authAes128MaxHeadSize
		}
		chunk := p.packAuthData(data[:headSize])
		out = append(out, chunk...)
		full += len(chunk)
		data = data[headSize:]
		p.hasSentHeader = true
	}

	for len(data) > p.unitLen {
		chunk := p.pack(data[:p.unitLen], full)
		out = append(out, chunk...)
		full += len(chunk)
		data = data[p.unitLen:]
	}
	if len(data) > 0 {
		chunk := p.pack(data, full)
		out = append(out, chunk...)
	}

	p.lastDataLen = n
	return out, nil
}

// ClientPostDecrypt implements spec §4.4's streaming reassembly loop
// over recv_buffer, returning every fully-validated payload chunk
// accumulated so far.
func (p *authAes128Plugin) ClientPostDecrypt(data []byte) ([]byte, error) {
	if p.recvBuffer.Len()+len(data) > authAes128RecvBufCap {
		p.recvBuffer.Reset()
		return nil, fmt.Errorf("%w: recv buffer overflow", ErrFatalFraming)
	}
	p.recvBuffer.Append(data)

	var out []byte
	for {
		buf := p.recvBuffer.Bytes()
		if len(buf) < 4 {
			break
		}
		length := int(binary.LittleEndian.Uint16(buf[0:2]))
		if length < 8 || length >= authAes128MaxFrame {
			p.recvBuffer.Reset()
			return nil, fmt.Errorf("%w: invalid length %d", ErrFatalFraming, length)
		}

		key := p.hmacKeyWithPackID(p.recvID)
		tag1 := p.hmacTag(key, buf[0:2])
		if !hmac.Equal(tag1[:2], buf[2:4]) {
			p.recvBuffer.Reset()
			return nil, fmt.Errorf("%w: header hmac mismatch", ErrFatalFraming)
		}

		if length > len(buf) {
			break
		}

		tag2 := p.hmacTag(key, buf[:length-4])
		if !hmac.Equal(tag2[:4], buf[length-4:length]) {
			p.recvBuffer.Reset()
			return nil, fmt.Errorf("%w: frame hmac mismatch", ErrFatalFraming)
		}

		pos := int(buf[4])
		if pos < 255 {
			pos += 4
		} else {
			pos = int(binary.LittleEndian.Uint16(buf[5:7])) + 4
		}

		out = append(out, buf[pos:length-4]...)
		p.recvBuffer.TrimLeft(length)
		p.recvID++
	}

	return out, nil
}

// UDPPreEncrypt/UDPPostDecrypt implement spec §4.4's UDP framing,
// specified for completeness though UDP payload relay itself is out
// of scope (spec §1 Non-goals).
func (p *authAes128Plugin) UDPPreEncrypt(payload []byte) []byte {
	p.resolveUserKey()
	out := make([]byte, len(payload)+4+4)
	copy(out, payload)
	copy(out[len(payload):], p.uid[:])
	tag := p.hmacTag(p.userKeyOrServerKey(), out[:len(payload)+4])
	copy(out[len(payload)+4:], tag[:4])
	return out
}

func (p *authAes128Plugin) UDPPostDecrypt(packet []byte) ([]byte, error) {
	if len(packet) < 4 {
		return nil, fmt.Errorf("%w: udp packet too short", ErrFatalFraming)
	}
	body := packet[:len(packet)-4]
	tag := p.hmacTag(p.info.Key, body)
	if !hmac.Equal(tag[:4], packet[len(packet)-4:]) {
		return nil, fmt.Errorf("%w: udp hmac mismatch", ErrFatalFraming)
	}
	return body, nil
}
