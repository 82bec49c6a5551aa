package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"hash"
	"testing"

	"github.com/stretchr/testify/require"

	"ssrtun/internal/pluginapi"
)

func newTestAuthAes128(t *testing.T) *authAes128Plugin {
	t.Helper()
	p := newAuthAes128(md5.New, 16, "auth_aes128_md5")
	info := pluginapi.NewServerInfo("127.0.0.1", 8388, []byte("0123456789abcdef"), []byte("supersecretkey!!"), "")
	info.BufferSize = pluginapi.DefaultBufferSize
	p.SetServerInfo(info)
	p.userKey = append([]byte(nil), info.Key...)
	return p
}

func TestGetRandLenZeroPastThresholds(t *testing.T) {
	rng := seedXorshift128plus(1, 2)
	require.Equal(t, 0, getRandLen(1301, 0, 0, 16384, rng))
	require.Equal(t, 0, getRandLen(10, 0, 1301, 16384, rng))
	require.Equal(t, 0, getRandLen(10, 16384, 0, 16384, rng))
}

func TestGetRandLenBuckets(t *testing.T) {
	rng := seedXorshift128plus(42, 99)
	for i := 0; i < 50; i++ {
		v := getRandLen(1200, 0, 0, 16384, rng)
		require.LessOrEqual(t, v, 0x7F)
	}
	rng2 := seedXorshift128plus(42, 99)
	for i := 0; i < 50; i++ {
		v := getRandLen(1000, 0, 0, 16384, rng2)
		require.LessOrEqual(t, v, 0xFF)
	}
	rng3 := seedXorshift128plus(42, 99)
	for i := 0; i < 50; i++ {
		v := getRandLen(500, 0, 0, 16384, rng3)
		require.LessOrEqual(t, v, 0x1FF)
	}
	rng4 := seedXorshift128plus(42, 99)
	for i := 0; i < 50; i++ {
		v := getRandLen(100, 0, 0, 16384, rng4)
		require.LessOrEqual(t, v, 0x3FF)
	}
}

// TestPackLengthPrefixMatchesSize is testable property 2: the LE u16
// length prefix of a packed chunk equals the chunk's own byte length.
func TestPackLengthPrefixMatchesSize(t *testing.T) {
	p := newTestAuthAes128(t)
	chunk := p.pack([]byte("hello world"), 0)
	size := int(chunk[0]) | int(chunk[1])<<8
	require.Equal(t, len(chunk), size)
}

// TestPackDecodeRoundTrip is testable property 1, exercised via the
// regular (non-initial) pack/decode pair: the initial auth-data chunk
// is a one-shot client-to-server preamble that the server alone
// consumes, so a sender/receiver pair both past that preamble must
// round-trip arbitrary payloads across arbitrary chunk boundaries.
func TestPackDecodeRoundTrip(t *testing.T) {
	sender := newTestAuthAes128(t)
	receiver := newTestAuthAes128(t)
	sender.hasSentHeader = true
	receiver.hasSentHeader = true

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}

	encoded, err := sender.ClientPreEncrypt(payload)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	// Feed the receiver in small, uneven chunks to exercise arbitrary
	// chunk boundaries on the wire.
	var got []byte
	for len(encoded) > 0 {
		n := 7
		if n > len(encoded) {
			n = len(encoded)
		}
		out, err := receiver.ClientPostDecrypt(encoded[:n])
		require.NoError(t, err)
		got = append(got, out...)
		encoded = encoded[n:]
	}

	require.Equal(t, payload, got)
}

// TestClientPreEncryptChunkCount is testable property 4: the number of
// outbound chunks equals 1 + ceil((|s|-head_size)/unit_len).
func TestClientPreEncryptChunkCount(t *testing.T) {
	p := newTestAuthAes128(t)
	payload := make([]byte, 6500)
	out, err := p.ClientPreEncrypt(payload)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	headSize := authAes128MaxHeadSize
	remaining := len(payload) - headSize
	wantRegularChunks := (remaining + authAes128UnitLen - 1) / authAes128UnitLen
	require.Equal(t, 1+wantRegularChunks, p.chunksEmitted)
}

func TestGlobalDataReseedMasksTo24Bits(t *testing.T) {
	g := &authAes128Global{connectionID: 0xFF000001}
	_, connID := g.next()
	require.LessOrEqual(t, connID, uint32(0xFFFFFF))
}

func TestGlobalDataMonotonic(t *testing.T) {
	g := newAuthAes128Global()
	_, a := g.next()
	_, b := g.next()
	require.Equal(t, a+1, b)
}

func TestResolveUserKeyFromParam(t *testing.T) {
	p := newTestAuthAes128(t)
	p.userKey = nil
	p.info.Param = "7:mypassword"
	p.resolveUserKey()
	require.Equal(t, uint32(7), leUint32(p.uid[:]))
	require.Len(t, p.userKey, p.hashLen)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// TestAuthAes128MD5GoldenVectorInitialPacket is spec scenario S5: given
// a fixed xorshift128plus seed, time=0, local_client_id=0, connection_id=1,
// a fixed iv, server_key="k", and param="42:secret", the first packet
// ClientPreEncrypt emits (the "auth data" chunk built by packAuthData)
// must match an independent recomputation of §4.4's initial-chunk
// layout byte for byte.
func TestAuthAes128MD5GoldenVectorInitialPacket(t *testing.T) {
	iv := []byte("0123456789abcdef")
	serverKey := []byte("k")
	payload := []byte{0x03, 0x0B, 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', 0x00, 0x50}

	p := newAuthAes128(md5.New, 16, "auth_aes128_md5")
	info := pluginapi.NewServerInfo("remote.example", 8388, iv, serverKey, "42:secret")
	p.SetServerInfo(info)
	p.global.localClientID = [8]byte{}
	p.global.connectionID = 0
	p.nowUnix = func() uint32 { return 0 }
	p.randSource = func(b []byte) {
		for i := range b {
			b[i] = 0
		}
	}
	p.rng = seedXorshift128plus(1, 1)

	got, err := p.ClientPreEncrypt(payload)
	require.NoError(t, err)

	// Independent recomputation, never calling into packAuthData or any
	// of its helper functions.
	rng := seedXorshift128plus(1, 1)
	r := uint32(rng.Next())
	n := len(payload)
	var randLen int
	if n > 400 {
		randLen = int(r & 0x1FF)
	} else {
		randLen = int(r & 0x3FF)
	}
	dataOffset := randLen + 31
	outSize := dataOffset + n + 4

	want := make([]byte, outSize)
	want[0] = 0 // the single random byte, fixed to 0 by the randSource override

	ivServerKey := append(append([]byte(nil), iv...), serverKey...)
	prefixTag := goldenHMAC(md5.New, ivServerKey, want[0:1])
	copy(want[1:7], prefixTag[:6])

	var uid [4]byte
	binary.LittleEndian.PutUint32(uid[:], 42)
	userKeySum := md5.Sum([]byte("secret"))
	userKey := userKeySum[:16]

	plaintext := make([]byte, 16)
	binary.LittleEndian.PutUint32(plaintext[0:4], 0)  // time
	binary.LittleEndian.PutUint32(plaintext[8:12], 1) // connection_id
	binary.LittleEndian.PutUint16(plaintext[12:14], uint16(outSize))
	binary.LittleEndian.PutUint16(plaintext[14:16], uint16(randLen))

	aesKey := goldenEVPBytesToKeyMD5(append([]byte(base64.StdEncoding.EncodeToString(userKey)), "auth_aes128_md5"...))
	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	encBlock := make([]byte, 16)
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(encBlock, plaintext)

	copy(want[7:11], uid[:])
	copy(want[11:27], encBlock)
	blockTag := goldenHMAC(md5.New, ivServerKey, want[7:27])
	copy(want[27:31], blockTag[:4])

	// random padding, fixed to 0 by the randSource override (already zero)
	copy(want[dataOffset:], payload)

	tailTag := goldenHMAC(md5.New, userKey, want[:outSize-4])
	copy(want[outSize-4:], tailTag[:4])

	require.Equal(t, want, got)
}

func goldenHMAC(newHash func() hash.Hash, key, msg []byte) []byte {
	mac := hmac.New(newHash, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func goldenEVPBytesToKeyMD5(passphrase []byte) []byte {
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

func TestUDPRoundTrip(t *testing.T) {
	p := newTestAuthAes128(t)
	p.userKey = nil
	p.resolveUserKey()
	encoded := p.UDPPreEncrypt([]byte("udp payload"))
	decoded, err := p.UDPPostDecrypt(encoded)
	require.NoError(t, err)
	// UDPPostDecrypt only verifies and strips the trailing 4-byte tag;
	// the uid that UDPPreEncrypt appended stays in the returned body.
	require.Equal(t, append([]byte("udp payload"), p.uid[:]...), decoded)
}
