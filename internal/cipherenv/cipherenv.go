// Package cipherenv derives Shadowsocks-compatible keys from a
// password+method pair and constructs the stream/block cipher used to
// encrypt/decrypt the payload stage of the pipeline. The primitives
// themselves (AES, RC4, ChaCha20) are external collaborators per the
// spec; this package only selects and keys them.
package cipherenv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// StreamCipher is the minimal interface every supported method
// satisfies: symmetric, order-preserving, byte-stream transformation.
type StreamCipher interface {
	XORKeyStream(dst, src []byte)
}

// methodSpec describes the key/iv sizes for a cipher method name.
type methodSpec struct {
	keyLen int
	ivLen  int
	newEnc func(key, iv []byte) (StreamCipher, error)
	newDec func(key, iv []byte) (StreamCipher, error)
}

var methods = map[string]methodSpec{
	"table": {
		keyLen: 16, ivLen: 0,
		newEnc: newTableCipherEnc,
		newDec: newTableCipherDec,
	},
	"rc4-md5": {
		keyLen: 16, ivLen: 16,
		newEnc: newRC4MD5,
		newDec: newRC4MD5,
	},
	"aes-128-cfb": {
		keyLen: 16, ivLen: 16,
		newEnc: newAESCFBEncrypter,
		newDec: newAESCFBDecrypter,
	},
	"aes-256-cfb": {
		keyLen: 32, ivLen: 16,
		newEnc: newAESCFBEncrypter,
		newDec: newAESCFBDecrypter,
	},
	"chacha20": {
		keyLen: 32, ivLen: chacha20.NonceSize,
		newEnc: newChaCha20,
		newDec: newChaCha20,
	},
}

// Env is the process-wide cipher environment derived from a single
// password+method pair (spec §3 ServerEnvironment.cipher_env).
type Env struct {
	Method string
	Key    []byte
	IVLen  int
}

// NewEnv derives the key for method from password using the
// Shadowsocks EVP_BytesToKey scheme (repeated MD5).
func NewEnv(password, method string) (*Env, error) {
	spec, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("cipherenv: unknown method %q", method)
	}
	key := bytesToKey([]byte(password), spec.keyLen)
	return &Env{Method: method, Key: key, IVLen: spec.ivLen}, nil
}

// IsTrivial reports whether the selected method is the trivial table
// cipher, i.e. whether e_ctx/d_ctx exist per spec §3's invariant.
func (e *Env) IsTrivial() bool {
	return e.Method == "table"
}

// NewEncrypter returns a fresh encrypt context for the caller-supplied
// IV. Generating the IV and prepending it to the stream is the
// caller's job.
func (e *Env) NewEncrypter(iv []byte) (StreamCipher, error) {
	spec := methods[e.Method]
	return spec.newEnc(e.Key, iv)
}

// NewDecrypter returns a fresh decrypt context for a peer-supplied IV.
func (e *Env) NewDecrypter(iv []byte) (StreamCipher, error) {
	spec := methods[e.Method]
	return spec.newDec(e.Key, iv)
}

// bytesToKey implements the Shadowsocks/OpenSSL EVP_BytesToKey
// derivation: repeated MD5(prev || password) concatenated until long
// enough, then truncated to keyLen.
func bytesToKey(password []byte, keyLen int) []byte {
	var out []byte
	var prev []byte
	for len(out) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		sum := h.Sum(nil)
		out = append(out, sum...)
		prev = sum
	}
	return out[:keyLen]
}

func newTableCipherEnc(key, _ []byte) (StreamCipher, error) {
	return newTableEncrypter(key), nil
}

func newTableCipherDec(key, _ []byte) (StreamCipher, error) {
	return newTableDecrypter(key), nil
}

func newRC4MD5(key, iv []byte) (StreamCipher, error) {
	h := md5.Sum(append(append([]byte(nil), key...), iv...))
	return rc4.NewCipher(h[:])
}

func newAESCFBEncrypter(key, iv []byte) (StreamCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCFBEncrypter(block, iv), nil
}

func newAESCFBDecrypter(key, iv []byte) (StreamCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCFBDecrypter(block, iv), nil
}

func newChaCha20(key, iv []byte) (StreamCipher, error) {
	return chacha20.NewUnauthenticatedCipher(key, iv)
}
