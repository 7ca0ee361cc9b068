package share

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = chacha20poly1305.KeySize

// 密文格式：[版本 1 字节][nonce 24 字节][密文+tag]
// 版本字节同时作为 AAD，篡改版本会导致认证失败
const (
	blobVersion  byte = 0x01
	blobOverhead      = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	blobPrefix        = "share/"
)

func decodeKey(key string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("decode key: want %d bytes, got %d", KeySize, len(raw))
	}
	return raw, nil
}

func sealBlob(plaintext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, blobOverhead+len(plaintext))
	out[0] = blobVersion
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

func openBlob(blob, key []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("encrypted blob too short: %d bytes (minimum %d)", len(blob), blobOverhead)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("unsupported encrypted blob version 0x%02x", blob[0])
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, fmt.Errorf("decrypting blob: %w", err)
	}
	return plaintext, nil
}

// blobPath 按密文内容寻址
func blobPath(ciphertext []byte) string {
	sum := blake3.Sum256(ciphertext)
	return blobPrefix + hex.EncodeToString(sum[:])
}
