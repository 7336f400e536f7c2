package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/sha3"
)

// MurmurHash 使用Murmur3哈希算法（短哈希，用于出站消息 nonce）
func MurmurHash(data []byte) []byte {
	h := murmur3.New64()
	_, _ = h.Write(data)
	sum64 := h.Sum64()
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(sum64 >> (8 * i))
	}
	return b
}

func Sha256Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// KeccakHex keccak256 的 hex 字符串，用于派生跨域消息 ID
func KeccakHex(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
