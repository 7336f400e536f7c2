package utils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
)

// DecodePublicKey 解析 PEM 编码的 ECDSA 公钥
func DecodePublicKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaPub, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA type")
	}
	return ecdsaPub, nil
}

// EncodePublicKey 把 ECDSA 公钥编码为 PEM 字符串
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// VerifySignature 验证 hex(r||s) 形式的签名
func VerifySignature(pub *ecdsa.PublicKey, message, signatureHex string) bool {
	if len(signatureHex) != 128 {
		return false
	}

	rBytes, err := hex.DecodeString(signatureHex[:64])
	if err != nil {
		return false
	}
	sBytes, err := hex.DecodeString(signatureHex[64:])
	if err != nil {
		return false
	}

	r := new(big.Int).SetBytes(rBytes)
	s := new(big.Int).SetBytes(sBytes)

	hash := sha256.Sum256([]byte(message))
	return ecdsa.Verify(pub, hash[:], r, s)
}

// SignMessage 生成 hex(r||s) 形式的签名（出站消息和测试用）
func SignMessage(priv *ecdsa.PrivateKey, message string) (string, error) {
	hash := sha256.Sum256([]byte(message))
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	if err != nil {
		return "", err
	}
	rb := r.Bytes()
	sb := s.Bytes()
	sig := make([]byte, 64)
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):], sb)
	return hex.EncodeToString(sig), nil
}
