package auth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveKey はSESSION_SECRETから用途ごとの鍵をHKDFで導出する。
// 同じ秘密から導出しても用途が異なれば鍵は独立する。
func deriveKey(secret, purpose string, size int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required to derive %s key", purpose)
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("planboard/"+purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}
