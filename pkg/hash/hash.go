package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

func Digest(message []byte, alg string) ([]byte, error) {
	var hasher hash.Hash
	switch alg {
	case "SHA-256":
		hasher = sha256.New()
	case "SHA-384":
		hasher = sha512.New384()
	case "SHA-512":
		hasher = sha512.New()
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", alg)
	}
	hasher.Write(message)
	return hasher.Sum(nil), nil
}

// Fingerprint formats the SHA-256 digest of der as colon separated hex.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)

	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
