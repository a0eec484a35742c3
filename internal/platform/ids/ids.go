package ids

import (
	"crypto/rand"

	"github.com/mr-tron/base58"
)

// GeneratePrefixedID returns prefix_<base58 of 12 random bytes>.
func GeneratePrefixedID(prefix string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + "_" + base58.Encode(buf), nil
}

// DecodeSuffix returns the random part of an ID produced by GeneratePrefixedID.
func DecodeSuffix(id, prefix string) ([]byte, bool) {
	if len(id) <= len(prefix)+1 || id[:len(prefix)+1] != prefix+"_" {
		return nil, false
	}
	raw, err := base58.Decode(id[len(prefix)+1:])
	if err != nil || len(raw) != 12 {
		return nil, false
	}
	return raw, true
}
