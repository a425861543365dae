package cache

import "github.com/noah-isme/toko-tax/internal/common"

// Key derives a content-addressed cache key from a serialised payload.
func Key(prefix string, payload []byte) string {
	return prefix + common.Sha256HexBytes(payload)
}
