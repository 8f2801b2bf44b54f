// Package apikey generates API keys. Only the bcrypt hash and the lookup
// prefix of a key are ever stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 8

const (
	rawPrefix   = "ss_"
	secretBytes = 24
)

// Generated is a freshly minted key. Raw is shown to the operator once.
type Generated struct {
	Raw    string
	Prefix string
	Hash   string
}

// Prefix returns the lookup prefix of raw.
func Prefix(raw string) string {
	if len(raw) < PrefixLen {
		return raw
	}
	return raw[:PrefixLen]
}

// Generate mints a new random key and its bcrypt hash.
func Generate() (Generated, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Generated{}, fmt.Errorf("reading random bytes: %w", err)
	}
	raw := rawPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("hashing api key: %w", err)
	}
	return Generated{Raw: raw, Prefix: Prefix(raw), Hash: string(hash)}, nil
}
