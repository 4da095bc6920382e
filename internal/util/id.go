package util

import (
	"crypto/rand"
	"strings"
)

// NewID returns a short URL-safe random identifier.
func NewID() string {
	return strings.ToLower(randText())
}

// randText mirrors crypto/rand.Text (added in Go 1.24) for older toolchains.
func randText() string {
	const base32alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	src := make([]byte, 26)
	if _, err := rand.Read(src); err != nil {
		panic(err)
	}
	for i := range src {
		src[i] = base32alphabet[src[i]%32]
	}
	return string(src)
}
