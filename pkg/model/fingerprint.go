// Copyright © 2019 One Concern

package model

import (
	"encoding/hex"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

// FingerprintSize is the size in bytes of a record content hash.
const FingerprintSize = 64

// Fingerprint computes the content hash of a record body. The hash is
// taken over the raw remote bytes, so an unchanged document keeps its
// fingerprint across full rebuilds and incremental updates alike.
func Fingerprint(body []byte) (string, error) {
	h, err := blake2b.New(&blake2b.Config{Size: FingerprintSize})
	if err != nil {
		return "", fmt.Errorf("new hasher: %w", err)
	}
	if _, err = h.Write(body); err != nil {
		return "", fmt.Errorf("hash write: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is Fingerprint for call sites that cannot fail,
// such as tests and fixtures.
func MustFingerprint(body []byte) string {
	f, err := Fingerprint(body)
	if err != nil {
		panic(err)
	}
	return f
}
