package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HMACSignatureCodec implements ports.SignatureCodec using HMAC-SHA256 over
// the canonical form of a field map.
type HMACSignatureCodec struct{}

// NewHMACSignatureCodec creates a new HMAC-SHA256 signature codec.
func NewHMACSignatureCodec() *HMACSignatureCodec {
	return &HMACSignatureCodec{}
}

// Sign computes HMAC-SHA256 of the canonical form of fields using secret.
// The "signature" key is excluded so a signed map verifies against itself.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureCodec) Sign(fields map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalize(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against HMAC-SHA256(secret, canonical(fields)).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureCodec) Verify(fields map[string]string, signature string, secret string) bool {
	expected := s.Sign(fields, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// canonicalize builds the canonical payload: keys sorted lexicographically,
// joined as k=v pairs with '&', the signature field itself skipped.
func canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}
