package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRequestID returns a fresh 32-character lowercase hex identifier,
// suitable for ProviderCallContext.RequestID and for correlation with
// trace/log output.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("llmcomms/util: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
