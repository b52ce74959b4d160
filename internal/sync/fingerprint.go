package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// payloadHash fingerprints a mapped payload. Field order is fixed by the
// struct definitions, so equal payloads hash equally.
func payloadHash(payload interface{}) string {
	bytes, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}

func newRunID() string {
	return uuid.New().String()
}
