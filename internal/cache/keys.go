package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// LinkProbeKey hashes the URL so arbitrary user input never lands in a key.
func LinkProbeKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("linkprobe:%s", hex.EncodeToString(sum[:]))
}

// RateLimitWindowKey scopes the counter to the window starting at start.
func RateLimitWindowKey(keyPrefix string, start time.Time) string {
	return fmt.Sprintf("%s:%d", RateLimitKey(keyPrefix), start.Unix())
}
