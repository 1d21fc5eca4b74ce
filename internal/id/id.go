package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns a 32-character hex job id. If the system entropy source fails
// the id falls back to a nanosecond timestamp so job creation never blocks.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "job-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

// Valid reports whether s looks like an id New produced. It keeps junk out
// of object keys and store lookups.
func Valid(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r == '-':
		default:
			return false
		}
	}
	return true
}
