package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// isoLayout matches a JavaScript-style ISO timestamp with millisecond precision.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ISODate renders t in UTC with millisecond precision.
func ISODate(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// IdempotencyKey is the hex SHA-256 of "externalID|dateISO|lower(email)".
// It is the only input to appointment duplicate detection.
func IdempotencyKey(externalID, dateISO, email string) string {
	sum := sha256.Sum256([]byte(externalID + "|" + dateISO + "|" + strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}
