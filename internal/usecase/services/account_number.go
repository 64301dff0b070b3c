package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const accountNumberPrefix = "ACC"

// generateAccountNumber produces a candidate account number: prefix,
// six time-derived digits and a random hex suffix. Uniqueness is only
// verified against the store; the unique index is the real guard.
func generateAccountNumber(now time.Time) string {
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	return accountNumberPrefix + timestamp[len(timestamp)-6:] + randomHex(4)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%0*X", n*2, time.Now().UnixNano()&((1<<(n*8))-1))
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}
