// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package ids derives the public routing key ("short id") from a device's
// stable identifier, per spec.md section 3.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortIDLen is the number of hex characters kept from the SHA-256 digest.
const ShortIDLen = 6

// ShortID returns the first ShortIDLen hex characters of SHA-256(deviceID).
func ShortID(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:])[:ShortIDLen]
}

// LeadingLabel extracts the leading dot-separated label of an SNI hostname,
// e.g. "a1b2c3.tunnels.example.com" -> "a1b2c3" (spec.md section 4.6 step 3).
func LeadingLabel(sni string) string {
	for i := 0; i < len(sni); i++ {
		if sni[i] == '.' {
			return sni[:i]
		}
	}
	return sni
}
