package evmrpc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// IsHexAddress reports whether s is 0x followed by 40 hex digits.
func IsHexAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// NormalizeTxHash checks that hash is 0x followed by 64 hex digits and returns it
// lowercased. Nodes match hashes case-insensitively, so callers key on this form.
func NormalizeTxHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) != 66 || (hash[:2] != "0x" && hash[:2] != "0X") {
		return "", fmt.Errorf("%q is not a 32-byte transaction hash", hash)
	}
	if _, err := hex.DecodeString(hash[2:]); err != nil {
		return "", fmt.Errorf("%q is not a 32-byte transaction hash", hash)
	}
	return strings.ToLower(hash), nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(addr[2:])
	hash := hex.EncodeToString(Keccak256([]byte(lower)))
	var b strings.Builder
	b.Grow(42)
	b.WriteString("0x")
	for i, c := range lower {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			b.WriteRune(c - 'a' + 'A')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ValidateAddress accepts all-lowercase or all-uppercase hex addresses as-is and
// requires a correct EIP-55 checksum for mixed case.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if !IsHexAddress(addr) {
		return fmt.Errorf("%q is not a 20-byte hex address", addr)
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if ChecksumAddress(addr) != "0x"+body {
		return fmt.Errorf("%q fails EIP-55 checksum", addr)
	}
	return nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
