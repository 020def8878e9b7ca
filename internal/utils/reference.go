package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateReference generates a loan reference number: the given prefix, a
// dash, and the requested count of random digits.
func GenerateReference(prefix string, digits int) (string, error) {
	if digits < 4 || digits > 32 {
		return "", fmt.Errorf("invalid reference digit count: %d", digits)
	}

	raw := make([]byte, digits)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	builder.WriteByte('-')
	for _, b := range raw {
		builder.WriteByte(b%10 + '0')
	}
	return builder.String(), nil
}

// LoanHMAC computes an integrity tag over the immutable fields of a financing
// contract. A mismatch on read means the row was tampered with outside the
// service.
func LoanHMAC(reference string, principal float64, annualRate float64, termMonths int, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%s|%.2f|%.4f|%d", reference, principal, annualRate, termMonths)
	return hex.EncodeToString(h.Sum(nil))
}
