// Package email provides email address helpers shared by suppression
// lookups, the email step and the SMTP provider.
package email

import (
	"net/mail"
	"strings"

	"github.com/badoux/checkmail"
)

// Normalize trims and lowercases an address for comparisons
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Valid reports whether addr is a syntactically valid address.
// No DNS or SMTP probing is done.
func Valid(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	return checkmail.ValidateFormat(addr) == nil
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}
