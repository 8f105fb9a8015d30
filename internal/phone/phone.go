// Package phone canonicalizes Kenyan mobile numbers to the 254XXXXXXXXX
// digit form expected by the payment providers.
package phone

import (
	"regexp"
	"strings"
)

var (
	nonDigit  = regexp.MustCompile(`\D`)
	safaricom = regexp.MustCompile(`^(?:\+?254|0)?(7\d{8})$`)
)

// Normalize converts 0712345678, +254712345678, 254712345678 or 712345678
// to 254712345678. It is a total function: malformed input produces a
// best-effort digit string rather than an error, matching the behavior the
// rest of the workflow relies on.
func Normalize(raw string) string {
	digits := nonDigit.ReplaceAllString(raw, "")
	digits = strings.TrimLeft(digits, "0")
	if len(digits) == 9 {
		return "254" + digits
	}
	if len(digits) == 12 && !strings.HasPrefix(digits, "254") {
		return "254" + digits[3:]
	}
	return digits
}

// IsSafaricom reports whether the number looks like a Safaricom line in any
// of the accepted input formats. Used by checkout validation before a
// mobile-money push is attempted.
func IsSafaricom(raw string) bool {
	return safaricom.MatchString(strings.TrimSpace(raw))
}
