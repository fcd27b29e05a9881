package pix

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key type labels, matching the DICT key registry.
const (
	KeyTypeCPF    = "cpf"
	KeyTypeCNPJ   = "cnpj"
	KeyTypeEmail  = "email"
	KeyTypePhone  = "phone"
	KeyTypeRandom = "random"
)

// FormatKey normalizes a raw PIX key into its wire representation:
//
//   - a "+"-prefixed value is already an E.164 phone and passes through;
//   - a value whose digits number 10-11, punctuated or not, is treated
//     as a Brazilian phone and prefixed with +55. The exception: 11
//     digits carrying valid CPF check digits are a document number,
//     not a phone, and reduce to the digit-only string;
//   - 14 digits are a CNPJ and reduce to the digit-only string;
//   - anything else (email, EVP/UUID) passes through trimmed.
//
// An 11-digit string is inherently ambiguous between a national mobile
// number and a CPF; the check-digit test resolves the ambiguity instead
// of blindly preferring the phone interpretation.
func FormatKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "+") {
		return trimmed
	}

	digits := digitsOnly(trimmed)
	switch {
	case len(digits) == 11 && isValidCPF(digits):
		return digits
	case len(digits) >= 10 && len(digits) <= 11:
		return "+55" + digits
	case len(digits) == 14:
		return digits
	}
	return trimmed
}

// FormatKeyWithType normalizes a key whose type the caller knows. An
// explicit type skips the heuristics in FormatKey entirely; unknown
// types fall back to them.
func FormatKeyWithType(raw, keyType string) string {
	trimmed := strings.TrimSpace(raw)
	switch keyType {
	case KeyTypeCPF, KeyTypeCNPJ:
		return digitsOnly(trimmed)
	case KeyTypePhone:
		if strings.HasPrefix(trimmed, "+") {
			return trimmed
		}
		return "+55" + digitsOnly(trimmed)
	case KeyTypeEmail, KeyTypeRandom:
		return trimmed
	}
	return FormatKey(trimmed)
}

// DetectKeyType infers the DICT key type from the wire value. Used for
// display only; encoding never depends on it.
func DetectKeyType(value string) string {
	if strings.Contains(value, "@") {
		return KeyTypeEmail
	}
	if len(value) == 36 && strings.Count(value, "-") == 4 {
		return KeyTypeRandom
	}
	if strings.HasPrefix(value, "+") {
		return KeyTypePhone
	}
	digits := digitsOnly(value)
	switch len(digits) {
	case 14:
		return KeyTypeCNPJ
	case 11:
		if isValidCPF(digits) {
			return KeyTypeCPF
		}
		return KeyTypePhone
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isValidCPF verifies the two check digits of an 11-digit CPF.
func isValidCPF(digits string) bool {
	if len(digits) != 11 {
		return false
	}
	// All-same-digit sequences pass the arithmetic but are invalid.
	allSame := true
	for i := 1; i < 11; i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}
	for _, n := range []int{9, 10} {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		check := 11 - sum%11
		if check >= 10 {
			check = 0
		}
		if int(digits[n]-'0') != check {
			return false
		}
	}
	return true
}

// SanitizeText reduces free text to the ASCII subset the EMV payload
// accepts: accents stripped, anything outside [A-Za-z0-9 ] removed,
// uppercased, trimmed and truncated to maxLen. An empty result falls
// back to the caller-supplied default.
func SanitizeText(text string, maxLen int, fallback string) string {
	stripped, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), text)
	if err != nil {
		stripped = text
	}

	var b strings.Builder
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ':
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxLen {
		out = strings.TrimSpace(out[:maxLen])
	}
	if out == "" {
		return fallback
	}
	return out
}
