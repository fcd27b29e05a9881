package pix

import (
	"fmt"
	"unicode/utf8"

	"github.com/cobrafacil/billing-go/internal/domain"
)

// tlvMaxLen is the largest value a 2-digit TLV length field can carry.
const tlvMaxLen = 99

// TLV renders one Tag-Length-Value field: tag + zero-padded 2-digit
// length + value. Length counts characters, not bytes. Nesting works by
// passing an already-concatenated TLV string as the value.
//
// The composer truncates every field before calling this, so the length
// cap should never trip in the happy path; exceeding it means a caller
// bug and returns ErrEncoding.
func TLV(tag, value string) (string, error) {
	n := utf8.RuneCountInString(value)
	if n > tlvMaxLen {
		return "", &domain.ErrEncoding{Tag: tag, Message: fmt.Sprintf("value length %d exceeds %d", n, tlvMaxLen)}
	}
	return fmt.Sprintf("%s%02d%s", tag, n, value), nil
}
