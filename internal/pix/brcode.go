package pix

import (
	"strconv"
	"strings"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
)

// EMV tags of the merchant-presented BR Code, in mandated order.
const (
	tagPayloadFormat  = "00"
	tagMerchantInfo   = "26"
	tagGUI            = "00" // nested under 26
	tagKey            = "01" // nested under 26
	tagCategoryCode   = "52"
	tagCurrency       = "53"
	tagAmount         = "54"
	tagCountryCode    = "58"
	tagMerchantName   = "59"
	tagMerchantCity   = "60"
	tagAdditionalData = "62"
	tagReferenceID    = "05" // nested under 62
	tagCRC            = "63"
)

const (
	pixGUI      = "br.gov.bcb.pix"
	currencyBRL = "986" // ISO 4217
	countryBR   = "BR"

	maxMerchantName = 25
	maxMerchantCity = 15
	maxReferenceID  = 25

	defaultMerchantName = "RECEBEDOR"
	defaultMerchantCity = "CIDADE"
	defaultReferenceID  = "***"

	// crcPrefix is tag 63 plus its fixed length. It is checksummed
	// together with the payload, so validation must re-append it.
	crcPrefix = "6304"

	// minCodeLen rejects strings too short to be a realistic payload
	// before any parsing happens.
	minCodeLen = 50

	// codeHeader is tag 00, length 02, value "01" — every BR Code
	// starts with it.
	codeHeader = "000201"
)

// Payment is the value object a BR Code is built from. KeyType is
// optional; when set it overrides key-format sniffing (an 11-digit key
// is otherwise ambiguous between CPF and phone).
type Payment struct {
	Key          string
	KeyType      string
	Amount       float64
	MerchantName string
	MerchantCity string
	ReferenceID  string
}

// Encode builds the complete "Pix Copia e Cola" string for p. Each
// missing or invalid field fails with a distinct ErrValidation before
// anything is built.
func Encode(p Payment) (string, error) {
	if strings.TrimSpace(p.Key) == "" {
		return "", &domain.ErrValidation{Field: "key", Message: "required"}
	}
	if p.Amount <= 0 {
		return "", &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if strings.TrimSpace(p.MerchantName) == "" {
		return "", &domain.ErrValidation{Field: "merchantName", Message: "required"}
	}
	if strings.TrimSpace(p.MerchantCity) == "" {
		return "", &domain.ErrValidation{Field: "merchantCity", Message: "required"}
	}

	key := FormatKeyWithType(p.Key, p.KeyType)
	name := SanitizeText(p.MerchantName, maxMerchantName, defaultMerchantName)
	city := SanitizeText(p.MerchantCity, maxMerchantCity, defaultMerchantCity)
	amount := strconv.FormatFloat(p.Amount, 'f', 2, 64)
	ref := sanitizeReferenceID(p.ReferenceID)

	gui, err := TLV(tagGUI, pixGUI)
	if err != nil {
		return "", err
	}
	keyField, err := TLV(tagKey, key)
	if err != nil {
		return "", err
	}
	refField, err := TLV(tagReferenceID, ref)
	if err != nil {
		return "", err
	}

	// Field order is part of the external wire contract.
	fields := []struct{ tag, value string }{
		{tagPayloadFormat, "01"},
		{tagMerchantInfo, gui + keyField},
		{tagCategoryCode, "0000"},
		{tagCurrency, currencyBRL},
		{tagAmount, amount},
		{tagCountryCode, countryBR},
		{tagMerchantName, name},
		{tagMerchantCity, city},
		{tagAdditionalData, refField},
	}

	var b strings.Builder
	for _, f := range fields {
		field, err := TLV(f.tag, f.value)
		if err != nil {
			return "", err
		}
		b.WriteString(field)
	}

	// The CRC covers the payload including its own tag-and-length
	// prefix, then the 4 hex digits close the code.
	b.WriteString(crcPrefix)
	payload := b.String()
	return payload + CRC16Hex([]byte(payload)), nil
}

// Validate reports whether code is a structurally plausible BR Code
// with a matching checksum. It is a predicate, not a parser: corrupt
// or truncated input yields false, never an error.
func Validate(code string) bool {
	if len(code) < minCodeLen || !strings.HasPrefix(code, codeHeader) {
		return false
	}
	body, claimed := code[:len(code)-4], code[len(code)-4:]
	if !strings.HasSuffix(body, crcPrefix) {
		return false
	}
	if CRC16Hex([]byte(body)) != claimed {
		return false
	}
	return wellFormed(code)
}

// wellFormed walks the top-level TLV stream: every field must fit, the
// walk must consume the string exactly, and the last field must be the
// CRC. Bytes dangling after the checksum fail here. This is stricter
// than checksum equality alone: a code whose CRC matches but whose
// field stream is mangled still validates false.
func wellFormed(code string) bool {
	pos := 0
	lastTag := ""
	for pos < len(code) {
		if pos+4 > len(code) {
			return false
		}
		d1, d2 := code[pos+2], code[pos+3]
		if d1 < '0' || d1 > '9' || d2 < '0' || d2 > '9' {
			return false
		}
		length := int(d1-'0')*10 + int(d2-'0')
		lastTag = code[pos : pos+2]
		pos += 4 + length
	}
	return pos == len(code) && lastTag == tagCRC
}

// GenerateReferenceID derives a short, traceable reference for tag 62
// from a source identifier: the first 8 alphanumeric characters plus a
// base-36 timestamp, prefixed "TX" and capped at the 25-character field
// limit. The timestamp makes retries distinguishable without storing
// any state.
func GenerateReferenceID(sourceID string) string {
	var b strings.Builder
	for _, r := range sourceID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	ref := "TX" + b.String() + strconv.FormatInt(time.Now().UnixMilli(), 36)
	if len(ref) > maxReferenceID {
		ref = ref[:maxReferenceID]
	}
	return ref
}

// sanitizeReferenceID filters a caller-supplied reference to the
// [A-Za-z0-9*] alphabet tag 62-05 accepts.
func sanitizeReferenceID(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '*' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxReferenceID {
		out = out[:maxReferenceID]
	}
	if out == "" {
		return defaultReferenceID
	}
	return out
}
