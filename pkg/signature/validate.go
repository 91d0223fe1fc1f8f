package signature

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// DataURIPrefix is the only accepted signature encoding.
const DataURIPrefix = "data:image/png;base64,"

// Request is the JSON body of a submission. Fields are left untyped so that
// wrong JSON types are reported as validation failures rather than decode
// errors.
type Request struct {
	Name      any `json:"name"`
	IDNumber  any `json:"idNumber"`
	Signature any `json:"signature"`
}

// Limits bounds what Validate accepts.
type Limits struct {
	// MinBytes is the smallest accepted approximate image size.
	MinBytes int
	// MaxBytes is the largest accepted approximate image size.
	MaxBytes int
	// MinNameRunes and MaxNameRunes bound the trimmed signer name, counted
	// in UTF-16 code units.
	MinNameRunes int
	MaxNameRunes int
	// MaxIDRunes bounds the optional identification number in UTF-16 code
	// units.
	MaxIDRunes int
	// VerifyImage additionally requires the decoded bytes to carry a PNG header.
	VerifyImage bool
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MinBytes:     2500,
		MaxBytes:     250000,
		MinNameRunes: 3,
		MaxNameRunes: 80,
		MaxIDRunes:   64,
		VerifyImage:  true,
	}
}

// Payload is a submission that passed validation.
type Payload struct {
	Name     string
	IDNumber string
	// DataURI is the signature exactly as it was submitted.
	DataURI string
	// Image holds the decoded PNG bytes.
	Image []byte
}

// Validate checks a submission. The first failing rule determines the
// returned *ValidationError.
func Validate(req Request, limits Limits) (Payload, error) {
	name, ok := req.Name.(string)
	if !ok {
		return Payload{}, newValidationError(ReasonInvalidName, MsgInvalidName)
	}
	name = strings.TrimFunc(name, isJSSpace)
	if n := utf16Len(name); n < limits.MinNameRunes || n > limits.MaxNameRunes {
		return Payload{}, newValidationError(ReasonInvalidName, MsgInvalidName)
	}

	sig, ok := req.Signature.(string)
	if !ok || sig == "" {
		return Payload{}, newValidationError(ReasonInvalidSignature, MsgInvalidSignature)
	}
	if !strings.HasPrefix(sig, DataURIPrefix) {
		return Payload{}, newValidationError(ReasonNotPNG, MsgNotPNG)
	}

	encoded := sig[len(DataURIPrefix):]
	if !isBase64Text(encoded) {
		return Payload{}, newValidationError(ReasonCorruptSignature, MsgCorruptSignature)
	}

	approx := ApproxDecodedSize(encoded)
	if approx < limits.MinBytes {
		return Payload{}, newValidationError(ReasonSignatureTooSmall, MsgSignatureTooSmall)
	}
	if approx > limits.MaxBytes {
		return Payload{}, newValidationError(ReasonSignatureTooLarge, MsgSignatureTooLarge)
	}

	img, err := DecodeBase64(encoded)
	if err != nil {
		return Payload{}, newValidationError(ReasonCorruptSignature, MsgCorruptSignature)
	}
	if limits.VerifyImage {
		if _, err := png.DecodeConfig(bytes.NewReader(img)); err != nil {
			return Payload{}, newValidationError(ReasonNotPNG, MsgNotPNG)
		}
	}

	id := idNumberString(req.IDNumber)
	if limits.MaxIDRunes > 0 && utf16Len(id) > limits.MaxIDRunes {
		return Payload{}, newValidationError(ReasonInvalidIDNumber, MsgInvalidIDNumber)
	}

	return Payload{
		Name:     name,
		IDNumber: id,
		DataURI:  sig,
		Image:    img,
	}, nil
}

// ApproxDecodedSize estimates the decoded size of base64 text: every four
// characters, whitespace and padding included, count as three bytes.
func ApproxDecodedSize(encoded string) int {
	return utf8.RuneCountInString(encoded) * 3 / 4
}

// DecodeBase64 decodes standard-alphabet base64, ignoring whitespace and
// accepting both padded and unpadded input.
func DecodeBase64(encoded string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if isJSSpace(r) {
			return -1
		}
		return r
	}, encoded)
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
}

func isBase64Text(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		case isJSSpace(r):
		default:
			return false
		}
	}
	return true
}

// idNumberString renders the optional identification number. Strings are
// kept as submitted, numbers use their shortest decimal form. Zero, empty
// strings and every other JSON type count as absent.
func idNumberString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		f, err := id.Float64()
		if err != nil {
			return id.String()
		}
		return formatNumber(f)
	case float64:
		return formatNumber(id)
	default:
		return ""
	}
}

// formatNumber renders f the way a browser prints a number: "1e3" and "1.0"
// become "1000" and "1", magnitudes from 1e21 switch to exponent form.
func formatNumber(f float64) string {
	if f == 0 {
		return ""
	}
	if math.Abs(f) >= 1e21 {
		return strings.Replace(strconv.FormatFloat(f, 'g', -1, 64), "e+0", "e+", 1)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// utf16Len counts s in UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// isJSSpace reports whether r belongs to the ECMAScript whitespace and line
// terminator set. Unlike unicode.IsSpace it includes U+FEFF and excludes
// U+0085.
func isJSSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ',
		'\u00a0', '\u1680', '\u2028', '\u2029', '\u202f', '\u205f', '\u3000', '\ufeff':
		return true
	}
	return r >= '\u2000' && r <= '\u200a'
}
