package http

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DecodeText converts data to a string using the charset parameter of
// contentType. Unknown or missing charsets fall back to UTF-8.
func DecodeText(data []byte, contentType string) string {
	charset := ExtractHeaderParameter(contentType, "charset")
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return toValidUTF8(data)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return toValidUTF8(data)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return toValidUTF8(data)
	}
	return string(out)
}

func toValidUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// IsTextContentType reports whether a MIME type carries human-readable text.
func IsTextContentType(contentType string) bool {
	t := TruncateHeaderValue(NormalizeHeaderValue(contentType))
	return strings.HasPrefix(t, "text/") ||
		t == "application/json" ||
		t == "application/xml" ||
		t == "application/javascript" ||
		strings.HasSuffix(t, "+json") ||
		strings.HasSuffix(t, "+xml")
}

// asciiFilename strips diacritics and replaces remaining non-ASCII or unsafe
// characters so the name can be used in a quoted Content-Disposition parameter.
func asciiFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r >= 0x7f || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
