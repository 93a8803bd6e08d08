// Package encoding provides text decoding utilities for model source files.
package encoding

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeUTF8 converts raw bytes to a UTF-8 string. A leading byte order mark
// is stripped and invalid sequences become U+FFFD.
func DecodeUTF8(data []byte) string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	result, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(result)
}

// ObjectName returns the display part of an FBX object name. Binary FBX
// stores names as "Name\x00\x01Class".
func ObjectName(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}
