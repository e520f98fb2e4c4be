// Package encoding normalizes the path strings stored in asset metadata and
// decodes the legacy EUC-KR names found in GRF archives.
package encoding

import (
	"bytes"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LegacyName converts an archive name to UTF-8. Valid UTF-8 is kept as is,
// anything else is decoded as EUC-KR. Undecodable bytes are returned
// unchanged.
func LegacyName(data []byte) string {
	if utf8.Valid(data) {
		return norm.NFC.String(string(data))
	}
	result, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return norm.NFC.String(string(result))
}

// CString decodes a NUL-terminated legacy name.
func CString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return LegacyName(data)
}

// ToLegacy encodes a UTF-8 name as EUC-KR. Names with characters outside
// EUC-KR are returned as their UTF-8 bytes.
func ToLegacy(s string) []byte {
	result, _, err := transform.Bytes(korean.EUCKR.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return result
}

// NormalizePath returns the canonical form of a path stored in metadata:
// forward slashes, cleaned, NFC. An empty path stays empty.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return norm.NFC.String(p)
}

// FoldPath returns a lookup key for case-insensitive path matching.
func FoldPath(p string) string {
	return strings.ToLower(NormalizePath(p))
}

// RelativeLink returns the path of target relative to the directory holding
// from, both given relative to the same root. The result is normalized.
func RelativeLink(from, target string) string {
	dir := path.Dir(NormalizePath(from))
	rel, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(NormalizePath(target)))
	if err != nil {
		return NormalizePath(target)
	}
	return NormalizePath(filepath.ToSlash(rel))
}

// ResolveLink is the inverse of RelativeLink: it joins a link stored in the
// metadata of from onto from's directory.
func ResolveLink(from, link string) string {
	return NormalizePath(path.Join(path.Dir(NormalizePath(from)), NormalizePath(link)))
}
