// Package keys derives storage keys from the logical identity of an
// attachment (owner type, owner id, field, variant, stored name).
package keys

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Identity is the logical address of one stored blob. It is only used to
// derive keys and is never persisted as-is.
type Identity struct {
	OwnerType  string
	OwnerID    int64
	Field      string
	Variant    string
	StoredName string
}

// variantMark starts every variant leaf. File leaves escape it, so a
// stored file name can never be read back as a variant.
const variantMark = "~"

// Derive returns the storage key for id. The layout is
//
//	{OwnerType}/{OwnerID}/{Field}/{StoredName}           (Variant == "")
//	{OwnerType}/{OwnerID}/{Field}/~{Variant}.{StoredName} (image variants)
//
// Every component is sanitized first so a key never contains "../" and
// never escapes the directory it is rooted at. Identities that differ in
// any component yield different keys.
func Derive(id Identity) string {
	var leaf string
	switch {
	case id.Variant == "":
		leaf = segment(id.StoredName, variantMark)
	case id.StoredName == "":
		leaf = variantMark + segment(id.Variant, "."+variantMark)
	default:
		leaf = variantMark + segment(id.Variant, "."+variantMark) + "." + segment(id.StoredName, "")
	}

	return strings.Join([]string{
		segment(id.OwnerType, ""),
		strconv.FormatInt(id.OwnerID, 10),
		segment(id.Field, ""),
		leaf,
	}, "/")
}

// WithPrefix places key below prefix. An empty prefix returns key as-is.
func WithPrefix(prefix, key string) string {
	prefix = strings.Trim(StripTraversal(prefix), "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// StripTraversal removes every "../" (and "..\") sequence from s. The
// removal repeats until none are left, so "....//" cannot reassemble one.
func StripTraversal(s string) string {
	for {
		next := strings.ReplaceAll(s, "../", "")
		next = strings.ReplaceAll(next, `..\`, "")
		if next == s {
			return s
		}
		s = next
	}
}

// segment sanitizes a single key component. Separators, '%' and control
// bytes are percent-escaped so the component stays one path element, and
// so is every byte listed in extra. A bare "." or ".." always has its dots
// escaped.
func segment(s, extra string) string {
	s = StripTraversal(s)
	if s == "." || s == ".." {
		extra += "."
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' || c == '/' || c == '\\' || c < 0x20 || c == 0x7f,
			strings.IndexByte(extra, c) >= 0:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var (
	encodedSlash = regexp.MustCompile(`%2[fF]`)
	encodedNoise = regexp.MustCompile(`(%[0-9A-Fa-f]{2}|\+)`)
)

// ObjectKey makes key safe for object storage backends, which reject or
// mangle a number of special characters. It query-escapes the key, turns
// escaped slashes back into separators and then drops every remaining
// escape sequence and '+'. The result only contains unreserved characters
// and '/', so applying ObjectKey to its own output is a no-op.
func ObjectKey(key string) string {
	escaped := url.QueryEscape(StripTraversal(key))
	escaped = encodedSlash.ReplaceAllString(escaped, "/")
	return StripTraversal(encodedNoise.ReplaceAllString(escaped, ""))
}
