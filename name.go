package cy

import (
	"strconv"
	"strings"

	"github.com/pavel-kirienko/cy/internal/namehash"
)

// Canonicalize implements component C's canonicalization procedure: given
// the node's namespace and display name plus a raw topic name, produce the
// canonical absolute form, or an error if it would exceed MaxNameLen bytes.
func Canonicalize(namespace, displayName, rawName string) (string, error) {
	var canon string
	switch {
	case strings.HasPrefix(rawName, "/"):
		canon = rawName
	case strings.HasPrefix(rawName, "~") || strings.HasPrefix(namespace, "~"):
		name := strings.TrimPrefix(rawName, "~")
		canon = "/" + displayName + "/" + name
	default:
		canon = namespace + "/" + rawName
	}

	canon = collapseSlashes(canon)
	canon = strings.TrimSuffix(canon, "/")
	if !strings.HasPrefix(canon, "/") {
		canon = "/" + canon
	}

	if len(canon) > MaxNameLen {
		return "", newErr(KindName, "canonical name %q exceeds %d bytes", canon, MaxNameLen)
	}
	return canon, nil
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if lastWasSlash {
				continue
			}
			lastWasSlash = true
		} else {
			lastWasSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// pinnedValue reports whether the canonical name (stripped of its single
// leading slash) is a decimal integer in [1, SubjectIDReservedEnd) with no
// leading zero, per spec.md §4.C.
func pinnedValue(canonical string) (uint16, bool) {
	s := strings.TrimPrefix(canonical, "/")
	if s == "" || s[0] < '1' || s[0] > '9' {
		return 0, false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n >= uint64(SubjectIDReservedEnd) {
		return 0, false
	}
	return uint16(n), true
}

// HashTopicName computes the 64-bit name hash of a canonical topic name:
// the pinned integer value itself for pinned names, or rapidhash(name)
// (via internal/namehash) otherwise. The probability a non-pinned hash
// lands below SubjectIDReservedEnd is ~4.4e-16 and spec.md §3 directs that
// it be treated as impossible — so IsPinned, not a separately-tracked
// flag computed at hash time, is the single source of truth for
// pinned-ness throughout this package.
func HashTopicName(canonical string) uint64 {
	if v, ok := pinnedValue(canonical); ok {
		return uint64(v)
	}
	return namehash.Sum64([]byte(canonical))
}

// IsPinned reports whether hash denotes a pinned topic: hash falls in
// [0, SubjectIDReservedEnd).
func IsPinned(hash uint64) bool {
	return hash < uint64(SubjectIDReservedEnd)
}

// Discriminator returns the top 51 bits of a name hash, used by transports
// to detect subject-ID mismatches quickly (spec GLOSSARY).
func Discriminator(hash uint64) uint64 {
	return hash >> 13
}
