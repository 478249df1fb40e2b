package ipset

import (
	"strings"

	"github.com/google/uuid"
)

// room left for "-src-ipv4" inside the kernel name limit.
const maxTokenLen = maxSetNameLen - len("-src-ipv4")

// length of the digest suffix used when a token has to be shortened.
const tokenDigestLen = 8

// SetToken turns an external identifier into a token that is safe inside a
// set name. UUIDs collapse to their 32 hex digits, anything else keeps only
// [a-z0-9_] after lowercasing. A token longer than 22 bytes keeps its
// prefix and ends with a digest of the whole identifier, an identifier with
// no usable byte becomes "id_" plus the digest. The result is never empty.
func SetToken(id string) string {
	var token, key string
	if u, err := uuid.Parse(id); err == nil {
		key = u.String()
		token = strings.ReplaceAll(key, "-", "")
	} else {
		key = id
		token = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
				return r
			}
			return -1
		}, strings.ToLower(id))
	}
	switch {
	case len(token) == 0:
		token = "id_" + tokenDigest(key)
	case len(token) > maxTokenLen:
		token = token[:maxTokenLen-tokenDigestLen-1] + "_" + tokenDigest(key)
	}
	return token
}

func tokenDigest(key string) string {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	return strings.ReplaceAll(sum.String(), "-", "")[:tokenDigestLen]
}

// SetName is the full set name for id, direction and family.
func SetName(id string, isSrc bool, isIPv4 bool) string {
	var sb strings.Builder
	sb.WriteString(SetToken(id))
	if isSrc {
		sb.WriteString("-src")
	} else {
		sb.WriteString("-dst")
	}
	if isIPv4 {
		sb.WriteString("-ipv4")
	} else {
		sb.WriteString("-ipv6")
	}
	return sb.String()
}
