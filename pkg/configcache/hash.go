package configcache

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
)

// ComputeHash computes a block's content hash as 32 hex characters of a
// SHAKE-256 digest over the canonical (sorted-key) JSON encoding of items
// (§3, §9 open question — SHAKE-256 was chosen over MD5/SHA-1 for a
// collision-resistant variable-length digest that can be truncated cleanly;
// golang.org/x/crypto/sha3 is the library the pack uses for this primitive).
func ComputeHash(items map[string]ItemConfig) string {
	canonical := canonicalizeItems(items)

	h := sha3.NewShake256()
	h.Write([]byte(canonical))
	digest := make([]byte, 16) // 16 bytes -> 32 hex characters
	h.Read(digest)
	return hex.EncodeToString(digest)
}

// newBlockUUID mints a fresh block identifier.
func newBlockUUID() string {
	return uuid.NewString()
}

// canonicalizeItems renders items as JSON with map keys sorted at every
// level, so that semantically identical configuration always hashes
// identically regardless of map iteration order.
func canonicalizeItems(items map[string]ItemConfig) string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.WriteString(canonicalizeValue(map[string]any(toAnyMap(items[k]))))
	}
	b.WriteByte('}')
	return b.String()
}

func toAnyMap(m ItemConfig) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func canonicalizeValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.WriteString(canonicalizeValue(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalizeValue(item))
		}
		b.WriteByte(']')
		return b.String()
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case nil:
		return "null"
	default:
		if encoded, err := codec.Default.Marshal(val); err == nil {
			var generic any
			if err := codec.Default.Unmarshal(encoded, &generic); err == nil {
				return canonicalizeValue(generic)
			}
		}
		return strconv.Quote(toStringFallback(val))
	}
}

func toStringFallback(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
