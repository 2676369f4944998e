// Package similarity implements content fingerprinting and SimHash near-duplicate detection.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"harvester/internal/textutil"
)

// ZeroHash is the SimHash of empty or whitespace-only text.
const ZeroHash = "0000000000000000"

// Fingerprint returns the exact-duplicate key for an item.
func Fingerprint(title, source string, publishedAt *time.Time) string {
	date := ""
	if publishedAt != nil {
		date = publishedAt.UTC().Format(time.RFC3339)
	}
	key := strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(source) + "|" + date
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SimHash computes a 64-bit locality-sensitive hash of text, encoded as 16 lowercase hex characters.
func SimHash(text string) string {
	tokens := textutil.Tokens(text)
	if len(tokens) == 0 {
		return ZeroHash
	}

	var weights [64]int
	for _, tok := range tokens {
		h := tokenHash(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%016x", out)
}

func tokenHash(tok string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	return h.Sum64()
}

// HammingDistance counts the positions at which the hex encodings of a and b differ.
// It compares hex characters rather than bits; dedup thresholds are tuned against this scale.
// Hashes of unequal length count every missing position as a difference.
func HammingDistance(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if len(a) < len(b) {
		a, b = b, a
	}
	dist := len(a) - len(b)
	for i := 0; i < len(b); i++ {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}

// IsNearDuplicate reports whether candidate is within threshold of any known hash.
// The all-zero hash never matches, since it carries no content.
func IsNearDuplicate(candidate string, known []string, threshold int) bool {
	if candidate == "" || candidate == ZeroHash {
		return false
	}
	for _, k := range known {
		if k == "" || k == ZeroHash {
			continue
		}
		if HammingDistance(candidate, k) <= threshold {
			return true
		}
	}
	return false
}
