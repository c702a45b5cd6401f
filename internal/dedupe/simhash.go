package dedupe

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"regexp"
	"strings"
)

// FingerprintBits is the SimHash width.
const FingerprintBits = 64

var (
	urlPattern        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize prepares text for fingerprinting: case-folded, URLs
// stripped, whitespace collapsed.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = urlPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Simhash computes a 64-bit SimHash of normalized text over 3-gram
// shingles. Empty text hashes to zero.
func Simhash(text string) uint64 {
	if text == "" {
		return 0
	}

	var weights [FingerprintBits]int

	addToken := func(token string) {
		sum := sha256.Sum256([]byte(token))
		h := binary.LittleEndian.Uint64(sum[:8])
		for i := 0; i < FingerprintBits; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	runes := []rune(text)
	if len(runes) < 3 {
		// Too short to shingle; hash the whole text.
		addToken(text)
	} else {
		for i := 0; i+3 <= len(runes); i++ {
			addToken(string(runes[i : i+3]))
		}
	}

	var fp uint64
	for i := 0; i < FingerprintBits; i++ {
		if weights[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// HammingDistance returns the number of differing bits between two
// fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similarity maps fingerprint distance to [0,1]: 1 is identical, 0 is
// maximally distant.
func Similarity(a, b uint64) float64 {
	return 1.0 - float64(HammingDistance(a, b))/float64(FingerprintBits)
}
