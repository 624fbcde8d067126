package fpcache

import (
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Tokenize NFC-normalises and lowercases text, then splits it into runs of
// letters and digits.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Fingerprint computes a bottom-k shingle signature of text.
//
// Tokens are grouped into overlapping windows of shingleSize; a text with
// fewer tokens becomes a single shingle. Each distinct shingle is hashed to
// 64 bits, the hashes are sorted and the smallest signatureSize are kept.
// Text without tokens has an empty signature.
func Fingerprint(text string, shingleSize, signatureSize int) []uint64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var shingles []string
	for i := 0; i+shingleSize <= len(tokens); i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+shingleSize], " "))
	}
	if len(shingles) == 0 {
		shingles = []string{strings.Join(tokens, " ")}
	}

	hashes := make([]uint64, 0, len(shingles))
	for _, sh := range shingles {
		hashes = append(hashes, xxhash.Sum64String(sh))
	}
	slices.Sort(hashes)
	hashes = slices.Compact(hashes)
	if len(hashes) > signatureSize {
		hashes = hashes[:signatureSize]
	}
	return hashes
}

// Jaccard returns |a∩b| / |a∪b| over two signatures treated as sets.
// Two empty signatures are identical (1.0); one empty signature shares
// nothing (0.0).
func Jaccard(a, b []uint64) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	inter := 0
	for h := range setA {
		if _, ok := setB[h]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func toSet(sig []uint64) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(sig))
	for _, h := range sig {
		set[h] = struct{}{}
	}
	return set
}
