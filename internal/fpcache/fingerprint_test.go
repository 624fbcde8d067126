package fpcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, WORLD! 42"))
	assert.Equal(t, []string{"привет", "мир"}, Tokenize("Привет, мир"))
	assert.Empty(t, Tokenize("  --- !!! "))
}

func TestTokenize_NFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	require.NotEqual(t, composed, decomposed)
	assert.Equal(t, Tokenize(composed), Tokenize(decomposed))
}

func TestFingerprint_Deterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	a := Fingerprint(text, 5, 32)
	b := Fingerprint(text, 5, 32)

	require.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Len(t, a, 5, "nine tokens give five 5-token shingles")
	assert.IsIncreasing(t, a)
}

func TestFingerprint_ShortTextIsOneShingle(t *testing.T) {
	sig := Fingerprint("just three words", 5, 32)
	assert.Len(t, sig, 1)
}

func TestFingerprint_Empty(t *testing.T) {
	assert.Empty(t, Fingerprint("", 5, 32))
	assert.Empty(t, Fingerprint("...", 5, 32))
}

func TestFingerprint_SignatureSizeBound(t *testing.T) {
	text := ""
	for i := 0; i < 100; i++ {
		text += " w" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	sig := Fingerprint(text, 2, 8)
	assert.Len(t, sig, 8)
}

func TestFingerprint_CaseInsensitive(t *testing.T) {
	assert.Equal(t,
		Fingerprint("Lease Terms Apply Here Today", 5, 32),
		Fingerprint("lease terms apply here today", 5, 32))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard([]uint64{1}, nil))
	assert.Equal(t, 0.0, Jaccard(nil, []uint64{1}))
	assert.Equal(t, 1.0, Jaccard([]uint64{1, 2}, []uint64{2, 1}))
	assert.Equal(t, 1.0/3.0, Jaccard([]uint64{1, 2}, []uint64{2, 3}))
	assert.Equal(t, 0.5, Jaccard([]uint64{1, 2, 2}, []uint64{1}))
}
