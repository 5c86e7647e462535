package store

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the terms of text into a signed term-frequency vector
// of the given dimension and L2-normalizes it. Text without any term of two
// or more characters has no fingerprint and returns nil.
func Fingerprint(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	vec := make([]float32, dim)
	seen := false
	for _, t := range terms {
		if len([]rune(t)) < 2 {
			continue
		}
		sum := blake3.Sum256([]byte(t))
		idx := binary.LittleEndian.Uint32(sum[:4]) % uint32(dim)
		if sum[4]&1 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
		seen = true
	}
	if !seen {
		return nil
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// every term cancelled out
		return nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
