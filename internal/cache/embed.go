package cache

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// Dimensions is the length of every embedding vector.
const Dimensions = 128

// Embed returns a character-trigram frequency vector for the case-folded text, hashed into
// Dimensions buckets and L2-normalized. Each trigram lands in the bucket
// given by the sum of its code points modulo Dimensions. Text shorter than
// three characters yields the zero vector.
func Embed(text string) []float64 {
	runes := []rune(cases.Fold().String(strings.TrimSpace(text)))
	vec := make([]float64, Dimensions)

	for i := 0; i+2 < len(runes); i++ {
		sum := int(runes[i]) + int(runes[i+1]) + int(runes[i+2])
		vec[sum%Dimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either is zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
