package analyzer

import (
	"math"
	"regexp"
)

// entropyCandidate matches token-like runs long enough to be a credential.
// '=' is excluded as an interior character so an assignment never scores as
// one token; base64 padding is still captured at the end.
var entropyCandidate = regexp.MustCompile(`[A-Za-z0-9+/_\-]{16,}={0,2}`)

const (
	// entropyThreshold is Shannon bits per character; random keys sit well
	// above it while identifiers and words sit below.
	entropyThreshold = 2.5
	minSecretLength  = 16
)

// ShannonEntropy calculates the Shannon entropy of a string in bits per
// character.
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	var entropy float64
	length := float64(len([]rune(s)))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// highEntropyTokens returns candidate tokens on a line whose entropy crosses
// the threshold.
func highEntropyTokens(line string) []string {
	var out []string
	for _, token := range entropyCandidate.FindAllString(line, -1) {
		if len(token) >= minSecretLength && ShannonEntropy(token) >= entropyThreshold {
			out = append(out, token)
		}
	}
	return out
}
