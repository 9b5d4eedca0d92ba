// Package seed derives a deterministic large-integer seed from a file's
// metadata mapping. The same metadata always produces the same seed, so
// re-tracing an unchanged file reproduces its earlier randomized
// behavior downstream.
package seed

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"regexp"
	"strconv"

	"codetrace/internal/logging"
)

const (
	// chunkWidth is the decimal width the digest is folded over.
	chunkWidth = 20

	minDigits = 19
	maxDigits = 20
)

var seedPattern = regexp.MustCompile(`^[0-9]{19,20}$`)

// Seed is a 19- or 20-digit decimal integer. It exceeds uint64 range,
// so it is carried as its digit string and marshaled as a raw JSON
// number.
type Seed string

func (s Seed) String() string { return string(s) }

// MarshalJSON writes the seed as a bare JSON number.
func (s Seed) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("0"), nil
	}
	if !seedPattern.MatchString(string(s)) {
		return nil, fmt.Errorf("seed %q is not a 19-20 digit integer", string(s))
	}
	return []byte(s), nil
}

// UnmarshalJSON accepts the seed as a JSON number or a quoted digit
// string.
func (s *Seed) UnmarshalJSON(data []byte) error {
	text := string(data)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	if text == "0" || text == "null" {
		*s = ""
		return nil
	}
	parsed, err := Parse(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse validates an explicit seed value supplied by a caller.
func Parse(text string) (Seed, error) {
	if !seedPattern.MatchString(text) {
		return "", fmt.Errorf("seed must be a 19-20 digit numeric string, got %q", text)
	}
	return Seed(text), nil
}

// Derive computes the seed for a metadata mapping. The mapping is
// canonicalized as compact JSON with sorted keys, hashed, and the
// digest's decimal form is XOR-folded in 20-digit chunks. Results
// shorter than 19 digits are padded with digits from a generator seeded
// by the first chunk, so padding is as deterministic as the fold.
func Derive(meta map[string]string) (Seed, error) {
	canonical, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	digest := sha256.Sum256(canonical)

	digits := new(big.Int).SetBytes(digest[:]).Text(10)
	chunks := splitChunks(digits)

	folded := new(big.Int)
	for _, chunk := range chunks {
		v, ok := new(big.Int).SetString(chunk, 10)
		if !ok {
			return "", fmt.Errorf("digest chunk %q is not decimal", chunk)
		}
		folded.Xor(folded, v)
	}

	out := folded.Text(10)
	if len(out) > maxDigits {
		out = out[:maxDigits]
	}
	if len(out) < minDigits {
		out = padDigits(out, chunks[0])
	}

	logging.SeedDebug("derived %d-digit seed from %d metadata entries", len(out), len(meta))
	return Seed(out), nil
}

func splitChunks(digits string) []string {
	var chunks []string
	for i := 0; i < len(digits); i += chunkWidth {
		end := i + chunkWidth
		if end > len(digits) {
			end = len(digits)
		}
		chunks = append(chunks, digits[i:end])
	}
	return chunks
}

// padDigits right-pads a short fold result to 19 digits using a
// pseudo-random generator seeded with the first chunk's low 63 bits.
func padDigits(out, firstChunk string) string {
	first, ok := new(big.Int).SetString(firstChunk, 10)
	if !ok {
		first = big.NewInt(0)
	}
	rng := rand.New(rand.NewSource(int64(first.Uint64() & math.MaxInt64)))
	for len(out) < minDigits {
		out += strconv.Itoa(rng.Intn(10))
	}
	return out
}
