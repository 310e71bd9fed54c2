package simhash

import (
	"crypto/md5"
	"encoding/binary"
	"math/bits"
	"strings"
	"unicode"

	"github.com/ternarybob/trawler/internal/models"
)

// DefaultBits is the fingerprint width used throughout the system.
const DefaultBits = 64

// Fingerprinter computes simhash fingerprints over tokenized text.
type Fingerprinter struct {
	bits int
}

// New creates a fingerprinter with the given bit width (1..64).
func New(bitWidth int) (*Fingerprinter, error) {
	if bitWidth < 1 || bitWidth > 64 {
		return nil, models.NewValidationError("bit width %d outside [1,64]", bitWidth)
	}
	return &Fingerprinter{bits: bitWidth}, nil
}

// Bits returns the configured fingerprint width.
func (f *Fingerprinter) Bits() int {
	return f.bits
}

// Fingerprint computes the simhash of text. Each token's MD5 low bits vote
// per bit position; the fingerprint sets a bit where the vote is positive.
func (f *Fingerprinter) Fingerprint(text string) (uint64, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0, models.NewValidationError("no tokens in input text")
	}

	vector := make([]int, f.bits)
	for _, token := range tokens {
		h := tokenHash(token, f.bits)
		for i := 0; i < f.bits; i++ {
			if h&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < f.bits; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp, nil
}

// Distance returns the Hamming distance between two fingerprints of this
// fingerprinter's width.
func (f *Fingerprinter) Distance(a, b uint64) int {
	return HammingDistance(a, b)
}

// Similarity converts a Hamming distance into a 0-100 percentage.
func (f *Fingerprinter) Similarity(a, b uint64) float64 {
	d := HammingDistance(a, b)
	return (1 - float64(d)/float64(f.bits)) * 100
}

// Tokenize lowercases text, replaces every rune that is not a word character
// or whitespace with a space, and splits on whitespace.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	cleaned := strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, lowered)
	return strings.Fields(cleaned)
}

// tokenHash takes the low `width` bits of the token's MD5.
func tokenHash(token string, width int) uint64 {
	sum := md5.Sum([]byte(token))
	// The digest read as a big-endian integer; its low 64 bits are the
	// trailing 8 bytes.
	h := binary.BigEndian.Uint64(sum[8:16])
	if width == 64 {
		return h
	}
	return h & ((1 << uint(width)) - 1)
}

// HammingDistance counts differing bit positions.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// ToSigned encodes an unsigned 64-bit fingerprint for storage in a signed
// 64-bit column. Values ≥ 2^63 wrap to negative.
func ToSigned(u uint64) int64 {
	return int64(u)
}

// FromSigned is the inverse of ToSigned.
func FromSigned(s int64) uint64 {
	return uint64(s)
}
