package redemption

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet leaves out 0/O and 1/I. Its 32 symbols divide 256 evenly, so
// mapping a random byte onto it is unbiased.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength yields 80 bits of entropy.
const DefaultCodeLength = 16

// Generator produces candidate code strings.
type Generator func() (string, error)

// RandomGenerator returns a Generator drawing length symbols from crypto/rand.
func RandomGenerator(length int) Generator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return func() (string, error) {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for i, b := range buf {
			buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		return string(buf), nil
	}
}
