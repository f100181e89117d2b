// Package rand generates random fixture data for tests.
package rand

import (
	"math/rand"
	"sync"
	"time"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	mu  sync.Mutex
	gen = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec
)

// Bytes returns n random bytes.
func Bytes(n int) []byte {
	buf := make([]byte, n)
	mu.Lock()
	_, _ = gen.Read(buf)
	mu.Unlock()
	return buf
}

// LetterString returns a random string of n lowercase letters and digits.
func LetterString(n int) string {
	buf := make([]byte, n)
	mu.Lock()
	for i := range buf {
		buf[i] = alphabet[gen.Intn(len(alphabet))]
	}
	mu.Unlock()
	return string(buf)
}
