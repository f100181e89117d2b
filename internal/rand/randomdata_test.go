package rand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandLetterBytes(t *testing.T) {
	name := LetterString(20)
	assert.Len(t, name, 20)
	for _, b := range name {
		assert.True(t, (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9'))
	}
}

func TestRandBytes(t *testing.T) {
	assert.Len(t, Bytes(64), 64)
	assert.Len(t, LetterString(16), 16)
	assert.NotEqual(t, LetterString(16), LetterString(16))
}

func benchmarkRandLetterBytes(b *testing.B, size int) {
	for n := 0; n < b.N; n++ {
		_ = LetterString(size)
	}
}

func BenchmarkRandLetterBytes20(b *testing.B)   { benchmarkRandLetterBytes(b, 20) }
func BenchmarkRandLetterBytes1000(b *testing.B) { benchmarkRandLetterBytes(b, 1000) }
