package dataconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteConfigKeyCompare(t *testing.T) {
	c := NewByteConfig()

	cases := []struct {
		name     string
		a, b     []byte
		wantSign int
	}{
		{"equal", []byte("abc"), []byte("abc"), 0},
		{"less lexicographic", []byte("abc"), []byte("abd"), -1},
		{"greater lexicographic", []byte("abd"), []byte("abc"), 1},
		{"shorter is less on shared prefix", []byte("ab"), []byte("abc"), -1},
		{"longer is greater on shared prefix", []byte("abc"), []byte("ab"), 1},
		{"empty vs non-empty", []byte{}, []byte("a"), -1},
		{"both empty", []byte{}, []byte{}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.KeyCompare(tc.a, tc.b)
			switch {
			case tc.wantSign < 0:
				assert.Negative(t, got)
			case tc.wantSign > 0:
				assert.Positive(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestByteConfigKeyCopy(t *testing.T) {
	c := NewByteConfig()

	var dst []byte
	c.KeyCopy(&dst, []byte("hello"))
	assert.Equal(t, []byte("hello"), dst)

	// Reusing an existing, larger buffer must not retain stale tail bytes.
	dst = make([]byte, 0, 16)
	c.KeyCopy(&dst, []byte("hi"))
	assert.Equal(t, []byte("hi"), dst)

	// Source mutation after copy must not affect dst.
	src := []byte("mutable")
	c.KeyCopy(&dst, src)
	src[0] = 'X'
	assert.Equal(t, byte('m'), dst[0])
}

func TestByteConfigKeyToString(t *testing.T) {
	c := NewByteConfig()

	assert.Equal(t, "<unbounded>", c.KeyToString(nil))
	assert.Equal(t, "<unbounded>", c.KeyToString([]byte{}))
	assert.Equal(t, "68656c6c6f", c.KeyToString([]byte("hello")))

	long := make([]byte, 64)
	for i := range long {
		long[i] = byte(i)
	}
	s := c.KeyToString(long)
	assert.Contains(t, s, "...(64 bytes)")
}
