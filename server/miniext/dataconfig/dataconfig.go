// Package dataconfig supplies the key comparator and formatter capability
// that the mini allocator needs to evaluate its range predicate and to
// render keys for diagnostics, without baking any particular key encoding
// into the allocator itself.
package dataconfig

import "fmt"

// MaxInlineKeySize bounds every key the mini allocator will ever store
// inline in a metadata entry.
const MaxInlineKeySize = 256

// Config is the data-config capability set consumed by the mini
// allocator: total-order key comparison, key copying into caller-owned
// storage, and a diagnostic formatter. The mini allocator only calls
// KeyCompare for bounded queries, so a nil Config works only with
// fully unbounded (nil, nil) queries.
type Config interface {
	// KeyCompare returns <0, 0, >0 as a is less than, equal to, or
	// greater than b, under the total order this mini allocator's keys
	// are stored in.
	KeyCompare(a, b []byte) int

	// KeyCopy copies src into *dst, growing *dst if needed.
	KeyCopy(dst *[]byte, src []byte)

	// KeyToString renders key for logging; it never fails, falling back
	// to a safe representation for anything it cannot print cleanly.
	KeyToString(key []byte) string
}

// ByteConfig is the default Config: keys compare as raw byte strings,
// shorter-is-less on a shared prefix, matching the comparison basicValue
// uses for untyped values.
type ByteConfig struct{}

// NewByteConfig returns the byte-lexicographic Config.
func NewByteConfig() *ByteConfig {
	return &ByteConfig{}
}

func (c *ByteConfig) KeyCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (c *ByteConfig) KeyCopy(dst *[]byte, src []byte) {
	if cap(*dst) < len(src) {
		*dst = make([]byte, len(src))
	} else {
		*dst = (*dst)[:len(src)]
	}
	copy(*dst, src)
}

func (c *ByteConfig) KeyToString(key []byte) string {
	if len(key) == 0 {
		return "<unbounded>"
	}
	if len(key) > 32 {
		return fmt.Sprintf("%x...(%d bytes)", key[:32], len(key))
	}
	return fmt.Sprintf("%x", key)
}
