// Package testutil derives deterministic test inputs from fuzz bytes.
package testutil

import "github.com/p4swarm/recordcache/pkg/codec"

// ByteStream reads bytes sequentially from a byte slice.
//
// Used by fuzz tests to deterministically derive values from fuzz input.
// When the stream is exhausted, all reads return zero values. This ensures
// determinism: the same input always produces the same sequence of values.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over the given bytes.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte returns the next byte, or 0 if exhausted.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextBytes reads n bytes, padding with zeros if exhausted.
func (s *ByteStream) NextBytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	out := make([]byte, n)
	for i := range n {
		out[i] = s.NextByte()
	}

	return out
}

// NextUint32 reads 4 bytes as a little-endian uint32.
func (s *ByteStream) NextUint32() uint32 {
	var v uint32

	v |= uint32(s.NextByte())
	v |= uint32(s.NextByte()) << 8
	v |= uint32(s.NextByte()) << 16
	v |= uint32(s.NextByte()) << 24

	return v
}

// NextInt returns a non-negative int derived from the next byte.
func (s *ByteStream) NextInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}

	return int(s.NextByte()) % maxVal
}

// NextBool returns a boolean derived from the next byte.
func (s *ByteStream) NextBool() bool {
	return s.NextByte()&1 == 1
}

// NextString returns a string of length 1-maxLen from the stream.
func (s *ByteStream) NextString(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}

	length := 1 + s.NextInt(maxLen)
	bytes := s.NextBytes(length)

	// Convert to printable ASCII
	for i := range bytes {
		bytes[i] = 'a' + (bytes[i] % 26)
	}

	return string(bytes)
}

// NextKey returns a bucket key drawn from a small alphabet, so that
// collisions (and duplicate-key paths) are common.
func (s *ByteStream) NextKey() string {
	const alphabet = "abcAB-_.ß"

	keys := []rune(alphabet)
	n := 1 + s.NextInt(3)
	out := make([]rune, n)

	for i := range out {
		out[i] = keys[s.NextInt(len(keys))]
	}

	return string(out)
}

// NextValue returns a record value in canonical form: nil, bool, int64,
// float64, string, []any or [codec.Map]. depth bounds nesting.
func (s *ByteStream) NextValue(depth int) any {
	kinds := 7
	if depth <= 0 {
		kinds = 5
	}

	switch s.NextInt(kinds) {
	case 0:
		return nil
	case 1:
		return s.NextBool()
	case 2:
		return int64(int32(s.NextUint32())) * int64(s.NextInt(4)+1)
	case 3:
		return float64(int32(s.NextUint32())) / 8
	case 4:
		return s.NextString(12)
	case 5:
		n := s.NextInt(4)
		list := make([]any, n)

		for i := range list {
			list[i] = s.NextValue(depth - 1)
		}

		return list
	default:
		var m codec.Map

		for range s.NextInt(4) {
			m.Set(s.NextString(6), s.NextValue(depth-1))
		}

		return m
	}
}
