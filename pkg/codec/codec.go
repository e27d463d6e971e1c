// Package codec encodes semi-structured records to a self-describing byte
// form and back.
//
// The wire format is MessagePack. Every encoded value carries its own type
// and length tags, so a buffer holding encode(a)+encode(b)+... can be split
// back into elements with [DecodeNext] alone. Maps are ordered: [Map] keeps
// insertion order and it round-trips.
//
// Decoded values always use a small canonical set of Go types:
//
//	nil, bool, int64, float64, string, []any, Map
//
// [Encode] accepts a wider set (all integer widths, float32, []byte,
// []string, map[string]any, map[string]string) and narrows it to the same
// canonical form on decode. Plain Go maps have no order; their keys are
// sorted so that encoding stays deterministic.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// maxDepth bounds nesting on both encode and decode.
const maxDepth = 512

// Encode returns the encoding of v.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer

	if err := EncodeTo(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// EncodeTo writes the encoding of v to w.
//
// On error, w may have received a prefix of the encoding.
func EncodeTo(w io.Writer, v any) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(w)
	enc.UseCompactInts(true)

	return encodeValue(enc, v, 0)
}

// Decode decodes exactly one value from data.
//
// Trailing bytes after the value are an error, as is empty input.
func Decode(data []byte) (any, error) {
	v, n, err := DecodeNext(data)
	if err != nil {
		return nil, err
	}

	if n != len(data) {
		return nil, &DecodeError{Offset: n, Err: fmt.Errorf("%d trailing bytes", len(data)-n)}
	}

	return v, nil
}

// DecodeNext decodes the first value in data and reports how many bytes it
// consumed. The remaining bytes data[n:] start at the next element, if any.
func DecodeNext(data []byte) (v any, n int, err error) {
	r := bytes.NewReader(data)

	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(r)

	d := decoder{dec: dec, r: r, total: len(data)}

	v, err = d.value(0)
	if err != nil {
		return nil, 0, err
	}

	return v, d.offset(), nil
}

// Normalize returns v in the canonical decoded form, as if it had been
// written to a bucket and read back.
func Normalize(v any) (any, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

func encodeValue(enc *msgpack.Encoder, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}

	switch x := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(x)
	case int:
		return enc.EncodeInt(int64(x))
	case int8:
		return enc.EncodeInt(int64(x))
	case int16:
		return enc.EncodeInt(int64(x))
	case int32:
		return enc.EncodeInt(int64(x))
	case int64:
		return enc.EncodeInt(x)
	case uint:
		return encodeUint(enc, uint64(x))
	case uint8:
		return enc.EncodeInt(int64(x))
	case uint16:
		return enc.EncodeInt(int64(x))
	case uint32:
		return enc.EncodeInt(int64(x))
	case uint64:
		return encodeUint(enc, x)
	case float32:
		return enc.EncodeFloat64(float64(x))
	case float64:
		return enc.EncodeFloat64(x)
	case string:
		return enc.EncodeString(x)
	case []byte:
		return enc.EncodeString(string(x))
	case []string:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}

		for _, s := range x {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}

		return nil
	case []any:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}

		for i, elem := range x {
			if err := encodeValue(enc, elem, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}

		return nil
	case Map:
		return encodeMap(enc, x, depth)
	case *Map:
		if x == nil {
			return enc.EncodeNil()
		}

		return encodeMap(enc, *x, depth)
	case map[string]any:
		keys := sortedKeys(x)

		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}

		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}

			if err := encodeValue(enc, x[k], depth+1); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}

		return nil
	case map[string]string:
		keys := sortedKeys(x)

		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}

		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}

			if err := enc.EncodeString(x[k]); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

func encodeUint(enc *msgpack.Encoder, u uint64) error {
	if u > math.MaxInt64 {
		return fmt.Errorf("%w: %d overflows int64", ErrUnsupported, u)
	}

	return enc.EncodeInt(int64(u))
}

func encodeMap(enc *msgpack.Encoder, m Map, depth int) error {
	if len(m.Entries) > 1 {
		seen := make(map[string]struct{}, len(m.Entries))

		for _, e := range m.Entries {
			if _, dup := seen[e.Key]; dup {
				return fmt.Errorf("%w: duplicate map key %q", ErrUnsupported, e.Key)
			}

			seen[e.Key] = struct{}{}
		}
	}

	if err := enc.EncodeMapLen(len(m.Entries)); err != nil {
		return err
	}

	for _, e := range m.Entries {
		if err := enc.EncodeString(e.Key); err != nil {
			return err
		}

		if err := encodeValue(enc, e.Value, depth+1); err != nil {
			return fmt.Errorf("%q: %w", e.Key, err)
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// decoder walks one value. msgpack reads a *bytes.Reader directly (it is an
// io.ByteScanner), so r.Len() tracks exactly what has been consumed.
type decoder struct {
	dec   *msgpack.Decoder
	r     *bytes.Reader
	total int
}

func (d *decoder) offset() int { return d.total - d.r.Len() }

func (d *decoder) fail(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return &DecodeError{Offset: d.offset(), Err: err}
}

func (d *decoder) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, d.fail(fmt.Errorf("nesting deeper than %d", maxDepth))
	}

	c, err := d.dec.PeekCode()
	if err != nil {
		return nil, d.fail(err)
	}

	switch {
	case c == msgpcode.Nil:
		if err := d.dec.DecodeNil(); err != nil {
			return nil, d.fail(err)
		}

		return nil, nil
	case c == msgpcode.False || c == msgpcode.True:
		b, err := d.dec.DecodeBool()
		if err != nil {
			return nil, d.fail(err)
		}

		return b, nil
	case c == msgpcode.Uint64:
		u, err := d.dec.DecodeUint64()
		if err != nil {
			return nil, d.fail(err)
		}

		if u > math.MaxInt64 {
			return nil, d.fail(fmt.Errorf("integer %d overflows int64", u))
		}

		return int64(u), nil
	case msgpcode.IsFixedNum(c) || isIntCode(c):
		n, err := d.dec.DecodeInt64()
		if err != nil {
			return nil, d.fail(err)
		}

		return n, nil
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := d.dec.DecodeFloat64()
		if err != nil {
			return nil, d.fail(err)
		}

		return f, nil
	case msgpcode.IsString(c):
		s, err := d.dec.DecodeString()
		if err != nil {
			return nil, d.fail(err)
		}

		return s, nil
	case msgpcode.IsBin(c):
		b, err := d.dec.DecodeBytes()
		if err != nil {
			return nil, d.fail(err)
		}

		return string(b), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return d.array(depth)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return d.mapValue(depth)
	default:
		return nil, d.fail(fmt.Errorf("unsupported type code 0x%02x", c))
	}
}

func (d *decoder) array(depth int) (any, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, d.fail(err)
	}

	// Every element takes at least one byte, so a length beyond what is left
	// is corrupt and must not drive the allocation.
	if n > d.r.Len() {
		return nil, d.fail(fmt.Errorf("array length %d exceeds remaining %d bytes", n, d.r.Len()))
	}

	out := make([]any, 0, n)

	for range n {
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

func (d *decoder) mapValue(depth int) (any, error) {
	n, err := d.dec.DecodeMapLen()
	if err != nil {
		return nil, d.fail(err)
	}

	if n > d.r.Len()/2 {
		return nil, d.fail(fmt.Errorf("map length %d exceeds remaining %d bytes", n, d.r.Len()))
	}

	m := Map{Entries: make([]Entry, 0, n)}

	for range n {
		keyOffset := d.offset()

		k, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}

		var key string

		switch kk := k.(type) {
		case string:
			key = kk
		case int64:
			key = strconv.FormatInt(kk, 10)
		default:
			return nil, &DecodeError{Offset: keyOffset, Err: fmt.Errorf("map key of type %T", k)}
		}

		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}

		m.Set(key, v)
	}

	return m, nil
}

func isIntCode(c byte) bool {
	switch c {
	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32,
		msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64:
		return true
	}

	return false
}
