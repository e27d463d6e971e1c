package codec

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every [*DecodeError].
//
//	if errors.Is(err, codec.ErrDecode) {
//	    // bytes are damaged; rebuild from the source of truth
//	}
var ErrDecode = errors.New("codec: decode")

// ErrUnsupported is returned by [Encode] for values outside the record model
// (channels, funcs, structs, non-string map keys, ...).
var ErrUnsupported = errors.New("codec: unsupported value")

// DecodeError reports malformed or truncated input.
type DecodeError struct {
	// Offset is the byte offset within the input at which decoding failed.
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec: decode at offset %d", e.Offset)
	}

	return fmt.Sprintf("codec: decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
