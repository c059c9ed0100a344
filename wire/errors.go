package wire

import "errors"

// ErrInvalidData is returned by decode gates on a wrong packet ID, an
// invalid reliability discriminant, a bad magic cookie, or malformed UTF-8.
var ErrInvalidData = errors.New("wire: invalid data")

// ErrShortBuffer is returned when a decode runs off the end of the input.
var ErrShortBuffer = errors.New("wire: short buffer")
