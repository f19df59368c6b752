package bson

import (
	"github.com/samber/oops"
)

var (
	// ErrTruncated is returned when an encoding ends before its declared length.
	ErrTruncated = oops.Errorf("bson: document truncated")
	// ErrOverlong is returned when an encoding exceeds the caller's size bound,
	// carries bytes after its terminator, or reaches its terminator before the
	// declared length.
	ErrOverlong = oops.Errorf("bson: document exceeds size limit")
	// ErrBadTag is returned for element tags outside the supported subset.
	ErrBadTag = oops.Errorf("bson: unsupported element tag")
	// ErrBadUTF8 is returned when a key or string value is not valid UTF-8.
	ErrBadUTF8 = oops.Errorf("bson: invalid utf8 in string")
	// ErrDuplicateKey is returned when a document contains a key twice.
	ErrDuplicateKey = oops.Errorf("bson: duplicate key in document")
	// ErrNestingLimit is returned when documents nest deeper than MaxDepth.
	ErrNestingLimit = oops.Errorf("bson: nesting limit exceeded")
	// ErrBadValue is returned when encoding a value outside the supported types.
	ErrBadValue = oops.Errorf("bson: unsupported value type")
	// ErrBadKey is returned when a key contains a NUL byte.
	ErrBadKey = oops.Errorf("bson: key contains NUL byte")
)
