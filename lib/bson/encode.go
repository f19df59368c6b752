package bson

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// element tags on the wire
const (
	tagDouble   = 0x01
	tagString   = 0x02
	tagDocument = 0x03
	tagArray    = 0x04
	tagBinary   = 0x05
	tagBoolean  = 0x08
	tagNull     = 0x0A
	tagInt32    = 0x10
	tagInt64    = 0x12
)

// binary elements always carry the generic subtype
const binarySubtypeGeneric = 0x00

// Encode serializes doc. The encoding is deterministic: element order is the
// document's insertion order and the length prefixes are exact.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, oops.Errorf("bson: cannot encode nil document")
	}
	out, err := encodeDocument(doc, 1)
	if err != nil {
		log.WithError(err).Debug("document encoding failed")
		return nil, err
	}
	return out, nil
}

func encodeDocument(doc *Document, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, ErrNestingLimit
	}

	var body []byte
	for i := range doc.elems {
		elem, err := encodeElement(doc.elems[i].key, doc.elems[i].value, depth)
		if err != nil {
			return nil, err
		}
		body = append(body, elem...)
	}

	// length prefix covers itself, the body and the trailing 0x00
	total := 4 + len(body) + 1
	out := make([]byte, 0, total)
	out = binary.LittleEndian.AppendUint32(out, uint32(total))
	out = append(out, body...)
	out = append(out, 0x00)
	return out, nil
}

func encodeElement(key string, value Value, depth int) ([]byte, error) {
	if !utf8.ValidString(key) {
		return nil, ErrBadUTF8
	}

	var out []byte
	switch v := value.(type) {
	case nil:
		out = appendElementHeader(out, tagNull, key)
	case bool:
		out = appendElementHeader(out, tagBoolean, key)
		if v {
			out = append(out, 0x01)
		} else {
			out = append(out, 0x00)
		}
	case int32:
		out = appendElementHeader(out, tagInt32, key)
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	case int64:
		out = appendElementHeader(out, tagInt64, key)
		out = binary.LittleEndian.AppendUint64(out, uint64(v))
	case float64:
		out = appendElementHeader(out, tagDouble, key)
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	case string:
		if !utf8.ValidString(v) {
			return nil, ErrBadUTF8
		}
		out = appendElementHeader(out, tagString, key)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v)+1))
		out = append(out, v...)
		out = append(out, 0x00)
	case []byte:
		out = appendElementHeader(out, tagBinary, key)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v)))
		out = append(out, binarySubtypeGeneric)
		out = append(out, v...)
	case Array:
		// an array is a document keyed by ascending decimal indices
		inner := NewDocument()
		for i := range v {
			if err := inner.Set(strconv.Itoa(i), v[i]); err != nil {
				return nil, err
			}
		}
		enc, err := encodeDocument(inner, depth+1)
		if err != nil {
			return nil, err
		}
		out = appendElementHeader(out, tagArray, key)
		out = append(out, enc...)
	case *Document:
		enc, err := encodeDocument(v, depth+1)
		if err != nil {
			return nil, err
		}
		out = appendElementHeader(out, tagDocument, key)
		out = append(out, enc...)
	default:
		return nil, oops.Errorf("bson: cannot encode %T under key %q: %w", value, key, ErrBadValue)
	}
	return out, nil
}

func appendElementHeader(out []byte, tag byte, key string) []byte {
	out = append(out, tag)
	out = append(out, key...)
	out = append(out, 0x00)
	return out
}
