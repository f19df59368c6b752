package bson

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// DocumentSize reads the length prefix of an encoded document. It needs at
// least 4 bytes of data and does not validate the rest of the encoding.
func DocumentSize(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, ErrTruncated
	}
	size := int(int32(binary.LittleEndian.Uint32(data)))
	if size < 5 {
		return 0, ErrTruncated
	}
	return size, nil
}

// Decode parses a single encoded document. maxSize bounds the total encoded
// size; pass 0 for no bound. The declared length must match the data exactly:
// trailing bytes, short bodies, unknown tags, non-UTF-8 strings and duplicate
// keys are all rejected.
func Decode(data []byte, maxSize int) (*Document, error) {
	if maxSize > 0 && len(data) > maxSize {
		return nil, ErrOverlong
	}
	dec := decoder{data: data}
	doc, err := dec.document(1)
	if err != nil {
		log.WithError(err).Debug("document decoding failed")
		return nil, err
	}
	if dec.pos != len(data) {
		return nil, ErrOverlong
	}
	return doc, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) int32() (int32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *decoder) int64() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// cstring reads bytes up to the next NUL and validates UTF-8.
func (d *decoder) cstring() (string, error) {
	start := d.pos
	for d.pos < len(d.data) {
		if d.data[d.pos] == 0x00 {
			s := string(d.data[start:d.pos])
			d.pos++
			if !utf8.ValidString(s) {
				return "", ErrBadUTF8
			}
			return s, nil
		}
		d.pos++
	}
	return "", ErrTruncated
}

func (d *decoder) document(depth int) (*Document, error) {
	if depth > MaxDepth {
		return nil, ErrNestingLimit
	}

	declared, err := d.int32()
	if err != nil {
		return nil, err
	}
	if declared < 5 {
		return nil, ErrTruncated
	}
	end := d.pos - 4 + int(declared)
	if end > len(d.data) {
		return nil, ErrTruncated
	}

	doc := NewDocument()
	seen := make(map[string]struct{})
	for {
		if d.pos >= end {
			return nil, ErrTruncated
		}
		tag := d.data[d.pos]
		d.pos++
		if tag == 0x00 {
			// terminator must land exactly on the declared end
			if d.pos != end {
				return nil, ErrOverlong
			}
			return doc, nil
		}

		key, err := d.cstring()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			return nil, ErrDuplicateKey
		}
		seen[key] = struct{}{}

		value, err := d.value(tag, depth)
		if err != nil {
			return nil, err
		}
		doc.elems = append(doc.elems, element{key: key, value: value})
	}
}

func (d *decoder) value(tag byte, depth int) (Value, error) {
	switch tag {
	case tagNull:
		return nil, nil
	case tagBoolean:
		b, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0x00, nil
	case tagInt32:
		return d.int32()
	case tagInt64:
		return d.int64()
	case tagDouble:
		bits, err := d.int64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(uint64(bits)), nil
	case tagString:
		length, err := d.int32()
		if err != nil {
			return nil, err
		}
		if length < 1 {
			return nil, ErrTruncated
		}
		raw, err := d.take(int(length))
		if err != nil {
			return nil, err
		}
		if raw[length-1] != 0x00 {
			return nil, ErrTruncated
		}
		s := string(raw[:length-1])
		if !utf8.ValidString(s) {
			return nil, ErrBadUTF8
		}
		return s, nil
	case tagBinary:
		length, err := d.int32()
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, ErrTruncated
		}
		subtype, err := d.take(1)
		if err != nil {
			return nil, err
		}
		_ = subtype[0] // any subtype decodes as a generic blob
		raw, err := d.take(int(length))
		if err != nil {
			return nil, err
		}
		out := make([]byte, length)
		copy(out, raw)
		return out, nil
	case tagDocument:
		return d.document(depth + 1)
	case tagArray:
		// element keys are the decimal indices; order is authoritative
		inner, err := d.document(depth + 1)
		if err != nil {
			return nil, err
		}
		arr := make(Array, 0, inner.Len())
		for i := range inner.elems {
			arr = append(arr, inner.elems[i].value)
		}
		return arr, nil
	default:
		return nil, ErrBadTag
	}
}
