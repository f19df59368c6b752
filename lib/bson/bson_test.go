package bson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmptyDocument(t *testing.T) {
	assert := assert.New(t)

	enc, err := Encode(NewDocument())
	assert.Nil(err)
	assert.Equal([]byte{0x05, 0x00, 0x00, 0x00, 0x00}, enc)
}

func TestEncodeKnownVector(t *testing.T) {
	assert := assert.New(t)

	doc := NewDocument().MustSet("msg", "hello world")
	enc, err := Encode(doc)
	assert.Nil(err)
	assert.Equal(26, len(enc))
	assert.Equal([]byte{
		0x1a, 0x00, 0x00, 0x00,
		0x02, 'm', 's', 'g', 0x00,
		0x0c, 0x00, 0x00, 0x00,
		'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd', 0x00,
		0x00,
	}, enc)
}

func TestRoundTrip(t *testing.T) {
	require := require.New(t)

	inner := NewDocument().MustSet("deep", int64(-9000000000))
	doc := NewDocument().
		MustSet("null", nil).
		MustSet("bool", true).
		MustSet("i32", int32(-42)).
		MustSet("i64", int64(1)<<40).
		MustSet("dbl", 3.25).
		MustSet("str", "héllo").
		MustSet("bin", []byte{0x00, 0x01, 0xff}).
		MustSet("arr", Array{int32(1), "two", Array{nil}}).
		MustSet("doc", inner)

	enc, err := Encode(doc)
	require.NoError(err)

	dec, err := Decode(enc, 0)
	require.NoError(err)
	require.True(doc.Equal(dec))

	// canonical encoding: re-encoding the decoded form is byte-identical
	enc2, err := Encode(dec)
	require.NoError(err)
	require.Equal(enc, enc2)
}

func TestDecodeSizeBound(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	doc := NewDocument().MustSet("k", "v")
	enc, err := Encode(doc)
	require.NoError(err)

	// exactly at the bound decodes
	dec, err := Decode(enc, len(enc))
	assert.Nil(err)
	assert.True(doc.Equal(dec))

	// one byte over the bound is rejected
	_, err = Decode(enc, len(enc)-1)
	assert.ErrorIs(err, ErrOverlong)
}

func TestDecodeTruncated(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	doc := NewDocument().MustSet("k", "value")
	enc, err := Encode(doc)
	require.NoError(err)

	for i := 1; i < len(enc); i++ {
		_, err := Decode(enc[:i], 0)
		assert.Error(err, "prefix of %d bytes must not decode", i)
	}
}

func TestDecodeDeclaredLengthMismatch(t *testing.T) {
	assert := assert.New(t)

	// declared length shorter than the body
	enc, err := Encode(NewDocument().MustSet("k", int32(7)))
	assert.Nil(err)
	enc[0] = 0x05
	_, err = Decode(enc, 0)
	assert.Error(err)

	// trailing garbage after the terminator
	enc2, err := Encode(NewDocument())
	assert.Nil(err)
	enc2 = append(enc2, 0xde, 0xad)
	_, err = Decode(enc2, 0)
	assert.ErrorIs(err, ErrOverlong)
}

func TestDecodeBadTag(t *testing.T) {
	assert := assert.New(t)

	enc := []byte{
		0x0b, 0x00, 0x00, 0x00,
		0x7f, 'k', 0x00, // unknown tag 0x7f
		0x00, 0x00, 0x00,
		0x00,
	}
	_, err := Decode(enc, 0)
	assert.ErrorIs(err, ErrBadTag)
}

func TestDecodeBadUTF8(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	enc, err := Encode(NewDocument().MustSet("s", "abcd"))
	require.NoError(err)
	// corrupt one string byte into an invalid UTF-8 sequence
	enc[len(enc)-3] = 0xff
	_, err = Decode(enc, 0)
	assert.ErrorIs(err, ErrBadUTF8)
}

func TestDecodeDuplicateKey(t *testing.T) {
	assert := assert.New(t)

	// two int32 elements under the same key
	enc := []byte{
		0x13, 0x00, 0x00, 0x00,
		0x10, 'k', 0x00, 0x01, 0x00, 0x00, 0x00,
		0x10, 'k', 0x00, 0x02, 0x00, 0x00, 0x00,
		0x00,
	}
	_, err := Decode(enc, 0)
	assert.ErrorIs(err, ErrDuplicateKey)
}

func TestNestingLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	doc := NewDocument()
	for i := 0; i < MaxDepth+1; i++ {
		doc = NewDocument().MustSet("d", doc)
	}
	_, err := Encode(doc)
	assert.ErrorIs(err, ErrNestingLimit)

	// a document at the limit still encodes and decodes
	doc = NewDocument()
	for i := 0; i < MaxDepth-1; i++ {
		doc = NewDocument().MustSet("d", doc)
	}
	enc, err := Encode(doc)
	require.NoError(err)
	dec, err := Decode(enc, 0)
	require.NoError(err)
	require.True(doc.Equal(dec))
}

func TestSetRejectsBadValues(t *testing.T) {
	assert := assert.New(t)

	doc := NewDocument()
	assert.ErrorIs(doc.Set("k", uint32(1)), ErrBadValue)
	assert.ErrorIs(doc.Set("k\x00", "v"), ErrBadKey)

	// Set replaces in place without duplicating the key
	assert.Nil(doc.Set("k", int32(1)))
	assert.Nil(doc.Set("k", int32(2)))
	assert.Equal(1, doc.Len())
	v, ok := doc.Get("k")
	assert.True(ok)
	assert.Equal(int32(2), v)
}

func TestDocumentSize(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	enc, err := Encode(NewDocument().MustSet("k", "v"))
	require.NoError(err)

	size, err := DocumentSize(enc)
	assert.Nil(err)
	assert.Equal(len(enc), size)

	_, err = DocumentSize(enc[:3])
	assert.ErrorIs(err, ErrTruncated)
}
