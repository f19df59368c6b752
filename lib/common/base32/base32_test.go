package base32

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeNotMangled(t *testing.T) {
	assert := assert.New(t)

	// Random pangram
	testInput := []byte("How vexingly quick daft zebras jump!")

	encodedString := EncodeToString(testInput)
	decodedString, err := DecodeString(encodedString)
	assert.Nil(err)

	assert.ElementsMatch(testInput, decodedString)
}

func TestServiceIdLengthEncoding(t *testing.T) {
	assert := assert.New(t)

	// 35 bytes is the decoded size of a v3 onion service id and encodes
	// to exactly 56 characters with no padding
	input := make([]byte, 35)
	for i := range input {
		input[i] = byte(i)
	}

	encoded := EncodeToString(input)
	assert.Equal(56, len(encoded))

	decoded, err := DecodeString(encoded)
	assert.Nil(err)
	assert.Equal(input, decoded)
}
