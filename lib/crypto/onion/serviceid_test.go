package onion

import (
	"strings"
	"testing"

	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAndRecover(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	key, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	pub, err := key.PublicKey()
	require.NoError(err)

	id := FromPublicKey(pub)
	assert.Equal(ServiceIdLength, len(id.String()))
	assert.Equal(id.String(), strings.ToLower(id.String()))

	fromPriv, err := FromPrivateKey(key)
	require.NoError(err)
	assert.Equal(id, fromPriv)

	// round trip through the string form
	parsed, err := FromString(id.String())
	require.NoError(err)
	assert.Equal(id, parsed)

	// the public key decodes back out
	recovered, err := parsed.PublicKey()
	require.NoError(err)
	assert.Equal(pub, recovered)
}

func TestFromStringRejectsCorruption(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	key, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	id, err := FromPrivateKey(key)
	require.NoError(err)
	valid := id.String()

	// wrong length
	_, err = FromString(valid[:ServiceIdLength-1])
	assert.ErrorIs(err, ErrInvalidServiceId)

	// uppercase is not a valid rendering
	_, err = FromString(strings.ToUpper(valid))
	assert.ErrorIs(err, ErrInvalidServiceId)

	// flip one character to break the checksum
	for i := 0; i < 4; i++ {
		corrupted := []byte(valid)
		if corrupted[i] == 'a' {
			corrupted[i] = 'b'
		} else {
			corrupted[i] = 'a'
		}
		_, err = FromString(string(corrupted))
		assert.Error(err, "corruption at index %d must be caught", i)
	}

	// invalid base32 characters
	_, err = FromString(strings.Repeat("1", ServiceIdLength))
	assert.ErrorIs(err, ErrInvalidServiceId)
}

func TestIsValid(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	key, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	id, err := FromPrivateKey(key)
	require.NoError(err)

	assert.True(IsValid(id.String()))
	assert.False(IsValid(""))
	assert.False(IsValid("not a service id"))
	assert.True(id.IsZero() == false)
	assert.True(V3OnionServiceId{}.IsZero())
}
