package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
}

func TestDeriveKeyFromPassphrase(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, MinSaltSize)

	a, err := DeriveKeyFromPassphrase("correct horse battery staple", salt)
	require.NoError(t, err)
	assert.Len(t, a, KeySize)

	b, err := DeriveKeyFromPassphrase("correct horse battery staple", salt)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveKeyFromPassphrase("correct horse battery stapler", salt)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = DeriveKeyFromPassphrase("", salt)
	assert.Error(t, err)

	_, err = DeriveKeyFromPassphrase("pass", salt[:8])
	assert.Error(t, err)

	// Derived keys work with the codec
	payload, err := NewSoulCodec().Encode(testSoul(), a)
	require.NoError(t, err)
	_, err = NewSoulCodec().Decode(payload, b)
	require.NoError(t, err)
}

func TestWipeBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	WipeBytes(data)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestSealForHolder(t *testing.T) {
	privPEM, pubPEM, err := GenerateHolderKey()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "share text", data: []byte("1:00a1ff02:0123456789abcdef")},
		{name: "binary", data: []byte{0x00, 0x01, 0xFE, 0xFF}},
		{name: "empty", data: []byte{}},
		{name: "long", data: make([]byte, 4096)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := SealForHolder(pubPEM, tc.data)
			require.NoError(t, err)
			assert.Greater(t, len(sealed), len(tc.data))

			opened, err := OpenSealed(privPEM, sealed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tc.data, opened))
		})
	}
}

func TestSealForHolderWrongKey(t *testing.T) {
	_, pubPEM, err := GenerateHolderKey()
	require.NoError(t, err)
	otherPriv, _, err := GenerateHolderKey()
	require.NoError(t, err)

	sealed, err := SealForHolder(pubPEM, []byte("secret share"))
	require.NoError(t, err)

	_, err = OpenSealed(otherPriv, sealed)
	assert.Error(t, err)

	_, err = SealForHolder([]byte("not pem"), []byte("x"))
	assert.Error(t, err)

	_, err = OpenSealed(otherPriv, []byte{0x00})
	assert.Error(t, err)
}

func TestOpenSealedTruncated(t *testing.T) {
	privPEM, pubPEM, err := GenerateHolderKey()
	require.NoError(t, err)

	sealed, err := SealForHolder(pubPEM, []byte("share"))
	require.NoError(t, err)

	_, err = OpenSealed(privPEM, sealed[:len(sealed)-1])
	assert.Error(t, err)

	_, err = OpenSealed(privPEM, sealed[:40])
	assert.Error(t, err)
}
