package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"Agent-Id=agent-1", " Model =m=1", "Empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Agent-Id": "agent-1", "Model": "m=1", "Empty": ""}, tags)

	_, err = parseTags([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseTags([]string{"=value"})
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key, err := cryptoutils.GenerateKey()
	require.NoError(t, err)

	parsed, err := parseKey(" " + hex.EncodeToString(key) + "\n")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = parseKey("abcd")
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyLength)
	_, err = parseKey("zz")
	assert.Error(t, err)
}

func TestCombineShares(t *testing.T) {
	key, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	sharer := kms.NewPrimeFieldSharer()
	_, shares, err := sharer.Split(key, 3, 5)
	require.NoError(t, err)

	combined, err := combineShares(sharer, []interfaces.KeyShare{shares[0], shares[3], shares[4]})
	require.NoError(t, err)
	assert.Equal(t, key, combined)

	_, err = combineShares(sharer, shares[:1])
	assert.ErrorIs(t, err, interfaces.ErrInsufficientShares)

	_, err = combineShares(sharer, []interfaces.KeyShare{shares[0], shares[0]})
	assert.Error(t, err)
}

func TestReadPayload(t *testing.T) {
	dir := t.TempDir()
	raw := []byte{0x41, 0x54, 0x00, 0xff}

	rawPath := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(rawPath, raw, 0o600))
	got, err := readPayload(rawPath, false)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	hexPath := filepath.Join(dir, "payload.hex")
	require.NoError(t, os.WriteFile(hexPath, []byte(strings.ToUpper(hex.EncodeToString(raw))+"\n"), 0o600))
	got, err = readPayload(hexPath, true)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = readPayload(rawPath, true)
	assert.Error(t, err)
}
