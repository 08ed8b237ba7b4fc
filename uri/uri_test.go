package uri

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earthfs/kinderr"
)

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		u, err := Parse("sha256://deadbeef")
		require.NoError(t, err)
		assert.Equal(t, ContentURI{Algo: "sha256", Hash: "deadbeef"}, u)
		assert.Equal(t, "sha256://deadbeef", u.String())
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := Parse("not-a-uri")
		require.Error(t, err)
		assert.True(t, kinderr.Is(err, kinderr.Malformed))
	})

	t.Run("empty hash", func(t *testing.T) {
		_, err := Parse("sha256://")
		require.Error(t, err)
		assert.True(t, kinderr.Is(err, kinderr.Malformed))
	})

	t.Run("empty algo is still malformed by missing leading separator position", func(t *testing.T) {
		_, err := Parse("://hash")
		require.Error(t, err)
	})
}

func TestVerifyDigest(t *testing.T) {
	data := []byte("hello world")
	sum := sha256.Sum256(data)
	u := ContentURI{Algo: "sha256", Hash: hex.EncodeToString(sum[:])}

	t.Run("match", func(t *testing.T) {
		assert.NoError(t, VerifyDigest(u, data))
	})

	t.Run("mismatch", func(t *testing.T) {
		err := VerifyDigest(u, []byte("tampered"))
		require.Error(t, err)
		assert.True(t, kinderr.Is(err, kinderr.Malformed))
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		err := VerifyDigest(ContentURI{Algo: "not-a-hash", Hash: u.Hash}, data)
		require.Error(t, err)
		assert.True(t, kinderr.Is(err, kinderr.Malformed))
	})
}

func TestValidAlgo(t *testing.T) {
	assert.True(t, ValidAlgo("SHA256"))
	assert.False(t, ValidAlgo("not-a-hash"))
}
