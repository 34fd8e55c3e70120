package hash

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	tests := []struct {
		alg  string
		size int
	}{
		{alg: "SHA-256", size: 32},
		{alg: "SHA-384", size: 48},
		{alg: "SHA-512", size: 64},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			d, err := Digest([]byte("abc"), tt.alg)
			require.NoError(t, err)
			require.Len(t, d, tt.size)
		})
	}

	d, err := Digest([]byte("abc"), "SHA-256")
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(d))

	_, err = Digest([]byte("abc"), "MD5")
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte("abc"))
	require.Len(t, strings.Split(fp, ":"), 32)
	require.True(t, strings.HasPrefix(fp, "BA:78:16:BF"))
}
