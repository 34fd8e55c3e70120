package cryptoroot

import (
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChain(t *testing.T) {
	chain, err := NewChain("verifier.example")
	require.NoError(t, err)
	require.Len(t, chain.X5C, 2)
	require.Equal(t, []string{"verifier.example"}, chain.Leaf.DNSNames)

	der, err := base64.StdEncoding.DecodeString(chain.X5C[0])
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     chain.RootPool(),
		DNSName:   "verifier.example",
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	require.NoError(t, err)
}

func TestLoadChainPersistsRoot(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadChain(dir, "verifier.example")
	require.NoError(t, err)

	second, err := LoadChain(dir, "verifier.example")
	require.NoError(t, err)

	require.Equal(t, first.Root.Raw, second.Root.Raw)
	require.NotEqual(t, first.Leaf.Raw, second.Leaf.Raw)
	require.Equal(t, first.X5C[1], second.X5C[1])
}

func TestCalcKID(t *testing.T) {
	chain, err := NewChain("verifier.example")
	require.NoError(t, err)

	require.Len(t, CalcKID(&chain.Key.PublicKey, "sha1"), 20)
	require.Len(t, CalcKID(&chain.Key.PublicKey, "sha256"), 32)
	require.Equal(t, CalcKID(&chain.Key.PublicKey, "sha256"), CalcKID(&chain.Key.PublicKey, "other"))
}
