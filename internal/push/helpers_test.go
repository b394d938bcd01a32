package push

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func extract(secret, salt []byte) []byte {
	return hkdf.Extract(sha256.New, secret, salt)
}

func mustExpand(t *testing.T, prk, info []byte, n int) []byte {
	t.Helper()
	out, err := expand(prk, info, n)
	require.NoError(t, err)
	return out
}
