package keystore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMasterKey = "6368616e67652074686973207061737377726420746f206120736563726574ff"

func TestSealOpenRoundTrip(t *testing.T) {
	ks, err := New(testMasterKey)
	require.NoError(t, err)

	secret := []byte("KyQdeposit-key-material")
	blob, err := ks.Seal(secret)
	require.NoError(t, err)
	require.NotContains(t, string(blob), string(secret))

	got, err := ks.Open(blob)
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	ks, err := New(testMasterKey)
	require.NoError(t, err)

	blob, err := ks.Seal([]byte("secret"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0x01
	_, err = ks.Open(blob)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	ks1, err := New(testMasterKey)
	require.NoError(t, err)
	ks2, err := New(strings.Repeat("ab", 32))
	require.NoError(t, err)

	blob, err := ks1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = ks2.Open(blob)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNewValidatesMasterKey(t *testing.T) {
	_, err := New("not-hex")
	require.Error(t, err)

	_, err = New("abcd")
	require.Error(t, err)
}

func TestOpenRejectsShortBlob(t *testing.T) {
	ks, err := New(testMasterKey)
	require.NoError(t, err)

	_, err = ks.Open([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecrypt)
}
