package ed25519

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func TestPublicKey_New(t *testing.T) {
	signer := NewSigner()

	data, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 32)

	pubkey, err := NewPublicKey(data)
	require.NoError(t, err)
	require.True(t, pubkey.Equal(signer.GetPublicKey()))

	_, err = NewPublicKey([]byte{})
	require.EqualError(t, err, "couldn't unmarshal point: invalid Ed25519 curve point")
}

func TestPublicKey_String(t *testing.T) {
	signer := NewSigner()

	data, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	require.Equal(t, base58.Encode(data), signer.GetPublicKey().String())

	pubkey, err := NewPublicKeyFactory().FromText(signer.GetPublicKey().String())
	require.NoError(t, err)
	require.True(t, pubkey.Equal(signer.GetPublicKey()))

	_, err = NewPublicKeyFactory().FromText("0OIl")
	require.Error(t, err)
}

func TestPublicKey_Equal(t *testing.T) {
	signer := NewSigner()

	require.True(t, signer.GetPublicKey().Equal(signer.GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(NewSigner().GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(struct{}{}))
}

func TestSigner_Sign(t *testing.T) {
	signer := NewSigner()

	sig, err := signer.Sign([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, signer.GetPublicKey().Verify([]byte("hello"), sig))

	err = signer.GetPublicKey().Verify([]byte("bye"), sig)
	require.EqualError(t, err, "schnorr verify failed: schnorr: invalid signature")

	err = NewSigner().GetPublicKey().Verify([]byte("hello"), sig)
	require.Error(t, err)
}

func TestSigner_FromBytes(t *testing.T) {
	signer := NewSigner()

	data, err := signer.MarshalBinary()
	require.NoError(t, err)

	restored, err := NewSignerFromBytes(data)
	require.NoError(t, err)
	require.True(t, restored.GetPublicKey().Equal(signer.GetPublicKey()))

	_, err = NewSignerFromBytes([]byte{1})
	require.Error(t, err)

	data, err = Generator{}.Generate()
	require.NoError(t, err)
	require.Len(t, data, 32)
}

func TestSignature_Equal(t *testing.T) {
	sig := NewSignature([]byte{1, 2})

	require.True(t, sig.Equal(NewSignature([]byte{1, 2})))
	require.False(t, sig.Equal(NewSignature([]byte{1})))

	other, err := NewSignatureFactory().FromBytes([]byte{1, 2})
	require.NoError(t, err)
	require.True(t, sig.Equal(other))
}

func TestOnCurve(t *testing.T) {
	data, err := NewSigner().GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	require.True(t, OnCurve(data))
	require.False(t, OnCurve([]byte{1, 2, 3}))
}
