// Package ballot encrypts the vote choices before they leave the voter.
//
// Every voter of a proposal encrypts under the same key, the one of the
// computation bound to the proposal's tally, so that the cluster can sum the
// ballots without a key per voter. Each ballot carries a fresh random nonce:
// two ballots of the same choice never share a ciphertext. The computation id
// is authenticated with the ballot so that it cannot be replayed against the
// tally of another proposal.
//
// The layout of a ballot is the version byte, the 24 bytes nonce, then the
// sealed choice byte with its 16 bytes tag.
package ballot

import (
	"crypto/cipher"
	"io"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/mpc"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/xerrors"
)

const (
	// Version is the layout version of the ballots.
	Version byte = 1

	// Size is the length of a ballot.
	Size = 1 + chacha20poly1305.NonceSizeX + 1 + chacha20poly1305.Overhead

	adTag = "privdao-ballot-v1"
)

// Encrypter seals the choices with nonces read from its source.
type Encrypter struct {
	rand io.Reader
}

// NewEncrypter returns an encrypter that reads the nonces from the source.
func NewEncrypter(rand io.Reader) Encrypter {
	return Encrypter{rand: rand}
}

var defaultEncrypter = NewEncrypter(crypto.CryptographicRandomGenerator{})

// EncryptChoice seals the choice under the context with a nonce of the
// cryptographic random generator.
func EncryptChoice(choice types.Choice, ctx mpc.Context) ([]byte, error) {
	return defaultEncrypter.EncryptChoice(choice, ctx)
}

// EncryptChoice seals the choice under the context.
func (e Encrypter) EncryptChoice(choice types.Choice, ctx mpc.Context) ([]byte, error) {
	if !choice.Valid() {
		return nil, types.NewError(types.CodeInvalidChoice, "%d", choice)
	}

	aead, err := newAEAD(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+aead.NonceSize(), Size)
	out[0] = Version

	nonce := out[1:]

	_, err = io.ReadFull(e.rand, nonce)
	if err != nil {
		return nil, xerrors.Errorf("failed to generate nonce: %v", err)
	}

	return aead.Seal(out, nonce, []byte{byte(choice)}, AssociatedData(ctx.ComputationID)), nil
}

// Open returns the choice of the ballot. Only the holder of the context key,
// the cluster, can open a ballot.
func Open(ciphertext []byte, ctx mpc.Context) (types.Choice, error) {
	if len(ciphertext) != Size {
		return 0, xerrors.Errorf("invalid ballot length %d", len(ciphertext))
	}

	if ciphertext[0] != Version {
		return 0, xerrors.Errorf("unsupported ballot version %d", ciphertext[0])
	}

	aead, err := newAEAD(ctx)
	if err != nil {
		return 0, err
	}

	nonce := ciphertext[1 : 1+aead.NonceSize()]

	plaintext, err := aead.Open(nil, nonce, ciphertext[1+aead.NonceSize():], AssociatedData(ctx.ComputationID))
	if err != nil {
		return 0, xerrors.Errorf("decryption or authentication failed: %v", err)
	}

	choice := types.Choice(plaintext[0])
	if !choice.Valid() {
		return 0, types.NewError(types.CodeInvalidChoice, "%d", choice)
	}

	return choice, nil
}

// AssociatedData returns the data authenticated with every ballot of the
// computation.
func AssociatedData(id mpc.ComputationID) []byte {
	return append([]byte(adTag), id[:]...)
}

func newAEAD(ctx mpc.Context) (cipher.AEAD, error) {
	if ctx.ComputationID.IsZero() {
		return nil, types.NewError(types.CodeUninitializedState, "missing computation id")
	}

	aead, err := chacha20poly1305.NewX(ctx.Key)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cipher: %v", err)
	}

	return aead, nil
}
