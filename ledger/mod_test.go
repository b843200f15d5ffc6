package ledger

import (
	"context"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/privdao/privdao/core/txn"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestTransientError_Error(t *testing.T) {
	err := NewTransient(ClassTimeout, xerrors.New("oops"))
	require.EqualError(t, err, "transient ledger error (timeout): oops")

	err = NewTransient(ClassRateLimited, nil)
	require.EqualError(t, err, "transient ledger error (rate_limited)")
}

func TestClassOf(t *testing.T) {
	err := xerrors.Errorf("get account: %w", NewTransient(ClassStaleNonce, nil))

	class, ok := ClassOf(err)
	require.True(t, ok)
	require.Equal(t, ClassStaleNonce, class)
	require.True(t, IsTransient(err))
	require.True(t, IsNotApplied(err))
	require.False(t, IsIndeterminate(err))

	err = xerrors.Errorf("submit: %w", context.DeadlineExceeded)
	require.True(t, IsIndeterminate(err))

	require.True(t, IsIndeterminate(NewTransient(ClassUnavailable, nil)))
	require.False(t, IsTransient(ErrNotFound))
	require.False(t, IsIndeterminate(xerrors.New("oops")))
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "finalized", StatusFinalized.String())
	require.Equal(t, "invalid", Status(42).String())
}

func TestSignatureOf(t *testing.T) {
	require.Equal(t, base58.Encode([]byte{1, 2, 3}), SignatureOf(fakeTx{id: []byte{1, 2, 3}}))
}

type fakeTx struct {
	txn.Transaction
	id []byte
}

func (tx fakeTx) GetID() []byte {
	return tx.id
}
