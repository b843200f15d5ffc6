package types

import (
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/serde"
	"golang.org/x/xerrors"
)

// Load reads the account at the address of the snapshot. The boolean is false
// when the account does not exist.
func Load[T Account](ctx serde.Context, snap store.Readable, addr address.Address) (T, bool, error) {
	var zero T

	data, err := snap.Get(addr[:])
	if err != nil {
		return zero, false, xerrors.Errorf("failed to read %v: %v", addr, err)
	}

	if data == nil {
		return zero, false, nil
	}

	account, err := Decode[T](ctx, data)
	if err != nil {
		return zero, false, xerrors.Errorf("account %v: %v", addr, err)
	}

	return account, true, nil
}

// Exists returns true when an account is stored at the address.
func Exists(snap store.Readable, addr address.Address) (bool, error) {
	data, err := snap.Get(addr[:])
	if err != nil {
		return false, xerrors.Errorf("failed to read %v: %v", addr, err)
	}

	return data != nil, nil
}

// Save writes the account at the address of the snapshot.
func Save(ctx serde.Context, snap store.Writable, addr address.Address, account Account) error {
	data, err := account.Serialize(ctx)
	if err != nil {
		return xerrors.Errorf("failed to serialize: %v", err)
	}

	err = snap.Set(addr[:], data)
	if err != nil {
		return xerrors.Errorf("failed to write %v: %v", addr, err)
	}

	return nil
}
