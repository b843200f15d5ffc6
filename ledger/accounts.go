package ledger

import (
	"context"

	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

// Fetch reads and decodes the account at the address. A missing account is
// not an error: the boolean is false instead.
func Fetch[T types.Account](ctx context.Context, r Reader, addr address.Address) (T, bool, error) {
	var zero T

	account, err := r.GetAccount(ctx, addr)
	if xerrors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, xerrors.Errorf("failed to read %v: %w", addr, err)
	}

	value, err := types.Decode[T](json.NewContext(), account.Data)
	if err != nil {
		return zero, false, xerrors.Errorf("failed to decode %v: %v", addr, err)
	}

	return value, true, nil
}
