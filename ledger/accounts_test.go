package ledger_test

import (
	"context"
	"testing"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/serde/json"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	lgr := fake.NewLedger()

	data, err := types.Delegation{Delegator: address.Address{1}, Delegate: address.Address{2}}.
		Serialize(json.NewContext())
	require.NoError(t, err)

	lgr.SetAccount(address.Address{5}, data)
	lgr.SetAccount(address.Address{6}, []byte("garbage"))

	delegation, found, err := ledger.Fetch[types.Delegation](context.Background(), lgr, address.Address{5})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, address.Address{2}, delegation.Delegate)

	_, found, err = ledger.Fetch[types.Delegation](context.Background(), lgr, address.Address{7})
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = ledger.Fetch[types.Proposal](context.Background(), lgr, address.Address{5})
	require.Error(t, err)

	_, _, err = ledger.Fetch[types.Proposal](context.Background(), lgr, address.Address{6})
	require.Error(t, err)

	_, _, err = ledger.Fetch[types.Proposal](context.Background(), fake.NewBadLedger(), address.Address{6})
	require.ErrorIs(t, err, fake.GetError())
}
