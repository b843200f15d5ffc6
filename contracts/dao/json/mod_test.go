package json

import (
	"testing"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/mpc"
	sjson "github.com/privdao/privdao/serde/json"
	"github.com/stretchr/testify/require"
)

func TestAccountFormat_Proposal(t *testing.T) {
	ctx := sjson.NewContext()

	p := types.Proposal{
		ID:           7,
		Authority:    address.Address{1},
		Title:        "Fund the audit",
		VotingEndsAt: 1700000000,
		GateMint:     address.Address{2},
		MinBalance:   10,
		Quorum:       2,
		IsActive:     true,
		TotalVotes:   1,
	}

	data, err := p.Serialize(ctx)
	require.NoError(t, err)

	d := address.KindProposal.Discriminator()
	require.Equal(t, d[:], data[:8])
	require.Equal(t, types.SchemaVersion, data[8])

	decoded, err := types.Decode[types.Proposal](ctx, data)
	require.NoError(t, err)
	require.Equal(t, p, decoded)

	_, err = types.Decode[types.Tally](ctx, data)
	require.EqualError(t, err, "expected Tally account, got Proposal")
}

func TestAccountFormat_AllKinds(t *testing.T) {
	ctx := sjson.NewContext()

	accounts := []types.Account{
		types.Tally{Proposal: address.Address{1}, ComputationID: mpc.ComputationID{3}, Accumulator: []byte{1, 2}},
		types.VoteRecord{Proposal: address.Address{1}, Voter: address.Address{4}, VotedAt: 5, Ciphertext: []byte{6}},
		types.Delegation{Delegator: address.Address{1}, Delegate: address.Address{2}, CreatedAt: 3},
		types.Mint{Authority: address.Address{1}, Label: "gate", Supply: 100},
		types.TokenAccount{Owner: address.Address{1}, Mint: address.Address{2}, Amount: 100},
	}

	for _, account := range accounts {
		data, err := account.Serialize(ctx)
		require.NoError(t, err)

		decoded, err := types.NewAccountFactory().AccountOf(ctx, data)
		require.NoError(t, err)
		require.Equal(t, account, decoded)
	}
}

func TestAccountFormat_Decode_Corrupted(t *testing.T) {
	ctx := sjson.NewContext()
	format := accountFormat{}

	data, err := types.Delegation{}.Serialize(ctx)
	require.NoError(t, err)

	_, err = format.Decode(ctx, data[:5])
	require.EqualError(t, err, "account too short (5 bytes)")

	bad := append([]byte{}, data...)
	bad[8] = 9
	_, err = format.Decode(ctx, bad)
	require.EqualError(t, err, "unsupported schema version 9")

	bad = append([]byte{}, data...)
	bad[0] ^= 0xff
	_, err = format.Decode(ctx, bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown discriminator")

	bad = append([]byte{}, data[:9]...)
	bad = append(bad, []byte(`{"delegator":"11111111111111111111111111111111","extra":1}`)...)
	_, err = format.Decode(ctx, bad)
	require.EqualError(t, err, `couldn't unmarshal Delegation: json: unknown field "extra"`)

	bad = append([]byte{}, data[:9]...)
	bad = append(bad, []byte(`{"delegator":"not-base58"}`)...)
	_, err = format.Decode(ctx, bad)
	require.Error(t, err)

	_, err = types.NewAccountFactory().AccountOf(ctx, data[:1])
	require.EqualError(t, err, "couldn't decode account: account too short (1 bytes)")
}

func TestAccountFormat_Encode_Wrong(t *testing.T) {
	_, err := accountFormat{}.Encode(sjson.NewContext(), nil)
	require.EqualError(t, err, "unsupported message of type '<nil>'")
}
