package token

import (
	"testing"
	"time"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/serde/json"
	"github.com/stretchr/testify/require"
)

var testDeriver = address.NewDeriver(address.Address{1}, address.Address{2})

func TestExecute(t *testing.T) {
	contract := NewContract(testDeriver)
	signer := ed25519.NewSigner()

	err := contract.Execute(fake.NewSnapshot(), makeStep(t, signer))
	require.EqualError(t, err, "'token:command' not found in tx arg")

	contract.cmd = fakeCmd{err: fake.GetError()}

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, signer, CmdArg, string(CmdCreateMint)))
	require.EqualError(t, err, fake.Err("failed to CREATE_MINT"))

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, signer, CmdArg, string(CmdMintTo)))
	require.EqualError(t, err, fake.Err("failed to MINT_TO"))

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, signer, CmdArg, "fake"))
	require.EqualError(t, err, "unknown command: fake")
}

func TestCommand_CreateMint(t *testing.T) {
	contract := NewContract(testDeriver)
	snap := fake.NewSnapshot()
	authority := ed25519.NewSigner()

	err := contract.Execute(snap, makeTx(t, authority, CmdCreateMint, CreateMintTransaction{Label: "gate"}))
	require.NoError(t, err)

	mintAddr, err := testDeriver.Mint(addressOf(t, authority), "gate")
	require.NoError(t, err)

	mint, found, err := types.Load[types.Mint](json.NewContext(), snap, mintAddr.Address)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "gate", mint.Label)
	require.Equal(t, uint64(0), mint.Supply)

	err = contract.Execute(snap, makeTx(t, authority, CmdCreateMint, CreateMintTransaction{Label: "gate"}))
	requireCode(t, types.CodeInvalidArgument, err)

	err = contract.Execute(snap, makeTx(t, authority, CmdCreateMint, CreateMintTransaction{}))
	requireCode(t, types.CodeInvalidArgument, err)
}

func TestCommand_MintTo(t *testing.T) {
	contract := NewContract(testDeriver)
	snap := fake.NewSnapshot()
	authority := ed25519.NewSigner()
	owner := addressOf(t, ed25519.NewSigner())

	err := contract.Execute(snap, makeTx(t, authority, CmdCreateMint, CreateMintTransaction{Label: "gate"}))
	require.NoError(t, err)

	mintAddr, err := testDeriver.Mint(addressOf(t, authority), "gate")
	require.NoError(t, err)

	tx := MintToTransaction{Mint: mintAddr.Address, Owner: owner, Amount: 7}

	log := &execution.Log{}
	step := makeTx(t, authority, CmdMintTo, tx)
	step.Log = log

	err = contract.Execute(snap, step)
	require.NoError(t, err)

	err = contract.Execute(snap, makeTx(t, authority, CmdMintTo, tx))
	require.NoError(t, err)

	accountAddr, err := testDeriver.TokenAccount(owner, mintAddr.Address)
	require.NoError(t, err)

	account, found, err := types.Load[types.TokenAccount](json.NewContext(), snap, accountAddr.Address)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(14), account.Amount)
	require.Equal(t, owner, account.Owner)

	event, err := types.ParseEvent(log.Lines()[1])
	require.NoError(t, err)
	require.Equal(t, types.EventTokensMinted, event.Name)
	require.Equal(t, "7", event.Get("amount"))

	err = contract.Execute(snap, makeTx(t, ed25519.NewSigner(), CmdMintTo, tx))
	requireCode(t, types.CodeNotAuthority, err)

	tx.Amount = 0
	err = contract.Execute(snap, makeTx(t, authority, CmdMintTo, tx))
	requireCode(t, types.CodeInvalidArgument, err)

	tx.Amount = 1
	tx.Mint = address.Address{5}
	err = contract.Execute(snap, makeTx(t, authority, CmdMintTo, tx))
	requireCode(t, types.CodeInvalidTokenMint, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func addressOf(t *testing.T, signer ed25519.Signer) address.Address {
	addr, err := address.FromPublicKey(signer.GetPublicKey())
	require.NoError(t, err)

	return addr
}

func makeTx(t *testing.T, signer ed25519.Signer, cmd Command, tx interface{}) execution.Step {
	args, err := Args(cmd, tx)
	require.NoError(t, err)

	opts := make([]signed.TransactionOption, len(args))
	for i, arg := range args {
		opts[i] = signed.WithArg(arg.Key, arg.Value)
	}

	current, err := signed.NewTransaction(0, signer.GetPublicKey(), opts...)
	require.NoError(t, err)

	return execution.Step{Current: current, Time: time.Now()}
}

func makeStep(t *testing.T, signer ed25519.Signer, args ...string) execution.Step {
	opts := []signed.TransactionOption{}
	for i := 0; i+1 < len(args); i += 2 {
		opts = append(opts, signed.WithArg(args[i], []byte(args[i+1])))
	}

	tx, err := signed.NewTransaction(0, signer.GetPublicKey(), opts...)
	require.NoError(t, err)

	return execution.Step{Current: tx, Time: time.Now()}
}

func requireCode(t *testing.T, expected types.Code, err error) {
	t.Helper()

	code, ok := types.CodeOf(err)
	require.True(t, ok, "untyped error: %v", err)
	require.Equal(t, expected, code, err.Error())
}

type fakeCmd struct {
	err error
}

func (c fakeCmd) createMint(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) mintTo(snap store.Snapshot, step execution.Step) error {
	return c.err
}
