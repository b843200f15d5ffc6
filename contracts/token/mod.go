// Package token implements the native program of the gate tokens. A mint is a
// class of tokens created by an authority; only that authority can credit the
// token accounts of the mint.
package token

import (
	"math"

	"github.com/privdao/privdao"
	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/execution/native"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/serde"
	"github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

const (
	// ContractName is the name of the contract.
	ContractName = "privdao.Token"

	// CmdArg is the argument's name to indicate the kind of command we want to
	// run on the contract. Should be one of the Command type.
	CmdArg = "token:command"

	// ArgsArg is the argument's name in the transaction that contains the
	// JSON arguments of the command.
	ArgsArg = "token:args"
)

// Command defines a type of command for the token contract.
type Command string

const (
	// CmdCreateMint defines the command to create a class of tokens.
	CmdCreateMint Command = "CREATE_MINT"

	// CmdMintTo defines the command to credit a token account.
	CmdMintTo Command = "MINT_TO"
)

// CreateMintTransaction is the argument of the creation of a mint.
type CreateMintTransaction struct {
	Label string `json:"label"`
}

// MintToTransaction is the argument of a credit of tokens.
type MintToTransaction struct {
	Mint   address.Address `json:"mint"`
	Owner  address.Address `json:"owner"`
	Amount uint64          `json:"amount"`
}

// commands defines the commands of the token contract. This interface helps in
// testing the contract.
type commands interface {
	createMint(snap store.Snapshot, step execution.Step) error
	mintTo(snap store.Snapshot, step execution.Step) error
}

// RegisterContract registers the token contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Args returns the arguments of a transaction running the command of the
// token contract.
func Args(cmd Command, tx interface{}) ([]txn.Arg, error) {
	data, err := json.NewContext().Marshal(tx)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal args: %v", err)
	}

	args := []txn.Arg{
		{Key: native.ContractArg, Value: []byte(ContractName)},
		{Key: CmdArg, Value: []byte(cmd)},
		{Key: ArgsArg, Value: data},
	}

	return args, nil
}

// Contract is the program of the gate tokens.
//
// - implements native.Contract
type Contract struct {
	deriver address.Deriver
	ctx     serde.Context
	cmd     commands
}

// NewContract creates a new token contract.
func NewContract(deriver address.Deriver) Contract {
	contract := Contract{
		deriver: deriver,
		ctx:     json.NewContext(),
	}

	contract.cmd = tokenCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap store.IterableSnapshot, step execution.Step) error {
	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdCreateMint:
		step.Log.Add(types.InstructionLine("CreateMint"))

		err := c.cmd.createMint(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to CREATE_MINT: %w", err)
		}
	case CmdMintTo:
		step.Log.Add(types.InstructionLine("MintTo"))

		err := c.cmd.mintTo(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to MINT_TO: %w", err)
		}
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	return nil
}

// tokenCommand implements the commands of the token contract.
//
// - implements commands
type tokenCommand struct {
	*Contract
}

// createMint implements commands. It performs the CREATE_MINT command.
func (c tokenCommand) createMint(snap store.Snapshot, step execution.Step) error {
	var tx CreateMintTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	if tx.Label == "" || len(tx.Label) > address.MaxSeedLen {
		return types.NewError(types.CodeInvalidArgument, "label must have 1 to %d bytes", address.MaxSeedLen)
	}

	caller, err := address.FromPublicKey(step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("invalid identity: %v", err)
	}

	mintAddr, err := c.deriver.Mint(caller, tx.Label)
	if err != nil {
		return xerrors.Errorf("mint address: %v", err)
	}

	found, err := types.Exists(snap, mintAddr.Address)
	if err != nil {
		return err
	}

	if found {
		return types.NewError(types.CodeInvalidArgument, "mint %v already exists", mintAddr.Address)
	}

	mint := types.Mint{
		Authority: caller,
		Label:     tx.Label,
		Bump:      mintAddr.Bump,
	}

	err = types.Save(c.ctx, snap, mintAddr.Address, mint)
	if err != nil {
		return err
	}

	privdao.Logger.Info().
		Str("contract", "token").
		Stringer("mint", mintAddr.Address).
		Msgf("mint '%s' created", tx.Label)

	return nil
}

// mintTo implements commands. It performs the MINT_TO command.
func (c tokenCommand) mintTo(snap store.Snapshot, step execution.Step) error {
	var tx MintToTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	if tx.Amount == 0 {
		return types.NewError(types.CodeInvalidArgument, "amount must be positive")
	}

	caller, err := address.FromPublicKey(step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("invalid identity: %v", err)
	}

	mint, found, err := types.Load[types.Mint](c.ctx, snap, tx.Mint)
	if err != nil {
		return err
	}

	if !found {
		return types.NewError(types.CodeInvalidTokenMint, "mint %v not found", tx.Mint)
	}

	if mint.Authority != caller {
		return types.NewError(types.CodeNotAuthority, "")
	}

	if mint.Supply > math.MaxUint64-tx.Amount {
		return types.NewError(types.CodeInvalidArgument, "supply overflow")
	}

	accountAddr, err := c.deriver.TokenAccount(tx.Owner, tx.Mint)
	if err != nil {
		return xerrors.Errorf("token account address: %v", err)
	}

	account, found, err := types.Load[types.TokenAccount](c.ctx, snap, accountAddr.Address)
	if err != nil {
		return err
	}

	if !found {
		account = types.TokenAccount{
			Owner: tx.Owner,
			Mint:  tx.Mint,
			Bump:  accountAddr.Bump,
		}
	}

	// The account amount never exceeds the supply.
	account.Amount += tx.Amount
	mint.Supply += tx.Amount

	err = types.Save(c.ctx, snap, tx.Mint, mint)
	if err != nil {
		return err
	}

	err = types.Save(c.ctx, snap, accountAddr.Address, account)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventTokensMinted,
		"mint", tx.Mint,
		"owner", tx.Owner,
		"account", accountAddr.Address,
		"amount", tx.Amount).Line())

	return nil
}

func (c tokenCommand) readArgs(step execution.Step, tx interface{}) error {
	data := step.Current.GetArg(ArgsArg)
	if len(data) == 0 {
		return types.NewError(types.CodeInvalidArgument, "'%s' not found in tx arg", ArgsArg)
	}

	err := c.ctx.Unmarshal(data, tx)
	if err != nil {
		return types.NewError(types.CodeInvalidArgument, "malformed args: %v", err)
	}

	return nil
}
