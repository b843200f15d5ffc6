// Package dao implements the native voting program. It is the authoritative
// side of the lifecycle of the proposals: the ledger serializes the
// transactions, so the checks made here cannot race each other.
//
// Every account of the program lives at an address derived from its seeds.
// Creating an account at an address already in use fails, which is what
// makes a second vote of the same voter on the same proposal, or a second
// delegation, impossible.
package dao

import (
	"github.com/privdao/privdao"
	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/execution/native"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/serde"
	"github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

const (
	// ContractName is the name of the contract.
	ContractName = "privdao.Dao"

	// CmdArg is the argument's name to indicate the kind of command we want to
	// run on the contract. Should be one of the Command type.
	CmdArg = "dao:command"

	// ArgsArg is the argument's name in the transaction that contains the
	// JSON arguments of the command.
	ArgsArg = "dao:args"
)

// Command defines a type of command for the voting contract.
type Command string

const (
	// CmdCreateProposal defines the command to create a proposal.
	CmdCreateProposal Command = "CREATE_PROPOSAL"

	// CmdInitTally defines the command to bind a tally to a computation.
	CmdInitTally Command = "INIT_TALLY"

	// CmdCastVote defines the command to record an encrypted vote.
	CmdCastVote Command = "CAST_VOTE"

	// CmdReveal defines the command to publish the results.
	CmdReveal Command = "REVEAL"

	// CmdDelegate defines the command to delegate the voting power.
	CmdDelegate Command = "DELEGATE"

	// CmdRevokeDelegation defines the command to destroy the delegation.
	CmdRevokeDelegation Command = "REVOKE_DELEGATION"
)

var instructions = map[Command]string{
	CmdCreateProposal:   "CreateProposal",
	CmdInitTally:        "InitTally",
	CmdCastVote:         "CastVote",
	CmdReveal:           "RevealResults",
	CmdDelegate:         "Delegate",
	CmdRevokeDelegation: "RevokeDelegation",
}

// InstructionOf returns the name of the instruction of the command as it
// appears in the logs.
func InstructionOf(cmd Command) string {
	return instructions[cmd]
}

// commands defines the commands of the voting contract. This interface helps
// in testing the contract.
type commands interface {
	createProposal(snap store.Snapshot, step execution.Step) error
	initTally(snap store.Snapshot, step execution.Step) error
	castVote(snap store.Snapshot, step execution.Step) error
	reveal(snap store.Snapshot, step execution.Step) error
	delegate(snap store.Snapshot, step execution.Step) error
	revokeDelegation(snap store.Snapshot, step execution.Step) error
}

// RegisterContract registers the voting contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Args returns the arguments of a transaction running the command of the
// voting contract with the JSON arguments.
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

// Contract is the voting program.
//
// - implements native.Contract
type Contract struct {
	deriver address.Deriver
	tallier mpc.Tallier
	ctx     serde.Context
	cmd     commands
}

// NewContract creates a new voting contract. The tallier is the cluster that
// owns the accumulators of the tallies.
func NewContract(deriver address.Deriver, tallier mpc.Tallier) Contract {
	contract := Contract{
		deriver: deriver,
		tallier: tallier,
		ctx:     json.NewContext(),
	}

	contract.cmd = daoCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap store.IterableSnapshot, step execution.Step) error {
	cmd := Command(step.Current.GetArg(CmdArg))
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	var fn func(store.Snapshot, execution.Step) error

	switch cmd {
	case CmdCreateProposal:
		fn = c.cmd.createProposal
	case CmdInitTally:
		fn = c.cmd.initTally
	case CmdCastVote:
		fn = c.cmd.castVote
	case CmdReveal:
		fn = c.cmd.reveal
	case CmdDelegate:
		fn = c.cmd.delegate
	case CmdRevokeDelegation:
		fn = c.cmd.revokeDelegation
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	step.Log.Add(types.InstructionLine(InstructionOf(cmd)))

	err := fn(snap, step)
	if err != nil {
		return xerrors.Errorf("failed to %s: %w", cmd, err)
	}

	privdao.Logger.Debug().
		Str("contract", "dao").
		Str("command", string(cmd)).
		Msg("command executed")

	return nil
}
