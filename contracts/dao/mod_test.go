package dao

import (
	"context"
	"testing"
	"time"

	"github.com/privdao/privdao/ballot"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/contracts/token"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/mpc/local"
	"github.com/privdao/privdao/serde/json"
	"github.com/stretchr/testify/require"
)

var testDeriver = address.NewDeriver(address.Address{1}, address.Address{2})

func TestExecute(t *testing.T) {
	contract := NewContract(testDeriver, local.NewCluster(nil))

	err := contract.Execute(fake.NewSnapshot(), makeStep(t, ed25519.NewSigner()))
	require.EqualError(t, err, "'dao:command' not found in tx arg")

	contract.cmd = fakeCmd{err: fake.GetError()}

	for cmd := range instructions {
		log := &execution.Log{}
		step := makeStep(t, ed25519.NewSigner(), CmdArg, string(cmd))
		step.Log = log

		err = contract.Execute(fake.NewSnapshot(), step)
		require.EqualError(t, err, fake.Err("failed to "+string(cmd)))
		require.Equal(t, []string{types.InstructionLine(InstructionOf(cmd))}, log.Lines())
	}

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, ed25519.NewSigner(), CmdArg, "fake"))
	require.EqualError(t, err, "unknown command: fake")

	contract.cmd = fakeCmd{}
	err = contract.Execute(fake.NewSnapshot(), makeStep(t, ed25519.NewSigner(), CmdArg, string(CmdReveal)))
	require.NoError(t, err)
}

func TestArgs(t *testing.T) {
	args, err := Args(CmdDelegate, types.DelegateTransaction{})
	require.NoError(t, err)
	require.Len(t, args, 3)
	require.Equal(t, ContractName, string(args[0].Value))
	require.Equal(t, string(CmdDelegate), string(args[1].Value))

	_, err = Args(CmdDelegate, make(chan int))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to marshal args: ")
}

func TestCommand_CreateProposal(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.create(authority, 1, 60, 0)

	proposal := e.proposal(addr)
	require.Equal(t, uint64(1), proposal.ID)
	require.Equal(t, e.addressOf(authority), proposal.Authority)
	require.Equal(t, e.clock.Now().Unix()+60, proposal.VotingEndsAt)
	require.True(t, proposal.IsActive)
	require.False(t, proposal.IsRevealed)

	err := e.exec(authority, CmdCreateProposal, types.CreateProposalTransaction{ID: 1, Title: "again"})
	requireCode(t, types.CodeProposalExists, err)

	err = e.exec(authority, CmdCreateProposal, types.CreateProposalTransaction{
		ID:    2,
		Title: string(make([]byte, types.MaxTitleLen+1)),
	})
	requireCode(t, types.CodeTitleTooLong, err)

	err = e.exec(authority, CmdCreateProposal, types.CreateProposalTransaction{ID: 2, Title: "x", Duration: -1})
	requireCode(t, types.CodeInvalidArgument, err)

	err = e.execRaw(authority, CmdCreateProposal, []byte(`{"id":2,"title":"x","extra":true}`))
	requireCode(t, types.CodeInvalidArgument, err)

	err = e.execRaw(authority, CmdCreateProposal, nil)
	requireCode(t, types.CodeInvalidArgument, err)
}

func TestCommand_InitTally(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.createOnly(authority, 1, 60, 0)

	err := e.exec(ed25519.NewSigner(), CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	requireCode(t, types.CodeNotAuthority, err)

	err = e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	require.NoError(t, err)

	err = e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	requireCode(t, types.CodeAlreadyInitialized, err)

	err = e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: address.Address{7}})
	requireCode(t, types.CodeUnknownProposal, err)

	tallyAddr, err := testDeriver.Tally(addr)
	require.NoError(t, err)

	tally, found, err := types.Load[types.Tally](json.NewContext(), e.snap, tallyAddr.Address)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, addr, tally.Proposal)
	require.Equal(t, mpc.ComputationIDOf(tallyAddr.Address, mpc.CircuitName), tally.ComputationID)
}

func TestCommand_CastVote(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()
	voter := ed25519.NewSigner()

	addr := e.create(authority, 1, 60, 0)

	err := e.vote(voter, addr, types.ChoiceYes, address.Address{})
	require.NoError(t, err)

	require.Equal(t, uint64(1), e.proposal(addr).TotalVotes)
	require.Equal(t, uint64(0), e.proposal(addr).YesVotes)

	recordAddr, err := testDeriver.VoteRecord(addr, e.addressOf(voter))
	require.NoError(t, err)

	record, found, err := types.Load[types.VoteRecord](json.NewContext(), e.snap, recordAddr.Address)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, e.clock.Now().Unix(), record.VotedAt)
	require.Len(t, record.Ciphertext, ballot.Size)

	err = e.vote(voter, addr, types.ChoiceNo, address.Address{})
	requireCode(t, types.CodeAlreadyVoted, err)
	require.Equal(t, uint64(1), e.proposal(addr).TotalVotes)
}

func TestCommand_CastVote_DurationZero(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.create(authority, 1, 0, 0)

	err := e.vote(ed25519.NewSigner(), addr, types.ChoiceYes, address.Address{})
	requireCode(t, types.CodeVotingEnded, err)
}

func TestCommand_CastVote_Failures(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()
	voter := ed25519.NewSigner()

	addr := e.createOnly(authority, 1, 60, 0)

	err := e.exec(voter, CmdCastVote, types.CastVoteTransaction{Proposal: addr, Ciphertext: []byte{1}})
	requireCode(t, types.CodeUninitializedState, err)

	err = e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	require.NoError(t, err)

	err = e.exec(voter, CmdCastVote, types.CastVoteTransaction{Proposal: addr, Ciphertext: []byte{1}})
	requireCode(t, types.CodeInvalidArgument, err)

	err = e.exec(voter, CmdCastVote, types.CastVoteTransaction{Proposal: address.Address{9}})
	requireCode(t, types.CodeUnknownProposal, err)

	// A ballot sealed for another proposal is rejected.
	other := e.create(authority, 2, 60, 0)
	ct := e.encrypt(other, types.ChoiceYes)

	err = e.exec(voter, CmdCastVote, types.CastVoteTransaction{Proposal: addr, Ciphertext: ct})
	requireCode(t, types.CodeInvalidArgument, err)

	e.clock.Advance(time.Minute)

	err = e.vote(voter, addr, types.ChoiceYes, address.Address{})
	requireCode(t, types.CodeVotingEnded, err)
}

func TestCommand_CastVote_Gate(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()
	rich := ed25519.NewSigner()
	poor := ed25519.NewSigner()

	mint := e.createMint(authority, "gate")
	otherMint := e.createMint(authority, "other")

	richAccount := e.mintTo(authority, mint, rich, 10)
	poorAccount := e.mintTo(authority, mint, poor, 2)
	otherAccount := e.mintTo(authority, otherMint, poor, 100)

	err := e.exec(authority, CmdCreateProposal, types.CreateProposalTransaction{
		ID:         1,
		Title:      "gated",
		Duration:   60,
		GateMint:   mint,
		MinBalance: 5,
	})
	require.NoError(t, err)

	addr := e.proposalAddr(1)
	err = e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	require.NoError(t, err)

	err = e.vote(poor, addr, types.ChoiceNo, address.Address{})
	requireCode(t, types.CodeInsufficientBalance, err)

	err = e.vote(poor, addr, types.ChoiceNo, poorAccount)
	requireCode(t, types.CodeInsufficientBalance, err)

	err = e.vote(poor, addr, types.ChoiceNo, richAccount)
	requireCode(t, types.CodeInvalidTokenAccount, err)

	err = e.vote(poor, addr, types.ChoiceNo, otherAccount)
	requireCode(t, types.CodeInvalidTokenMint, err)

	err = e.vote(poor, addr, types.ChoiceNo, addr)
	requireCode(t, types.CodeInvalidTokenAccount, err)

	err = e.vote(rich, addr, types.ChoiceYes, richAccount)
	require.NoError(t, err)
}

func TestCommand_Reveal(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.create(authority, 1, 60, 0)

	require.NoError(t, e.vote(ed25519.NewSigner(), addr, types.ChoiceYes, address.Address{}))
	require.NoError(t, e.vote(ed25519.NewSigner(), addr, types.ChoiceNo, address.Address{}))

	reveal := types.RevealTransaction{Proposal: addr, Yes: 1, No: 1}

	err := e.exec(authority, CmdReveal, reveal)
	requireCode(t, types.CodeVotingStillActive, err)

	e.clock.Advance(time.Minute)

	err = e.exec(ed25519.NewSigner(), CmdReveal, reveal)
	requireCode(t, types.CodeNotAuthority, err)

	err = e.exec(authority, CmdReveal, types.RevealTransaction{Proposal: addr, Yes: 2})
	requireCode(t, types.CodeTallyMismatch, err)

	err = e.exec(authority, CmdReveal, reveal)
	require.NoError(t, err)

	proposal := e.proposal(addr)
	require.True(t, proposal.IsRevealed)
	require.False(t, proposal.IsActive)
	require.Equal(t, uint64(2), proposal.TotalVotes)
	require.Equal(t, proposal.TotalVotes, proposal.YesVotes+proposal.NoVotes+proposal.AbstainVotes)

	outcome := proposal.Outcome(types.DefaultThresholdBps)
	require.True(t, outcome.Passed)
	require.Equal(t, types.WinnerTie, outcome.Winner)

	err = e.exec(authority, CmdReveal, reveal)
	requireCode(t, types.CodeAlreadyRevealed, err)
}

func TestCommand_Reveal_Quorum(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.create(authority, 1, 60, 2)

	require.NoError(t, e.vote(ed25519.NewSigner(), addr, types.ChoiceAbstain, address.Address{}))

	e.clock.Advance(time.Minute)

	err := e.exec(authority, CmdReveal, types.RevealTransaction{Proposal: addr, Abstain: 1})
	requireCode(t, types.CodeQuorumNotReached, err)

	other := e.create(authority, 2, 60, 2)
	require.NoError(t, e.vote(ed25519.NewSigner(), other, types.ChoiceAbstain, address.Address{}))
	require.NoError(t, e.vote(ed25519.NewSigner(), other, types.ChoiceAbstain, address.Address{}))

	e.clock.Advance(time.Minute)

	err = e.exec(authority, CmdReveal, types.RevealTransaction{Proposal: other, Abstain: 2})
	require.NoError(t, err)

	require.False(t, e.proposal(other).Outcome(types.DefaultThresholdBps).Passed)
}

func TestCommand_Reveal_NoVotes(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	addr := e.create(authority, 1, 0, 0)

	err := e.exec(authority, CmdReveal, types.RevealTransaction{Proposal: addr})
	require.NoError(t, err)
	require.True(t, e.proposal(addr).IsRevealed)
}

func TestCommand_Delegation(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()
	delegator := ed25519.NewSigner()
	delegate := e.addressOf(ed25519.NewSigner())

	err := e.exec(delegator, CmdDelegate, types.DelegateTransaction{Delegate: e.addressOf(delegator)})
	requireCode(t, types.CodeSelfDelegation, err)

	err = e.exec(delegator, CmdDelegate, types.DelegateTransaction{})
	requireCode(t, types.CodeInvalidArgument, err)

	err = e.exec(delegator, CmdRevokeDelegation, types.RevokeDelegationTransaction{})
	requireCode(t, types.CodeNoDelegation, err)

	err = e.exec(delegator, CmdDelegate, types.DelegateTransaction{Delegate: delegate})
	require.NoError(t, err)

	err = e.exec(delegator, CmdDelegate, types.DelegateTransaction{Delegate: delegate})
	requireCode(t, types.CodeAlreadyDelegated, err)

	addr := e.create(authority, 1, 60, 0)

	err = e.vote(delegator, addr, types.ChoiceYes, address.Address{})
	requireCode(t, types.CodeActiveDelegation, err)

	err = e.exec(delegator, CmdRevokeDelegation, types.RevokeDelegationTransaction{})
	require.NoError(t, err)

	delegationAddr, err := testDeriver.Delegation(e.addressOf(delegator))
	require.NoError(t, err)

	found, err := types.Exists(e.snap, delegationAddr.Address)
	require.NoError(t, err)
	require.False(t, found)

	err = e.vote(delegator, addr, types.ChoiceYes, address.Address{})
	require.NoError(t, err)
}

func TestCommand_Events(t *testing.T) {
	e := newEnv(t)
	authority := ed25519.NewSigner()

	log := &execution.Log{}
	step := e.step(authority, CmdCreateProposal, types.CreateProposalTransaction{ID: 3, Title: "t"})
	step.Log = log

	err := e.contract.Execute(e.snap, step)
	require.NoError(t, err)

	lines := log.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, "Program log: Instruction: CreateProposal", lines[0])

	event, err := types.ParseEvent(lines[1])
	require.NoError(t, err)
	require.Equal(t, types.EventProposalCreated, event.Name)
	require.Equal(t, "3", event.Get("id"))
	require.Equal(t, e.proposalAddr(3).String(), event.Get("proposal"))
}

func TestCommand_BadSnapshot(t *testing.T) {
	e := newEnv(t)
	e.snap = fake.NewBadSnapshot()

	err := e.exec(ed25519.NewSigner(), CmdCreateProposal, types.CreateProposalTransaction{ID: 1, Title: "t"})
	require.Error(t, err)
	require.Contains(t, err.Error(), fake.GetError().Error())
}

// -----------------------------------------------------------------------------
// Utility functions

type env struct {
	t        *testing.T
	contract Contract
	tokens   token.Contract
	cluster  *local.Cluster
	snap     store.IterableSnapshot
	clock    *fake.Clock
	nonce    uint64
}

func newEnv(t *testing.T) *env {
	cluster := local.NewCluster([]byte("master"))

	return &env{
		t:        t,
		contract: NewContract(testDeriver, cluster),
		tokens:   token.NewContract(testDeriver),
		cluster:  cluster,
		snap:     fake.NewSnapshot(),
		clock:    fake.NewClock(time.Unix(1_700_000_000, 0)),
	}
}

func (e *env) addressOf(signer ed25519.Signer) address.Address {
	addr, err := address.FromPublicKey(signer.GetPublicKey())
	require.NoError(e.t, err)

	return addr
}

func (e *env) step(signer ed25519.Signer, cmd Command, tx interface{}) execution.Step {
	args, err := Args(cmd, tx)
	require.NoError(e.t, err)

	return e.stepOf(signer, args)
}

func (e *env) stepOf(signer ed25519.Signer, args []txn.Arg) execution.Step {
	opts := make([]signed.TransactionOption, len(args))
	for i, arg := range args {
		opts[i] = signed.WithArg(arg.Key, arg.Value)
	}

	e.nonce++

	tx, err := signed.NewTransaction(e.nonce, signer.GetPublicKey(), opts...)
	require.NoError(e.t, err)

	return execution.Step{Current: tx, Time: e.clock.Now()}
}

func (e *env) exec(signer ed25519.Signer, cmd Command, tx interface{}) error {
	return e.contract.Execute(e.snap, e.step(signer, cmd, tx))
}

func (e *env) execRaw(signer ed25519.Signer, cmd Command, data []byte) error {
	args := []txn.Arg{{Key: CmdArg, Value: []byte(cmd)}}
	if data != nil {
		args = append(args, txn.Arg{Key: ArgsArg, Value: data})
	}

	return e.contract.Execute(e.snap, e.stepOf(signer, args))
}

func (e *env) proposalAddr(id uint64) address.Address {
	derived, err := testDeriver.Proposal(id)
	require.NoError(e.t, err)

	return derived.Address
}

func (e *env) createOnly(authority ed25519.Signer, id uint64, duration int64, quorum uint64) address.Address {
	err := e.exec(authority, CmdCreateProposal, types.CreateProposalTransaction{
		ID:       id,
		Title:    "proposal",
		Duration: duration,
		Quorum:   quorum,
	})
	require.NoError(e.t, err)

	return e.proposalAddr(id)
}

func (e *env) create(authority ed25519.Signer, id uint64, duration int64, quorum uint64) address.Address {
	addr := e.createOnly(authority, id, duration, quorum)

	err := e.exec(authority, CmdInitTally, types.InitTallyTransaction{Proposal: addr})
	require.NoError(e.t, err)

	return addr
}

func (e *env) proposal(addr address.Address) types.Proposal {
	proposal, found, err := types.Load[types.Proposal](json.NewContext(), e.snap, addr)
	require.NoError(e.t, err)
	require.True(e.t, found)

	return proposal
}

func (e *env) encrypt(proposal address.Address, choice types.Choice) []byte {
	tallyAddr, err := testDeriver.Tally(proposal)
	require.NoError(e.t, err)

	encCtx, err := e.cluster.DeriveContext(context.Background(),
		mpc.ComputationIDOf(tallyAddr.Address, mpc.CircuitName), mpc.CircuitName)
	require.NoError(e.t, err)

	ct, err := ballot.EncryptChoice(choice, encCtx)
	require.NoError(e.t, err)

	return ct
}

func (e *env) vote(voter ed25519.Signer, proposal address.Address, choice types.Choice,
	tokenAccount address.Address) error {

	return e.exec(voter, CmdCastVote, types.CastVoteTransaction{
		Proposal:     proposal,
		Ciphertext:   e.encrypt(proposal, choice),
		TokenAccount: tokenAccount,
	})
}

func (e *env) createMint(authority ed25519.Signer, label string) address.Address {
	args, err := token.Args(token.CmdCreateMint, token.CreateMintTransaction{Label: label})
	require.NoError(e.t, err)

	err = e.tokens.Execute(e.snap, e.stepOf(authority, args))
	require.NoError(e.t, err)

	derived, err := testDeriver.Mint(e.addressOf(authority), label)
	require.NoError(e.t, err)

	return derived.Address
}

func (e *env) mintTo(authority ed25519.Signer, mint address.Address, owner ed25519.Signer, amount uint64) address.Address {
	args, err := token.Args(token.CmdMintTo, token.MintToTransaction{
		Mint:   mint,
		Owner:  e.addressOf(owner),
		Amount: amount,
	})
	require.NoError(e.t, err)

	err = e.tokens.Execute(e.snap, e.stepOf(authority, args))
	require.NoError(e.t, err)

	derived, err := testDeriver.TokenAccount(e.addressOf(owner), mint)
	require.NoError(e.t, err)

	return derived.Address
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

func (c fakeCmd) createProposal(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) initTally(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) castVote(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) reveal(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) delegate(snap store.Snapshot, step execution.Step) error {
	return c.err
}

func (c fakeCmd) revokeDelegation(snap store.Snapshot, step execution.Step) error {
	return c.err
}
