package dao

import (
	"math"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/mpc"
	"golang.org/x/xerrors"
)

// daoCommand implements the commands of the voting contract.
//
// - implements commands
type daoCommand struct {
	*Contract
}

// createProposal implements commands. It performs the CREATE_PROPOSAL
// command. The identifier must not be in use.
func (c daoCommand) createProposal(snap store.Snapshot, step execution.Step) error {
	var tx types.CreateProposalTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	err = tx.Validate()
	if err != nil {
		return err
	}

	now := step.Time.Unix()

	if tx.Duration > math.MaxInt64-now {
		return types.NewError(types.CodeInvalidArgument, "duration overflows")
	}

	caller, err := callerOf(step)
	if err != nil {
		return err
	}

	proposalAddr, err := c.deriver.Proposal(tx.ID)
	if err != nil {
		return xerrors.Errorf("proposal address: %v", err)
	}

	found, err := types.Exists(snap, proposalAddr.Address)
	if err != nil {
		return err
	}

	if found {
		return types.NewError(types.CodeProposalExists, "%d", tx.ID)
	}

	proposal := types.Proposal{
		ID:           tx.ID,
		Authority:    caller,
		Title:        tx.Title,
		Description:  tx.Description,
		CreatedAt:    now,
		VotingEndsAt: now + tx.Duration,
		GateMint:     tx.GateMint,
		MinBalance:   tx.MinBalance,
		Quorum:       tx.Quorum,
		IsActive:     true,
		Bump:         proposalAddr.Bump,
	}

	err = types.Save(c.ctx, snap, proposalAddr.Address, proposal)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventProposalCreated,
		"proposal", proposalAddr.Address,
		"id", tx.ID,
		"authority", caller,
		"endsAt", proposal.VotingEndsAt).Line())

	return nil
}

// initTally implements commands. It performs the INIT_TALLY command. Only the
// authority of the proposal binds its tally to a computation, once.
func (c daoCommand) initTally(snap store.Snapshot, step execution.Step) error {
	var tx types.InitTallyTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	proposal, err := c.loadProposal(snap, tx.Proposal)
	if err != nil {
		return err
	}

	caller, err := callerOf(step)
	if err != nil {
		return err
	}

	if caller != proposal.Authority {
		return types.NewError(types.CodeNotAuthority, "")
	}

	tallyAddr, err := c.deriver.Tally(tx.Proposal)
	if err != nil {
		return xerrors.Errorf("tally address: %v", err)
	}

	found, err := types.Exists(snap, tallyAddr.Address)
	if err != nil {
		return err
	}

	if found {
		return types.NewError(types.CodeAlreadyInitialized, "")
	}

	id := mpc.ComputationIDOf(tallyAddr.Address, mpc.CircuitName)

	acc, err := c.tallier.InitTally(id)
	if err != nil {
		return xerrors.Errorf("tallier failed: %v", err)
	}

	tally := types.Tally{
		Proposal:      tx.Proposal,
		ComputationID: id,
		Accumulator:   acc,
		Bump:          tallyAddr.Bump,
	}

	err = types.Save(c.ctx, snap, tallyAddr.Address, tally)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventTallyInitialized,
		"proposal", tx.Proposal,
		"tally", tallyAddr.Address,
		"computation", id).Line())

	return nil
}

// castVote implements commands. It performs the CAST_VOTE command. The
// ballot is forwarded to the tally and only the participation is counted in
// the clear.
func (c daoCommand) castVote(snap store.Snapshot, step execution.Step) error {
	var tx types.CastVoteTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	proposal, err := c.loadProposal(snap, tx.Proposal)
	if err != nil {
		return err
	}

	err = proposal.CheckVotable(step.Time)
	if err != nil {
		return err
	}

	voter, err := callerOf(step)
	if err != nil {
		return err
	}

	tallyAddr, tally, err := c.loadTally(snap, tx.Proposal)
	if err != nil {
		return err
	}

	delegationAddr, err := c.deriver.Delegation(voter)
	if err != nil {
		return xerrors.Errorf("delegation address: %v", err)
	}

	delegated, err := types.Exists(snap, delegationAddr.Address)
	if err != nil {
		return err
	}

	if delegated {
		return types.NewError(types.CodeActiveDelegation, "")
	}

	err = c.checkGate(snap, proposal, voter, tx.TokenAccount)
	if err != nil {
		return err
	}

	recordAddr, err := c.deriver.VoteRecord(tx.Proposal, voter)
	if err != nil {
		return xerrors.Errorf("vote record address: %v", err)
	}

	voted, err := types.Exists(snap, recordAddr.Address)
	if err != nil {
		return err
	}

	if voted {
		return types.NewError(types.CodeAlreadyVoted, "")
	}

	acc, err := c.tallier.Accumulate(tally.ComputationID, tally.Accumulator, tx.Ciphertext)
	if err != nil {
		_, typed := types.CodeOf(err)
		if typed {
			return err
		}

		return types.NewError(types.CodeInvalidArgument, "ballot rejected: %v", err)
	}

	record := types.VoteRecord{
		Proposal:   tx.Proposal,
		Voter:      voter,
		VotedAt:    step.Time.Unix(),
		Ciphertext: tx.Ciphertext,
		Bump:       recordAddr.Bump,
	}

	err = types.Save(c.ctx, snap, recordAddr.Address, record)
	if err != nil {
		return err
	}

	tally.Accumulator = acc

	err = types.Save(c.ctx, snap, tallyAddr, tally)
	if err != nil {
		return err
	}

	proposal.TotalVotes++

	err = types.Save(c.ctx, snap, tx.Proposal, proposal)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventVoteCast,
		"proposal", tx.Proposal,
		"voter", voter,
		"total", proposal.TotalVotes).Line())

	return nil
}

// reveal implements commands. It performs the REVEAL command. The counts must
// be the ones the tally opens to.
func (c daoCommand) reveal(snap store.Snapshot, step execution.Step) error {
	var tx types.RevealTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	proposal, err := c.loadProposal(snap, tx.Proposal)
	if err != nil {
		return err
	}

	caller, err := callerOf(step)
	if err != nil {
		return err
	}

	err = proposal.CheckRevealable(caller, step.Time)
	if err != nil {
		return err
	}

	_, tally, err := c.loadTally(snap, tx.Proposal)
	if err != nil {
		return err
	}

	counts, err := c.tallier.Reveal(tally.ComputationID, tally.Accumulator)
	if err != nil {
		return xerrors.Errorf("tallier failed: %v", err)
	}

	claimed := mpc.Counts{Yes: tx.Yes, No: tx.No, Abstain: tx.Abstain}

	if claimed != counts {
		return types.NewError(types.CodeTallyMismatch, "")
	}

	if counts.Total() != proposal.TotalVotes {
		return types.NewError(types.CodeTallyMismatch, "%d counted for %d votes",
			counts.Total(), proposal.TotalVotes)
	}

	proposal.YesVotes = counts.Yes
	proposal.NoVotes = counts.No
	proposal.AbstainVotes = counts.Abstain
	proposal.IsRevealed = true
	proposal.IsActive = false

	err = types.Save(c.ctx, snap, tx.Proposal, proposal)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventResultsRevealed,
		"proposal", tx.Proposal,
		"yes", counts.Yes,
		"no", counts.No,
		"abstain", counts.Abstain,
		"total", proposal.TotalVotes).Line())

	return nil
}

// delegate implements commands. It performs the DELEGATE command.
func (c daoCommand) delegate(snap store.Snapshot, step execution.Step) error {
	var tx types.DelegateTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	delegator, err := callerOf(step)
	if err != nil {
		return err
	}

	if tx.Delegate.IsZero() {
		return types.NewError(types.CodeInvalidArgument, "missing delegate")
	}

	if tx.Delegate == delegator {
		return types.NewError(types.CodeSelfDelegation, "")
	}

	delegationAddr, err := c.deriver.Delegation(delegator)
	if err != nil {
		return xerrors.Errorf("delegation address: %v", err)
	}

	found, err := types.Exists(snap, delegationAddr.Address)
	if err != nil {
		return err
	}

	if found {
		return types.NewError(types.CodeAlreadyDelegated, "")
	}

	delegation := types.Delegation{
		Delegator: delegator,
		Delegate:  tx.Delegate,
		CreatedAt: step.Time.Unix(),
		Bump:      delegationAddr.Bump,
	}

	err = types.Save(c.ctx, snap, delegationAddr.Address, delegation)
	if err != nil {
		return err
	}

	step.Log.Add(types.NewEvent(types.EventDelegationCreated,
		"delegator", delegator,
		"delegate", tx.Delegate).Line())

	return nil
}

// revokeDelegation implements commands. It performs the REVOKE_DELEGATION
// command. The delegation account is destroyed.
func (c daoCommand) revokeDelegation(snap store.Snapshot, step execution.Step) error {
	var tx types.RevokeDelegationTransaction

	err := c.readArgs(step, &tx)
	if err != nil {
		return err
	}

	delegator, err := callerOf(step)
	if err != nil {
		return err
	}

	delegationAddr, err := c.deriver.Delegation(delegator)
	if err != nil {
		return xerrors.Errorf("delegation address: %v", err)
	}

	delegation, found, err := types.Load[types.Delegation](c.ctx, snap, delegationAddr.Address)
	if err != nil {
		return err
	}

	if !found {
		return types.NewError(types.CodeNoDelegation, "")
	}

	err = snap.Delete(delegationAddr.Address[:])
	if err != nil {
		return xerrors.Errorf("failed to delete delegation: %v", err)
	}

	step.Log.Add(types.NewEvent(types.EventDelegationRevoked,
		"delegator", delegator,
		"delegate", delegation.Delegate).Line())

	return nil
}

// checkGate verifies that the token account holds enough tokens of the gate
// mint for the voter. No account is needed when the proposal requires no
// balance.
func (c daoCommand) checkGate(snap store.Readable, proposal types.Proposal,
	voter address.Address, tokenAddr address.Address) error {

	if tokenAddr.IsZero() {
		return proposal.CheckBalance(0)
	}

	account, found, err := types.Load[types.TokenAccount](c.ctx, snap, tokenAddr)
	if err != nil {
		return types.NewError(types.CodeInvalidTokenAccount, "%v", err)
	}

	if !found {
		return proposal.CheckBalance(0)
	}

	expected, err := c.deriver.TokenAccount(account.Owner, account.Mint)
	if err != nil {
		return xerrors.Errorf("token account address: %v", err)
	}

	if expected.Address != tokenAddr || account.Owner != voter {
		return types.NewError(types.CodeInvalidTokenAccount, "")
	}

	if account.Mint != proposal.GateMint {
		return types.NewError(types.CodeInvalidTokenMint, "")
	}

	return proposal.CheckBalance(account.Amount)
}

func (c daoCommand) loadProposal(snap store.Readable, addr address.Address) (types.Proposal, error) {
	proposal, found, err := types.Load[types.Proposal](c.ctx, snap, addr)
	if err != nil {
		return proposal, err
	}

	if !found {
		return proposal, types.NewError(types.CodeUnknownProposal, "%v", addr)
	}

	return proposal, nil
}

func (c daoCommand) loadTally(snap store.Readable, proposal address.Address) (address.Address, types.Tally, error) {
	tallyAddr, err := c.deriver.Tally(proposal)
	if err != nil {
		return address.Address{}, types.Tally{}, xerrors.Errorf("tally address: %v", err)
	}

	tally, found, err := types.Load[types.Tally](c.ctx, snap, tallyAddr.Address)
	if err != nil {
		return address.Address{}, types.Tally{}, err
	}

	if !found || !tally.Ready() {
		return address.Address{}, types.Tally{}, types.NewError(types.CodeUninitializedState, "")
	}

	return tallyAddr.Address, tally, nil
}

func (c daoCommand) readArgs(step execution.Step, tx interface{}) error {
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

func callerOf(step execution.Step) (address.Address, error) {
	caller, err := address.FromPublicKey(step.Current.GetIdentity())
	if err != nil {
		return address.Address{}, xerrors.Errorf("invalid identity: %v", err)
	}

	return caller, nil
}
