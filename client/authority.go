package client

import (
	"context"

	"github.com/privdao/privdao/contracts/dao"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/retry"
	"golang.org/x/xerrors"
)

// CreateProposal creates the proposal and initializes its tally. A zero id
// takes the id following the highest one in use.
func (c *Client) CreateProposal(ctx context.Context, tx types.CreateProposalTransaction) (address.Address, error) {
	signer, _, err := c.session()
	if err != nil {
		return address.Address{}, err
	}

	if tx.ID == 0 {
		tx.ID, err = c.nextID(ctx)
		if err != nil {
			return address.Address{}, err
		}
	}

	err = tx.Validate()
	if err != nil {
		return address.Address{}, err
	}

	derived, err := c.deriver.Proposal(tx.ID)
	if err != nil {
		return address.Address{}, xerrors.Errorf("proposal address: %v", err)
	}

	_, found, err := fetch[types.Proposal](ctx, c, derived.Address)
	if err != nil {
		return address.Address{}, err
	}
	if found {
		return address.Address{}, types.NewError(types.CodeProposalExists, "id %d", tx.ID)
	}

	_, err = c.submit(ctx, signer, dao.CmdCreateProposal, tx)
	if err != nil {
		return address.Address{}, xerrors.Errorf("failed to create: %w", err)
	}

	_, err = c.submit(ctx, signer, dao.CmdInitTally, types.InitTallyTransaction{Proposal: derived.Address})
	if err != nil {
		return derived.Address, xerrors.Errorf("failed to initialize tally: %w", err)
	}

	c.logger.Info().
		Uint64("id", tx.ID).
		Stringer("proposal", derived.Address).
		Msg("proposal created")

	return derived.Address, nil
}

// InitTally initializes the tally of a proposal created without one.
func (c *Client) InitTally(ctx context.Context, proposal address.Address) error {
	signer, _, err := c.session()
	if err != nil {
		return err
	}

	_, err = c.submit(ctx, signer, dao.CmdInitTally, types.InitTallyTransaction{Proposal: proposal})
	if err != nil {
		return xerrors.Errorf("failed to initialize tally: %w", err)
	}

	return nil
}

// Reveal publishes the results of the proposal. The proposal is read again
// right before, so that the participation is at least as fresh as the last
// accepted vote.
func (c *Client) Reveal(ctx context.Context, proposal address.Address) (ProposalView, error) {
	signer, identity, err := c.session()
	if err != nil {
		return ProposalView{}, err
	}

	if c.revealer == nil {
		return ProposalView{}, xerrors.New("no revealer")
	}

	view, err := c.Proposal(ctx, proposal)
	if err != nil {
		return ProposalView{}, err
	}

	err = view.Proposal.CheckRevealable(identity, c.clock.Now())
	if err != nil {
		return ProposalView{}, err
	}

	tallyAddr, err := c.deriver.Tally(proposal)
	if err != nil {
		return ProposalView{}, xerrors.Errorf("tally address: %v", err)
	}

	tally, found, err := fetch[types.Tally](ctx, c, tallyAddr.Address)
	if err != nil {
		return ProposalView{}, err
	}
	if !found || !tally.Ready() {
		return ProposalView{}, types.NewError(types.CodeUninitializedState, "no tally for %v", proposal)
	}

	counts, err := c.revealer.Reveal(tally.ComputationID, tally.Accumulator)
	if err != nil {
		return ProposalView{}, xerrors.Errorf("failed to open tally: %v", err)
	}

	_, err = c.submit(ctx, signer, dao.CmdReveal, types.RevealTransaction{
		Proposal: proposal,
		Yes:      counts.Yes,
		No:       counts.No,
		Abstain:  counts.Abstain,
	})
	if err != nil {
		return ProposalView{}, xerrors.Errorf("failed to reveal: %w", err)
	}

	revealed := view.Proposal
	revealed.YesVotes = counts.Yes
	revealed.NoVotes = counts.No
	revealed.AbstainVotes = counts.Abstain
	revealed.IsRevealed = true
	revealed.IsActive = false

	return c.viewOf(proposal, revealed, true), nil
}

// Delegate delegates the voting power of the active identity.
func (c *Client) Delegate(ctx context.Context, delegate address.Address) error {
	signer, identity, err := c.session()
	if err != nil {
		return err
	}

	if delegate == identity {
		return types.NewError(types.CodeSelfDelegation, "")
	}

	_, found, err := c.Delegation(ctx)
	if err != nil {
		return err
	}
	if found {
		return types.NewError(types.CodeAlreadyDelegated, "")
	}

	_, err = c.submit(ctx, signer, dao.CmdDelegate, types.DelegateTransaction{Delegate: delegate})
	if err != nil {
		return xerrors.Errorf("failed to delegate: %w", err)
	}

	return nil
}

// Revoke revokes the delegation of the active identity.
func (c *Client) Revoke(ctx context.Context) error {
	signer, _, err := c.session()
	if err != nil {
		return err
	}

	_, found, err := c.Delegation(ctx)
	if err != nil {
		return err
	}
	if !found {
		return types.NewError(types.CodeNoDelegation, "")
	}

	_, err = c.submit(ctx, signer, dao.CmdRevokeDelegation, types.RevokeDelegationTransaction{})
	if err != nil {
		return xerrors.Errorf("failed to revoke: %w", err)
	}

	return nil
}

func (c *Client) nextID(ctx context.Context) (uint64, error) {
	views, err := c.ListProposals(ctx)
	if err != nil {
		return 0, err
	}

	next := uint64(1)
	for _, view := range views {
		if view.Proposal.ID >= next {
			next = view.Proposal.ID + 1
		}
	}

	return next, nil
}

// submit sends a transaction of the signer. It is sent again only when the
// ledger proves that it did not apply it.
func (c *Client) submit(ctx context.Context, signer crypto.Signer, cmd dao.Command, tx interface{}) (string, error) {
	args, err := dao.Args(cmd, tx)
	if err != nil {
		return "", xerrors.Errorf("failed to create args: %v", err)
	}

	mgr := signed.NewManager(signer, c.ledger)
	policy := c.policy.With(retry.WithRetryable(ledger.IsNotApplied))

	var sig string

	err = policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		err := mgr.Sync(ctx)
		if err != nil {
			return err
		}

		current, err := mgr.Make(args...)
		if err != nil {
			return xerrors.Errorf("failed to make tx: %v", err)
		}

		sig, err = c.ledger.Submit(ctx, current)

		return err
	})

	return sig, err
}
