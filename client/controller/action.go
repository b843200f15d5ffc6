package controller

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/client"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/crypto/loader"
	"golang.org/x/xerrors"
)

const (
	defaultDuration      = 24 * time.Hour
	defaultVoteTimeout   = 2 * time.Minute
	defaultActivityLimit = 20
)

// describe returns the error the user reads for a failed operation.
func describe(err error) error {
	return xerrors.New(client.Describe(err))
}

func resolveSession(ctx node.Context) (*session, error) {
	var s *session

	err := ctx.Injector.Resolve(&s)
	if err != nil {
		return nil, xerrors.Errorf("injector: %v", err)
	}

	return s, nil
}

// callContext returns the context of the ledger calls of an action.
func callContext(s *session) (context.Context, context.CancelFunc) {
	// A command does several calls, each one bounded by the client.
	return context.WithTimeout(context.Background(), 10*s.cfg.CallTimeout)
}

func parseAddress(ctx node.Context, flag string) (address.Address, error) {
	addr, err := address.Parse(ctx.Flags.String(flag))
	if err != nil {
		return address.Address{}, xerrors.Errorf("invalid %s: %v", flag, err)
	}

	return addr, nil
}

// keygenAction creates an identity in the keys folder. An existing identity
// is kept.
//
// - implements node.ActionTemplate
type keygenAction struct{}

// Execute implements node.ActionTemplate.
func (keygenAction) Execute(ctx node.Context) error {
	var cfg config.Config

	err := ctx.Injector.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	name := ctx.Flags.String("name")

	path, err := keyPath(cfg, name)
	if err != nil {
		return err
	}

	data, err := loader.NewFileLoader(path).LoadOrCreate(ed25519.Generator{})
	if err != nil {
		return xerrors.Errorf("failed to create key: %v", err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return xerrors.Errorf("identity '%s': %v", name, err)
	}

	identity, err := address.FromPublicKey(signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("invalid identity: %v", err)
	}

	fmt.Fprintf(ctx.Out, "identity %s: %s", name, identity)

	return nil
}

// identityAction shows the address of an identity and its delegation.
//
// - implements node.ActionTemplate
type identityAction struct{}

// Execute implements node.ActionTemplate.
func (identityAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	identity, _ := s.client.Identity()

	delegation, found, err := s.client.Delegation(callCtx)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "address: %s\n", identity)

	if found {
		fmt.Fprintf(ctx.Out, "delegation: %s\n", delegation.Delegate)
	} else {
		fmt.Fprintln(ctx.Out, "delegation: none")
	}

	fmt.Fprintf(ctx.Out, "hidden proposals: %d\n", len(s.client.Hidden()))

	return nil
}

// balanceAction shows the balance of gate tokens of an identity.
//
// - implements node.ActionTemplate
type balanceAction struct{}

// Execute implements node.ActionTemplate.
func (balanceAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	mint := s.cfg.GateMint()

	if ctx.Flags.String("mint") != "" {
		mint, err = parseAddress(ctx, "mint")
		if err != nil {
			return err
		}
	}

	if mint.IsZero() {
		return xerrors.New("no gate mint in the settings")
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	s.client.InvalidateBalance(mint)

	balance, err := s.client.Balance(callCtx, mint)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "balance: %d of %s", balance, mint)

	return nil
}

// listAction lists the proposals ordered by id.
//
// - implements node.ActionTemplate
type listAction struct{}

// Execute implements node.ActionTemplate.
func (listAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	key := ctx.Flags.String("key")
	skipHidden := key != "" && !ctx.Flags.Bool("all")

	if key != "" {
		_, err = s.use(key)
		if err != nil {
			return err
		}
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	views, err := s.client.ListProposals(callCtx)
	if err != nil {
		return describe(err)
	}

	w := tabwriter.NewWriter(ctx.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tVOTES\tTITLE\tADDRESS")

	for _, view := range views {
		if skipHidden && view.Hidden {
			continue
		}

		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", view.Proposal.ID, view.Status,
			view.Proposal.TotalVotes, view.Proposal.Title, view.Address)
	}

	return w.Flush()
}

// showAction shows the details of a proposal, and its results once
// revealed.
//
// - implements node.ActionTemplate
type showAction struct{}

// Execute implements node.ActionTemplate.
func (showAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	addr, err := parseAddress(ctx, "proposal")
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	key := ctx.Flags.String("key")
	if key != "" {
		_, err = s.use(key)
		if err != nil {
			return err
		}
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	view, err := s.client.Proposal(callCtx, addr)
	if err != nil {
		return describe(err)
	}

	printProposal(ctx.Out, view)

	if key != "" {
		voted, err := s.client.HasVoted(callCtx, addr)
		if err != nil {
			return describe(err)
		}

		fmt.Fprintf(ctx.Out, "voted:\t%v\n", voted)
	}

	return nil
}

func printProposal(out io.Writer, view client.ProposalView) {
	p := view.Proposal

	w := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)

	fmt.Fprintf(w, "proposal:\t#%d %s\n", p.ID, view.Address)
	fmt.Fprintf(w, "title:\t%s\n", p.Title)

	if p.Description != "" {
		fmt.Fprintf(w, "description:\t%s\n", p.Description)
	}

	fmt.Fprintf(w, "authority:\t%s\n", p.Authority)
	fmt.Fprintf(w, "status:\t%s\n", view.Status)
	fmt.Fprintf(w, "ends at:\t%s\n", p.EndsAt().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "votes:\t%d\n", p.TotalVotes)

	if p.Quorum > 0 {
		fmt.Fprintf(w, "quorum:\t%d\n", p.Quorum)
	}

	if !p.GateMint.IsZero() {
		fmt.Fprintf(w, "gate:\t%d of %s\n", p.MinBalance, p.GateMint)
	}

	if p.IsRevealed {
		result := "rejected"
		if view.Outcome.Passed {
			result = "passed"
		}

		fmt.Fprintf(w, "results:\tyes %d, no %d, abstain %d\n", p.YesVotes, p.NoVotes, p.AbstainVotes)
		fmt.Fprintf(w, "outcome:\t%s (winner %s, %d bps)\n", result, view.Outcome.Winner, view.Outcome.YesBps)
	}

	w.Flush()
}

// createAction creates a proposal and initializes its tally.
//
// - implements node.ActionTemplate
type createAction struct{}

// Execute implements node.ActionTemplate.
func (createAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	gate := s.cfg.GateMint()

	if ctx.Flags.String("gate-mint") != "" {
		gate, err = parseAddress(ctx, "gate-mint")
		if err != nil {
			return err
		}
	}

	if ctx.Flags.Int("id") < 0 || ctx.Flags.Int("min-balance") < 0 || ctx.Flags.Int("quorum") < 0 {
		return xerrors.New("id, min balance and quorum cannot be negative")
	}

	tx := types.CreateProposalTransaction{
		ID:          uint64(ctx.Flags.Int("id")),
		Title:       ctx.Flags.String("title"),
		Description: ctx.Flags.String("description"),
		Duration:    int64(ctx.Flags.Duration("duration") / time.Second),
		GateMint:    gate,
		MinBalance:  uint64(ctx.Flags.Int("min-balance")),
		Quorum:      uint64(ctx.Flags.Int("quorum")),
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	addr, err := s.client.CreateProposal(callCtx, tx)
	if err != nil {
		return describe(err)
	}

	view, err := s.client.Proposal(callCtx, addr)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "created proposal #%d at %s", view.Proposal.ID, addr)

	return nil
}

// revealAction publishes the results of an ended proposal.
//
// - implements node.ActionTemplate
type revealAction struct{}

// Execute implements node.ActionTemplate.
func (revealAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	addr, err := parseAddress(ctx, "proposal")
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	view, err := s.client.Reveal(callCtx, addr)
	if err != nil {
		return describe(err)
	}

	printProposal(ctx.Out, view)

	return nil
}

// hideAction hides or shows again a proposal for an identity.
//
// - implements node.ActionTemplate
type hideAction struct {
	hide bool
}

// Execute implements node.ActionTemplate.
func (a hideAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	addr, err := parseAddress(ctx, "proposal")
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	if a.hide {
		err = s.client.Hide(addr)
	} else {
		err = s.client.Unhide(addr)
	}

	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "%d hidden proposals", len(s.client.Hidden()))

	return nil
}

// voteAction casts an encrypted vote and waits for its confirmation.
//
// - implements node.ActionTemplate
type voteAction struct{}

// Execute implements node.ActionTemplate.
func (voteAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	addr, err := parseAddress(ctx, "proposal")
	if err != nil {
		return err
	}

	choice, err := types.ParseChoice(ctx.Flags.String("choice"))
	if err != nil {
		return describe(err)
	}

	s.Lock()
	defer s.Unlock()

	signer, err := s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	timeout := ctx.Flags.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultVoteTimeout
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	flow, err := s.votes.CastVote(context.Background(), addr, choice, signer)
	if err != nil {
		return describe(err)
	}

	err = flow.Wait(waitCtx)
	if xerrors.Is(err, context.DeadlineExceeded) && flow.Err() == nil {
		return xerrors.Errorf("vote %s still %s, check the proposal later", flow.ID(), flow.State())
	}
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "vote %s confirmed (%s)", flow.ID(), flow.Signature())

	return nil
}

// delegateAction delegates the voting power of an identity.
//
// - implements node.ActionTemplate
type delegateAction struct{}

// Execute implements node.ActionTemplate.
func (delegateAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	to, err := parseAddress(ctx, "to")
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	err = s.client.Delegate(callCtx, to)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(ctx.Out, "delegated to %s", to)

	return nil
}

// revokeAction revokes the delegation of an identity.
//
// - implements node.ActionTemplate
type revokeAction struct{}

// Execute implements node.ActionTemplate.
func (revokeAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	_, err = s.use(ctx.Flags.String("key"))
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	err = s.client.Revoke(callCtx)
	if err != nil {
		return describe(err)
	}

	fmt.Fprint(ctx.Out, "delegation revoked")

	return nil
}

// activityAction shows the recent activity of the program, the newest
// first.
//
// - implements node.ActionTemplate
type activityAction struct{}

// Execute implements node.ActionTemplate.
func (activityAction) Execute(ctx node.Context) error {
	s, err := resolveSession(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := callContext(s)
	defer cancel()

	items, err := s.feed.Refresh(callCtx)
	if err != nil {
		return describe(err)
	}

	limit := ctx.Flags.Int("limit")
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	w := tabwriter.NewWriter(ctx.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGE\tKIND\tPROPOSAL\tACTOR\tSUMMARY")

	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.Age, item.Kind, item.Proposal, item.Actor, item.Summary)
	}

	return w.Flush()
}
